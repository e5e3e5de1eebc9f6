package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adstudio/internal/apperr"
	"adstudio/internal/assets"
	"adstudio/internal/generation"
	"adstudio/internal/notify"
	"adstudio/internal/storyboard"
)

type fakeGen struct {
	mu          sync.Mutex
	frameCalls  []int
	scenes      int
	storyErr    error
	frameErr    map[int]error
	frameHook   func(ctx context.Context, sceneID int) error
	adaptHook   func(ctx context.Context) error
	musicCalls  int
	videoPrompt string
}

func (f *fakeGen) GenerateStoryboard(_ context.Context, req generation.StoryboardRequest) (*storyboard.Storyboard, error) {
	if f.storyErr != nil {
		return nil, f.storyErr
	}
	n := f.scenes
	if n == 0 {
		n = storyboard.SceneCount(req.DurationSec)
	}
	board := &storyboard.Storyboard{
		StyleGuide:  storyboard.StyleGuide{ArtDirection: "a", ColorPalette: "b", LightingStyle: "c", EditingStyle: "d", OverallToneAndMood: "e"},
		AspectRatio: "16:9",
	}
	for i := 1; i <= n; i++ {
		board.Scenes = append(board.Scenes, storyboard.Scene{
			ID:            i,
			Title:         fmt.Sprintf("Scene %d", i),
			Description:   fmt.Sprintf("description %d", i),
			PreviewImages: []string{storyboard.PreviewPlaceholder(i)},
		})
	}
	return board, nil
}

func (f *fakeGen) GenerateSceneFrames(ctx context.Context, req generation.FramesRequest) (storyboard.SceneDetails, error) {
	f.mu.Lock()
	f.frameCalls = append(f.frameCalls, req.Scene.ID)
	err := f.frameErr[req.Scene.ID]
	hook := f.frameHook
	f.mu.Unlock()

	if hook != nil {
		if herr := hook(ctx, req.Scene.ID); herr != nil {
			return storyboard.SceneDetails{}, herr
		}
	}
	if err != nil {
		return storyboard.SceneDetails{}, err
	}
	return storyboard.SceneDetails{
		StartFrame: fmt.Sprintf("data:image/png;base64,start%d", req.Scene.ID),
		EndFrame:   fmt.Sprintf("data:image/png;base64,end%d", req.Scene.ID),
		Prompt:     fmt.Sprintf("prompt %d", req.Scene.ID),
	}, nil
}

func (f *fakeGen) AdaptPrompt(ctx context.Context, req generation.AdaptRequest) (string, error) {
	if f.adaptHook != nil {
		if err := f.adaptHook(ctx); err != nil {
			return "", err
		}
	}
	return string(req.Platform) + ": " + req.OriginalPrompt, nil
}

func (f *fakeGen) GenerateBlockPrompt(_ context.Context, req generation.BlockPromptRequest) (string, error) {
	return "STYLE: " + string(req.Frame), nil
}

func (f *fakeGen) GenerateMusicPrompt(context.Context, *storyboard.Storyboard) (storyboard.MusicPrompt, error) {
	f.mu.Lock()
	f.musicCalls++
	f.mu.Unlock()
	return storyboard.MusicPrompt{StylePrompt: "lofi", Lyrics: "la la"}, nil
}

func (f *fakeGen) GenerateSceneVideo(_ context.Context, req generation.VideoRequest) (string, error) {
	f.mu.Lock()
	f.videoPrompt = req.Prompt
	f.mu.Unlock()
	return "data:video/mp4;base64,AAAA", nil
}

func (f *fakeGen) calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.frameCalls...)
}

type keySet bool

func (k keySet) IsSet() bool { return bool(k) }

func newRegistry(t *testing.T) *assets.Registry {
	t.Helper()
	r := assets.NewRegistry()
	require.NoError(t, r.AddModel(storyboard.Model{Name: "Mina", SheetImage: "data:image/png;base64,c2hlZXQ="}))
	require.NoError(t, r.AddProduct(storyboard.Product{Name: "Fizz", Images: []string{"data:image/png;base64,cHJvZA=="}}))
	return r
}

func newController(t *testing.T, gen *fakeGen) (*Controller, *notify.Recorder) {
	t.Helper()
	rec := &notify.Recorder{}
	c := New(Options{
		Generator:   gen,
		Credentials: keySet(true),
		Assets:      newRegistry(t),
		Notifier:    rec,
		Session:     "s1",
	})
	return c, rec
}

func validRequest() Request {
	return Request{Topic: "Sparkling water", Duration: "10"}
}

func TestRunRendersEveryScene(t *testing.T) {
	gen := &fakeGen{}
	c, rec := newController(t, gen)

	var phases []Phase
	var mu sync.Mutex
	unsub := c.Subscribe(func(s Snapshot) {
		mu.Lock()
		phases = append(phases, s.Phase)
		mu.Unlock()
	})
	defer unsub()

	runID, err := c.Run(context.Background(), validRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	snap := c.Snapshot()
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.Equal(t, runID, snap.RunID)
	require.NotNil(t, snap.Storyboard)
	require.Len(t, snap.Storyboard.Scenes, 4)
	assert.Equal(t, 1, snap.SelectedSceneID)
	for _, s := range snap.Storyboard.Scenes {
		require.NotNil(t, s.Details, "scene %d", s.ID)
		assert.Equal(t, []string{s.Details.StartFrame}, s.PreviewImages)
	}
	assert.Equal(t, []int{1, 2, 3, 4}, gen.calls())

	mu.Lock()
	assert.Equal(t, PhaseStoryboard, phases[0])
	assert.Contains(t, phases, PhaseFrames)
	assert.Equal(t, PhaseIdle, phases[len(phases)-1])
	mu.Unlock()

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notify.LevelInfo, events[0].Level)
	assert.Equal(t, "s1", events[0].Session)
	assert.Equal(t, "data:image/png;base64,start1", events[0].Image)
}

func TestRunKeepsScenesBeforeFailure(t *testing.T) {
	gen := &fakeGen{
		scenes:   4,
		frameErr: map[int]error{3: apperr.Blocked("start frame was blocked", "SAFETY", "")},
	}
	c, rec := newController(t, gen)

	_, err := c.Run(context.Background(), validRequest())
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindBlocked))

	snap := c.Snapshot()
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.Zero(t, snap.CurrentSceneID)
	scenes := snap.Storyboard.Scenes
	assert.NotNil(t, scenes[0].Details)
	assert.NotNil(t, scenes[1].Details)
	assert.Nil(t, scenes[2].Details)
	assert.Nil(t, scenes[3].Details)
	assert.Equal(t, []int{1, 2, 3}, gen.calls())

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notify.LevelError, events[0].Level)
	assert.Equal(t, string(apperr.KindBlocked), events[0].Kind)
	assert.Contains(t, events[0].Message, "scene 3")
	require.NotNil(t, snap.LastNotification)
	assert.Equal(t, notify.LevelError, snap.LastNotification.Level)
}

func TestRunStoryboardFailure(t *testing.T) {
	gen := &fakeGen{storyErr: apperr.Provider(nil, "storyboard response is not valid JSON")}
	c, rec := newController(t, gen)

	_, err := c.Run(context.Background(), validRequest())
	require.Error(t, err)

	snap := c.Snapshot()
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.Nil(t, snap.Storyboard)
	assert.Empty(t, gen.calls())
	require.Len(t, rec.Events(), 1)
	assert.Equal(t, string(apperr.KindProvider), rec.Events()[0].Kind)
}

func TestPreconditions(t *testing.T) {
	tests := []struct {
		name    string
		creds   keySet
		assets  func(t *testing.T) *assets.Registry
		req     Request
		message string
	}{
		{name: "no key", creds: false, assets: newRegistry, req: validRequest(), message: "API key"},
		{name: "empty topic", creds: true, assets: newRegistry, req: Request{Topic: "  ", Duration: "10"}, message: "topic"},
		{
			name:  "no model",
			creds: true,
			assets: func(t *testing.T) *assets.Registry {
				r := assets.NewRegistry()
				require.NoError(t, r.AddProduct(storyboard.Product{Name: "Fizz", Images: []string{"x"}}))
				return r
			},
			req:     validRequest(),
			message: "model",
		},
		{
			name:  "no product",
			creds: true,
			assets: func(t *testing.T) *assets.Registry {
				r := assets.NewRegistry()
				require.NoError(t, r.AddModel(storyboard.Model{Name: "Mina", SheetImage: "x"}))
				return r
			},
			req:     validRequest(),
			message: "product",
		},
		{name: "zero duration", creds: true, assets: newRegistry, req: Request{Topic: "t", Duration: "0"}, message: "positive"},
		{name: "text duration", creds: true, assets: newRegistry, req: Request{Topic: "t", Duration: "ten"}, message: "whole number"},
		{name: "unknown model", creds: true, assets: newRegistry, req: Request{Topic: "t", Duration: "5", ModelName: "Joon"}, message: "Joon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGen{}
			rec := &notify.Recorder{}
			c := New(Options{Generator: gen, Credentials: tt.creds, Assets: tt.assets(t), Notifier: rec})
			before := c.Snapshot()

			_, err := c.Run(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, apperr.KindPrecondition))
			assert.Contains(t, err.Error(), tt.message)

			assert.Equal(t, before, c.Snapshot())
			require.Len(t, rec.Events(), 1)
			assert.Equal(t, string(apperr.KindPrecondition), rec.Events()[0].Kind)
		})
	}
}

func TestParseDuration(t *testing.T) {
	n, err := ParseDuration(" 40 ")
	require.NoError(t, err)
	assert.Equal(t, 40, n)

	for _, in := range []string{"", "-3", "2.5", "abc"} {
		_, err := ParseDuration(in)
		assert.Error(t, err, in)
	}
}

func TestStartRejectsSecondRunAndCancels(t *testing.T) {
	entered := make(chan struct{})
	gen := &fakeGen{scenes: 4}
	gen.frameHook = func(ctx context.Context, sceneID int) error {
		if sceneID == 2 {
			close(entered)
			<-ctx.Done()
			return apperr.Wrap(ctx.Err(), apperr.KindCanceled, "request canceled")
		}
		return nil
	}
	c, rec := newController(t, gen)

	_, err := c.Start(context.Background(), validRequest())
	require.NoError(t, err)
	<-entered

	snap := c.Snapshot()
	assert.Equal(t, PhaseFrames, snap.Phase)
	assert.Equal(t, 2, snap.CurrentSceneID)

	_, err = c.Start(context.Background(), validRequest())
	assert.True(t, apperr.IsKind(err, apperr.KindPrecondition))

	assert.True(t, c.Cancel())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))

	snap = c.Snapshot()
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.NotNil(t, snap.Storyboard.Scenes[0].Details)
	assert.Nil(t, snap.Storyboard.Scenes[1].Details)
	assert.Equal(t, []int{1, 2}, gen.calls())
	assert.False(t, c.Cancel())

	events := rec.Events()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, string(apperr.KindCanceled), last.Kind)
}

func TestNewRunResetsDerivedState(t *testing.T) {
	gen := &fakeGen{}
	c, _ := newController(t, gen)
	ctx := context.Background()

	_, err := c.Run(ctx, validRequest())
	require.NoError(t, err)
	_, err = c.AdaptPrompt(ctx, 1, "kling")
	require.NoError(t, err)
	_, err = c.GenerateMusicPrompt(ctx)
	require.NoError(t, err)
	require.NoError(t, c.SelectScene(3))

	gen.storyErr = apperr.Provider(nil, "down")
	_, err = c.Run(ctx, validRequest())
	require.Error(t, err)

	snap := c.Snapshot()
	assert.Nil(t, snap.Storyboard)
	assert.Zero(t, snap.SelectedSceneID)
	assert.Empty(t, snap.AdaptedPrompts.Prompts)
	assert.Nil(t, snap.MusicPrompt)
}

func TestSelectSceneClearsDerivedState(t *testing.T) {
	c, _ := newController(t, &fakeGen{})
	ctx := context.Background()
	_, err := c.Run(ctx, validRequest())
	require.NoError(t, err)

	out, err := c.AdaptPrompt(ctx, 1, "VEO-3")
	require.NoError(t, err)
	assert.Equal(t, "VEO-3: prompt 1", out)
	_, err = c.GenerateBlockPrompt(ctx, 1, storyboard.FrameEnd)
	require.NoError(t, err)
	_, err = c.GenerateMusicPrompt(ctx)
	require.NoError(t, err)

	snap := c.Snapshot()
	assert.Equal(t, 1, snap.AdaptedPrompts.SceneID)
	assert.Equal(t, "VEO-3: prompt 1", snap.AdaptedPrompts.Prompts[storyboard.PlatformVeo3])
	assert.Equal(t, "STYLE: end", snap.BlockPrompts.End)
	require.NotNil(t, snap.MusicPrompt)

	require.NoError(t, c.SelectScene(2))
	snap = c.Snapshot()
	assert.Equal(t, 2, snap.SelectedSceneID)
	assert.Empty(t, snap.AdaptedPrompts.Prompts)
	assert.Empty(t, snap.BlockPrompts.End)
	assert.Nil(t, snap.MusicPrompt)

	assert.True(t, apperr.IsKind(c.SelectScene(99), apperr.KindInvalidInput))
}

func TestFollowUpRequiresSelectedScene(t *testing.T) {
	c, _ := newController(t, &fakeGen{})
	ctx := context.Background()

	_, err := c.AdaptPrompt(ctx, 1, "Kling")
	assert.True(t, apperr.IsKind(err, apperr.KindPrecondition))

	_, err = c.Run(ctx, validRequest())
	require.NoError(t, err)

	_, err = c.AdaptPrompt(ctx, 2, "Kling")
	assert.True(t, apperr.IsKind(err, apperr.KindPrecondition))

	_, err = c.AdaptPrompt(ctx, 1, "Sora")
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))
}

func TestStaleAdaptationIsReturnedButNotStored(t *testing.T) {
	gen := &fakeGen{}
	c, _ := newController(t, gen)
	ctx := context.Background()
	_, err := c.Run(ctx, validRequest())
	require.NoError(t, err)

	started := make(chan struct{})
	proceed := make(chan struct{})
	gen.adaptHook = func(context.Context) error {
		close(started)
		<-proceed
		return nil
	}

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := c.AdaptPrompt(ctx, 1, "HaiLuo")
		done <- result{out, err}
	}()

	<-started
	assert.True(t, c.Snapshot().Busy[TaskAdapt])
	_, err = c.AdaptPrompt(ctx, 1, "Kling")
	assert.True(t, apperr.IsKind(err, apperr.KindPrecondition))

	require.NoError(t, c.SelectScene(2))
	close(proceed)
	res := <-done

	require.NoError(t, res.err)
	assert.Equal(t, "HaiLuo: prompt 1", res.out)

	snap := c.Snapshot()
	assert.False(t, snap.Busy[TaskAdapt])
	assert.Empty(t, snap.AdaptedPrompts.Prompts)
}

func TestSaveEditedFrameAndRewrite(t *testing.T) {
	c, _ := newController(t, &fakeGen{})
	ctx := context.Background()
	_, err := c.Run(ctx, validRequest())
	require.NoError(t, err)

	target, scene, err := c.CurrentTarget(2)
	require.NoError(t, err)
	assert.Equal(t, "Scene 2", scene.Title)

	require.NoError(t, c.SaveEditedFrame(target, storyboard.FrameStart, "data:image/png;base64,edited"))
	require.NoError(t, c.ApplySceneRewrite(target, "New title", "New description"))

	got := c.Snapshot().Storyboard.Scenes[1]
	assert.Equal(t, "data:image/png;base64,edited", got.Details.StartFrame)
	assert.Equal(t, "data:image/png;base64,end2", got.Details.EndFrame)
	assert.Equal(t, []string{"data:image/png;base64,edited"}, got.PreviewImages)
	assert.Equal(t, "New title", got.Title)

	assert.True(t, apperr.IsKind(c.ApplySceneRewrite(target, "", "x"), apperr.KindInvalidInput))

	_, err = c.Run(ctx, validRequest())
	require.NoError(t, err)
	err = c.SaveEditedFrame(target, storyboard.FrameEnd, "data:image/png;base64,late")
	assert.True(t, apperr.IsKind(err, apperr.KindPrecondition))
}

func TestRetryFrames(t *testing.T) {
	gen := &fakeGen{
		scenes:   4,
		frameErr: map[int]error{2: apperr.NoImage("no image", "")},
	}
	c, _ := newController(t, gen)
	ctx := context.Background()

	_, err := c.Run(ctx, validRequest())
	require.Error(t, err)

	gen.mu.Lock()
	gen.frameErr = nil
	gen.mu.Unlock()

	require.NoError(t, c.RetryFrames(ctx, 2))
	snap := c.Snapshot()
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.NotNil(t, snap.Storyboard.Scenes[1].Details)
	assert.Nil(t, snap.Storyboard.Scenes[2].Details)
	assert.Equal(t, []int{1, 2, 2}, gen.calls())

	assert.True(t, apperr.IsKind(c.RetryFrames(ctx, 42), apperr.KindPrecondition))
}

func TestSceneVideoUsesAdaptedPrompt(t *testing.T) {
	gen := &fakeGen{}
	c, _ := newController(t, gen)
	ctx := context.Background()
	_, err := c.Run(ctx, validRequest())
	require.NoError(t, err)

	_, err = c.AdaptPrompt(ctx, 1, "veo-3")
	require.NoError(t, err)
	url, err := c.GenerateSceneVideo(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, url, c.Snapshot().Storyboard.Scenes[0].VideoURL)
	gen.mu.Lock()
	assert.Contains(t, gen.videoPrompt, "VEO-3: prompt 1")
	gen.mu.Unlock()
}
