package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adstudio/internal/apperr"
	"adstudio/internal/gemini"
	"adstudio/internal/media"
	"adstudio/internal/storyboard"
)

type call struct {
	Model string
	Key   string
	Req   gemini.Request
}

type fakeProvider struct {
	mu      sync.Mutex
	calls   []call
	respond func(n int, req gemini.Request) (gemini.Response, error)

	ops       []gemini.Operation
	opCalls   int
	video     []byte
	startReqs []gemini.VideoRequest
}

func (f *fakeProvider) GenerateContent(_ context.Context, apiKey, model string, req gemini.Request) (gemini.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{Model: model, Key: apiKey, Req: req})
	n := len(f.calls)
	f.mu.Unlock()
	return f.respond(n, req)
}

func (f *fakeProvider) StartVideo(_ context.Context, _, _ string, req gemini.VideoRequest) (gemini.Operation, error) {
	f.startReqs = append(f.startReqs, req)
	return gemini.Operation{Name: "operations/v1"}, nil
}

func (f *fakeProvider) GetOperation(context.Context, string, string) (gemini.Operation, error) {
	op := f.ops[f.opCalls]
	f.opCalls++
	return op, nil
}

func (f *fakeProvider) Download(context.Context, string, string) ([]byte, string, error) {
	return f.video, "video/mp4", nil
}

type staticKey string

func (k staticKey) Get() (string, bool) { return string(k), k != "" }

func newClient(p *fakeProvider, opts ...func(*Options)) *Client {
	o := Options{
		Provider:          p,
		Keys:              staticKey("test-key"),
		RetryInterval:     time.Millisecond,
		VideoPollInterval: time.Millisecond,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return New(o)
}

func imageResp(data string) gemini.Response {
	return gemini.Response{Candidates: 1, Images: []media.Inline{{MimeType: "image/png", Data: data}}}
}

func textResp(text string) gemini.Response {
	return gemini.Response{Candidates: 1, Text: text}
}

func storyboardJSON(n int) string {
	type scene struct {
		ID          float64 `json:"id"`
		Title       string  `json:"title"`
		Description string  `json:"description"`
		Duration    float64 `json:"duration"`
	}
	scenes := make([]scene, n)
	for i := range scenes {
		scenes[i] = scene{ID: float64(100 + i), Title: fmt.Sprintf("scene %d", i), Description: "d", Duration: 2.5}
	}
	raw, _ := json.Marshal(map[string]any{
		"styleGuide": map[string]string{
			"artDirection": "a", "colorPalette": "b", "lightingStyle": "c",
			"editingStyle": "d", "overallToneAndMood": "e",
		},
		"scenes": scenes,
	})
	return string(raw)
}

func TestGenerateStoryboardSceneCount(t *testing.T) {
	tests := []struct {
		name     string
		duration int
		returned int
		want     int
		wantErr  bool
	}{
		{name: "exact", duration: 40, returned: 16, want: 16},
		{name: "floor clamp", duration: 5, returned: 4, want: 4},
		{name: "short duration", duration: 3, returned: 4, want: 4},
		{name: "extra scenes truncated", duration: 10, returned: 7, want: 4},
		{name: "too few scenes", duration: 40, returned: 10, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{respond: func(int, gemini.Request) (gemini.Response, error) {
				return textResp(storyboardJSON(tt.returned)), nil
			}}
			board, err := newClient(p).GenerateStoryboard(context.Background(), StoryboardRequest{
				Topic:       "coffee",
				DurationSec: tt.duration,
			})
			if tt.wantErr {
				assert.True(t, apperr.IsKind(err, apperr.KindProvider), "got %v", err)
				return
			}
			require.NoError(t, err)
			require.Len(t, board.Scenes, tt.want)
			for i, s := range board.Scenes {
				assert.Equal(t, i+1, s.ID)
				assert.Equal(t, []string{storyboard.PreviewPlaceholder(i + 1)}, s.PreviewImages)
				assert.Nil(t, s.Details)
			}
			assert.Equal(t, "16:9", board.AspectRatio)

			require.Len(t, p.calls, 1)
			assert.Equal(t, "test-key", p.calls[0].Key)
			assert.Equal(t, "application/json", p.calls[0].Req.ResponseMIMEType)
			require.NotNil(t, p.calls[0].Req.ResponseSchema)
		})
	}
}

func TestGenerateStoryboardValidation(t *testing.T) {
	p := &fakeProvider{respond: func(int, gemini.Request) (gemini.Response, error) {
		t.Fatal("provider must not be called")
		return gemini.Response{}, nil
	}}
	c := newClient(p)

	_, err := c.GenerateStoryboard(context.Background(), StoryboardRequest{Topic: " ", DurationSec: 10})
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))

	_, err = c.GenerateStoryboard(context.Background(), StoryboardRequest{Topic: "x", DurationSec: 0})
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))

	noKey := newClient(p, func(o *Options) { o.Keys = staticKey("") })
	_, err = noKey.GenerateStoryboard(context.Background(), StoryboardRequest{Topic: "x", DurationSec: 10})
	assert.True(t, apperr.IsKind(err, apperr.KindPrecondition))
}

func TestGenerateStoryboardBadResponses(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "not json", text: "sorry, I cannot"},
		{name: "missing style field", text: `{"styleGuide":{"artDirection":"a"},"scenes":[{},{},{},{}]}`},
		{name: "wrong type", text: `{"styleGuide":"x","scenes":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{respond: func(int, gemini.Request) (gemini.Response, error) {
				return textResp(tt.text), nil
			}}
			_, err := newClient(p).GenerateStoryboard(context.Background(), StoryboardRequest{Topic: "x", DurationSec: 10})
			assert.True(t, apperr.IsKind(err, apperr.KindProvider), "got %v", err)
		})
	}
}

func TestGenerateStoryboardStripsFences(t *testing.T) {
	p := &fakeProvider{respond: func(int, gemini.Request) (gemini.Response, error) {
		return textResp("```json\n" + storyboardJSON(4) + "\n```"), nil
	}}
	board, err := newClient(p).GenerateStoryboard(context.Background(), StoryboardRequest{Topic: "x", DurationSec: 10})
	require.NoError(t, err)
	assert.Len(t, board.Scenes, 4)
}

func framesRequest() FramesRequest {
	return FramesRequest{
		Scene:   storyboard.Scene{ID: 1, Description: "sip"},
		Model:   storyboard.Model{Name: "Mina", SheetImage: media.FormatDataURL("image/png", "U0hFRVQ=")},
		Product: storyboard.Product{Name: "Fizz", Images: []string{media.FormatDataURL("image/jpeg", "UDE="), media.FormatDataURL("image/jpeg", "UDI=")}},
	}
}

func imageData(req gemini.Request) []string {
	var out []string
	for _, img := range req.Images() {
		out = append(out, img.Data)
	}
	return out
}

func TestGenerateSceneFramesInputs(t *testing.T) {
	p := &fakeProvider{respond: func(n int, _ gemini.Request) (gemini.Response, error) {
		if n == 1 {
			return imageResp("U1RBUlQ="), nil
		}
		return imageResp("RU5E"), nil
	}}

	details, err := newClient(p).GenerateSceneFrames(context.Background(), framesRequest())
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,U1RBUlQ=", details.StartFrame)
	assert.Equal(t, "data:image/png;base64,RU5E", details.EndFrame)
	assert.NotEmpty(t, details.Prompt)

	require.Len(t, p.calls, 2)
	startInputs := imageData(p.calls[0].Req)
	endInputs := imageData(p.calls[1].Req)

	assert.ElementsMatch(t, []string{"U0hFRVQ=", "UDE=", "UDI="}, startInputs)
	assert.NotContains(t, startInputs, "U1RBUlQ=")

	assert.Subset(t, endInputs, []string{"U0hFRVQ=", "UDE=", "UDI=", "U1RBUlQ="})
	assert.Greater(t, len(endInputs), len(startInputs))
	assert.Equal(t, "16:9", p.calls[1].Req.AspectRatio)
	assert.Equal(t, []string{gemini.ModalityImage, gemini.ModalityText}, p.calls[0].Req.ResponseModalities)
}

func TestGenerateSceneFramesFailures(t *testing.T) {
	tests := []struct {
		name      string
		resp      gemini.Response
		wantKind  apperr.Kind
		wantCalls int
	}{
		{
			name:      "prompt blocked",
			resp:      gemini.Response{BlockReason: "SAFETY", SafetyRatings: []gemini.SafetyRating{{Category: "HARM_CATEGORY_HARASSMENT", Probability: "HIGH"}}},
			wantKind:  apperr.KindBlocked,
			wantCalls: 1,
		},
		{
			name:      "candidate blocked",
			resp:      gemini.Response{Candidates: 1, FinishReason: "IMAGE_SAFETY"},
			wantKind:  apperr.KindBlocked,
			wantCalls: 1,
		},
		{
			name:      "text only",
			resp:      gemini.Response{Candidates: 1, Text: "I can only describe it", FinishReason: "STOP"},
			wantKind:  apperr.KindNoImage,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{respond: func(int, gemini.Request) (gemini.Response, error) {
				return tt.resp, nil
			}}
			_, err := newClient(p, func(o *Options) { o.MaxRetries = 3 }).GenerateSceneFrames(context.Background(), framesRequest())
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, apperr.KindOf(err))
			assert.Len(t, p.calls, tt.wantCalls)

			var appErr *apperr.Error
			require.True(t, errors.As(err, &appErr))
			if tt.wantKind == apperr.KindBlocked {
				assert.NotEmpty(t, appErr.Reason)
			}
		})
	}
}

func TestGenerateSceneFramesNeedsSheet(t *testing.T) {
	req := framesRequest()
	req.Model.SheetImage = ""
	_, err := newClient(&fakeProvider{}).GenerateSceneFrames(context.Background(), req)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))
}

func TestRetryPolicy(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		err        error
		wantCalls  int
	}{
		{name: "no retries by default", maxRetries: 0, err: &gemini.APIError{StatusCode: http.StatusServiceUnavailable}, wantCalls: 1},
		{name: "transient retried", maxRetries: 2, err: &gemini.APIError{StatusCode: http.StatusTooManyRequests}, wantCalls: 3},
		{name: "client error not retried", maxRetries: 2, err: &gemini.APIError{StatusCode: http.StatusBadRequest}, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{respond: func(int, gemini.Request) (gemini.Response, error) {
				return gemini.Response{}, tt.err
			}}
			c := newClient(p, func(o *Options) { o.MaxRetries = tt.maxRetries })
			_, err := c.SuggestSceneRewrite(context.Background(), nil, &storyboard.Scene{ID: 1}, nil)
			assert.True(t, apperr.IsKind(err, apperr.KindProvider), "got %v", err)
			assert.Len(t, p.calls, tt.wantCalls)
		})
	}
}

func TestRetryRecovers(t *testing.T) {
	p := &fakeProvider{respond: func(n int, _ gemini.Request) (gemini.Response, error) {
		if n == 1 {
			return gemini.Response{}, errors.New("connection reset")
		}
		return textResp("  tighten the hook  "), nil
	}}
	got, err := newClient(p, func(o *Options) { o.MaxRetries = 1 }).
		SuggestSceneRewrite(context.Background(), nil, &storyboard.Scene{ID: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, "tighten the hook", got)
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &fakeProvider{respond: func(int, gemini.Request) (gemini.Response, error) {
		cancel()
		return gemini.Response{}, context.Canceled
	}}
	_, err := newClient(p, func(o *Options) { o.MaxRetries = 3 }).
		SuggestSceneRewrite(ctx, nil, &storyboard.Scene{ID: 1}, nil)
	assert.True(t, apperr.IsKind(err, apperr.KindCanceled), "got %v", err)
	assert.Len(t, p.calls, 1)
}

func adaptRequest(platform storyboard.Platform) AdaptRequest {
	return AdaptRequest{
		OriginalPrompt:   "prompt",
		SceneDescription: "scene",
		StartFrame:       media.FormatDataURL("image/png", "U1RBUlQ="),
		Platform:         platform,
	}
}

func TestAdaptPromptStructured(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "valid json is pretty printed",
			text: `{"prompt":"p","motion":{"camera_movement":"dolly"}}`,
			want: "{\n  \"prompt\": \"p\",\n  \"motion\": {\n    \"camera_movement\": \"dolly\"\n  }\n}",
		},
		{
			name: "invalid json returns raw text",
			text: `{"prompt": "p", "motion": `,
			want: `{"prompt": "p", "motion":`,
		},
		{
			name: "empty reply returns empty text",
			text: "",
			want: "",
		},
		{
			name: "whitespace reply returns empty text",
			text: "   ",
			want: "",
		},
		{
			name: "prose returns raw text",
			text: "slow dolly in on the bottle",
			want: "slow dolly in on the bottle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{respond: func(int, gemini.Request) (gemini.Response, error) {
				return textResp(tt.text), nil
			}}
			got, err := newClient(p).AdaptPrompt(context.Background(), adaptRequest(storyboard.PlatformVeo3))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			require.Len(t, p.calls, 1)
			assert.Equal(t, "application/json", p.calls[0].Req.ResponseMIMEType)
			assert.Equal(t, []string{"U1RBUlQ="}, imageData(p.calls[0].Req))
		})
	}
}

func TestAdaptPromptFreeform(t *testing.T) {
	p := &fakeProvider{respond: func(int, gemini.Request) (gemini.Response, error) {
		return textResp("  crane up over the city  "), nil
	}}
	got, err := newClient(p).AdaptPrompt(context.Background(), adaptRequest(storyboard.PlatformKling))
	require.NoError(t, err)
	assert.Equal(t, "crane up over the city", got)
	assert.Empty(t, p.calls[0].Req.ResponseMIMEType)

	_, err = newClient(p).AdaptPrompt(context.Background(), adaptRequest("Sora"))
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))
}

func TestEditImage(t *testing.T) {
	src := media.FormatDataURL("image/png", "U1JD")
	mask := media.FormatDataURL("image/png", "TUFTSw==")

	t.Run("mask and references are sent after the source", func(t *testing.T) {
		p := &fakeProvider{respond: func(int, gemini.Request) (gemini.Response, error) {
			return imageResp("RURJVA=="), nil
		}}
		got, err := newClient(p).EditImage(context.Background(), EditRequest{
			Image:       src,
			Instruction: "add rain",
			ShotTypes:   []string{"Low Angle"},
			Mask:        mask,
			References:  []string{media.FormatDataURL("image/png", "UkVG")},
		})
		require.NoError(t, err)
		assert.Equal(t, "data:image/png;base64,RURJVA==", got)
		assert.Equal(t, []string{"U1JD", "TUFTSw==", "UkVG"}, imageData(p.calls[0].Req))
	})

	t.Run("missing image returns placeholder", func(t *testing.T) {
		p := &fakeProvider{respond: func(int, gemini.Request) (gemini.Response, error) {
			return textResp("no can do"), nil
		}}
		got, err := newClient(p).EditImage(context.Background(), EditRequest{Image: src, Instruction: "x"})
		require.NoError(t, err)
		assert.Equal(t, storyboard.EditErrorImage, got)
	})

	t.Run("block is an error", func(t *testing.T) {
		p := &fakeProvider{respond: func(int, gemini.Request) (gemini.Response, error) {
			return gemini.Response{BlockReason: "OTHER"}, nil
		}}
		_, err := newClient(p).EditImage(context.Background(), EditRequest{Image: src, Instruction: "x"})
		assert.True(t, apperr.IsKind(err, apperr.KindBlocked))
	})

	t.Run("too many references", func(t *testing.T) {
		refs := make([]string, MaxEditReferences+1)
		for i := range refs {
			refs[i] = src
		}
		_, err := newClient(&fakeProvider{}).EditImage(context.Background(), EditRequest{Image: src, Instruction: "x", References: refs})
		assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))
	})
}

func TestGenerateMusicPrompt(t *testing.T) {
	board := &storyboard.Storyboard{
		StyleGuide: storyboard.StyleGuide{ArtDirection: "bright"},
		Scenes:     []storyboard.Scene{{ID: 1, Title: "t", Description: "d"}},
	}
	p := &fakeProvider{respond: func(n int, _ gemini.Request) (gemini.Response, error) {
		if n == 1 {
			return textResp("A short summary."), nil
		}
		return textResp(`{"stylePrompt":"indie pop, upbeat","lyrics":""}`), nil
	}}

	got, err := newClient(p).GenerateMusicPrompt(context.Background(), board)
	require.NoError(t, err)
	assert.Equal(t, storyboard.MusicPrompt{StylePrompt: "indie pop, upbeat"}, got)
	require.Len(t, p.calls, 2)
	assert.Contains(t, p.calls[1].Req.Parts[0].Text, "A short summary.")

	_, err = newClient(p).GenerateMusicPrompt(context.Background(), nil)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))
}

func TestRewriteScene(t *testing.T) {
	p := &fakeProvider{respond: func(int, gemini.Request) (gemini.Response, error) {
		return textResp(`{"title":"New","description":"Better"}`), nil
	}}
	c := newClient(p)

	got, err := c.RewriteScene(context.Background(), &storyboard.Scene{ID: 2, Title: "Old"}, "make it funnier")
	require.NoError(t, err)
	assert.Equal(t, SceneRewrite{Title: "New", Description: "Better"}, got)

	_, err = c.RewriteScene(context.Background(), nil, "x")
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))

	p.respond = func(int, gemini.Request) (gemini.Response, error) { return textResp(`{"title":""}`), nil }
	_, err = c.RewriteScene(context.Background(), &storyboard.Scene{ID: 2}, "x")
	assert.True(t, apperr.IsKind(err, apperr.KindProvider))
}

func TestSuggestSceneRewrite(t *testing.T) {
	p := &fakeProvider{respond: func(int, gemini.Request) (gemini.Response, error) {
		return textResp("  Open on the product.\n"), nil
	}}
	c := newClient(p)
	prev := &storyboard.Scene{ID: 1, Title: "Beach"}
	next := &storyboard.Scene{ID: 3, Title: "Sunset"}

	got, err := c.SuggestSceneRewrite(context.Background(), prev, &storyboard.Scene{ID: 2, Title: "Pier"}, next)
	require.NoError(t, err)
	assert.Equal(t, "Open on the product.", got)
	require.Len(t, p.calls, 1)
	text := p.calls[0].Req.Parts[0].Text
	assert.Contains(t, text, "Beach")
	assert.Contains(t, text, "Sunset")

	_, err = c.SuggestSceneRewrite(context.Background(), prev, nil, next)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))

	p.respond = func(int, gemini.Request) (gemini.Response, error) { return textResp(" "), nil }
	_, err = c.SuggestSceneRewrite(context.Background(), nil, &storyboard.Scene{ID: 1}, nil)
	assert.True(t, apperr.IsKind(err, apperr.KindProvider))
}

func TestGenerateModelSheet(t *testing.T) {
	ref := media.FormatDataURL("image/jpeg", "UkVG")
	p := &fakeProvider{respond: func(int, gemini.Request) (gemini.Response, error) {
		return imageResp("U0hFRVQ="), nil
	}}
	c := newClient(p)

	got, err := c.GenerateModelSheet(context.Background(), ModelSheetRequest{Name: "Mina", Images: []string{ref, ref}})
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,U0hFRVQ=", got)
	assert.Len(t, imageData(p.calls[0].Req), 2)

	_, err = c.GenerateModelSheet(context.Background(), ModelSheetRequest{Name: "Mina", Images: []string{ref, ref, ref, ref, ref}})
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))
}

func TestGenerateBlockPrompt(t *testing.T) {
	p := &fakeProvider{respond: func(int, gemini.Request) (gemini.Response, error) {
		return textResp("STYLE: x; PARAMETERS: --ar 16:9\n"), nil
	}}
	got, err := newClient(p).GenerateBlockPrompt(context.Background(), BlockPromptRequest{
		OriginalPrompt: "p", SceneDescription: "s", Frame: storyboard.FrameStart,
	})
	require.NoError(t, err)
	assert.Equal(t, "STYLE: x; PARAMETERS: --ar 16:9", got)

	_, err = newClient(p).GenerateBlockPrompt(context.Background(), BlockPromptRequest{SceneDescription: "s", Frame: "middle"})
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))
}

func TestGenerateSceneVideo(t *testing.T) {
	p := &fakeProvider{
		ops: []gemini.Operation{
			{Name: "operations/v1"},
			{Name: "operations/v1", Done: true, VideoURIs: []string{"https://files/v"}},
		},
		video: []byte("mp4"),
	}
	got, err := newClient(p).GenerateSceneVideo(context.Background(), VideoRequest{
		Prompt:      "pan",
		StartFrame:  media.FormatDataURL("image/png", "U1RBUlQ="),
		AspectRatio: "4:3",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "data:video/mp4;base64,"))
	assert.Equal(t, 2, p.opCalls)
	require.Len(t, p.startReqs, 1)
	assert.Empty(t, p.startReqs[0].AspectRatio)
	assert.Equal(t, "U1RBUlQ=", p.startReqs[0].Image.Data)
}

func TestGenerateSceneVideoFailure(t *testing.T) {
	p := &fakeProvider{ops: []gemini.Operation{{Name: "operations/v1", Done: true, ErrorMsg: "quota"}}}
	_, err := newClient(p).GenerateSceneVideo(context.Background(), VideoRequest{
		Prompt:     "pan",
		StartFrame: media.FormatDataURL("image/png", "U1RBUlQ="),
	})
	assert.True(t, apperr.IsKind(err, apperr.KindProvider))
	assert.Contains(t, err.Error(), "quota")
}
