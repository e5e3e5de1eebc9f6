package pipeline

import (
	"context"
	"fmt"
	"strings"

	"adstudio/internal/apperr"
	"adstudio/internal/generation"
	"adstudio/internal/prompt"
	"adstudio/internal/storyboard"
)

// acquire marks task busy for the selected scene and returns the target the
// result will be applied to. sceneID 0 targets the storyboard as a whole.
func (c *Controller) acquire(task Task, sceneID int) (Target, *storyboard.Storyboard, storyboard.Scene, error) {
	c.mu.Lock()
	if c.busy[task] {
		c.mu.Unlock()
		return Target{}, nil, storyboard.Scene{}, apperr.Precondition("%s is already in progress", strings.ReplaceAll(string(task), "_", " "))
	}
	if c.board == nil {
		c.mu.Unlock()
		return Target{}, nil, storyboard.Scene{}, apperr.Precondition("no storyboard has been generated")
	}
	var scene storyboard.Scene
	if sceneID != 0 {
		if sceneID != c.selected {
			c.mu.Unlock()
			return Target{}, nil, storyboard.Scene{}, apperr.Precondition("scene %d is not the selected scene", sceneID)
		}
		s, ok := c.board.Scene(sceneID)
		if !ok {
			c.mu.Unlock()
			return Target{}, nil, storyboard.Scene{}, apperr.InvalidInput("scene %d does not exist", sceneID)
		}
		scene = s.Clone()
	}

	c.busy[task] = true
	t := Target{Epoch: c.epoch, SceneID: sceneID, Selection: c.selection}
	board := c.board.Clone()
	snap := c.commitLocked()
	c.mu.Unlock()
	c.publish(snap)
	return t, board, scene, nil
}

// release clears the busy flag and, when the target still matches the
// current storyboard and selection, applies the result.
func (c *Controller) release(task Task, t Target, apply func()) {
	c.mu.Lock()
	c.busy[task] = false
	if apply != nil && c.epoch == t.Epoch && c.selection == t.Selection {
		apply()
	}
	snap := c.commitLocked()
	c.mu.Unlock()
	c.publish(snap)
}

func requireFrames(scene storyboard.Scene) error {
	if scene.Details == nil || scene.Details.StartFrame == "" {
		return apperr.Precondition("scene %d has no generated frames yet", scene.ID)
	}
	return nil
}

// AdaptPrompt rewrites the selected scene's prompt for a video platform. The
// result is stored only if the scene is still selected; it is returned either
// way.
func (c *Controller) AdaptPrompt(ctx context.Context, sceneID int, platform string) (string, error) {
	pf, err := storyboard.LookupPlatform(platform)
	if err != nil {
		return "", apperr.InvalidInput("%v", err)
	}
	t, _, scene, err := c.acquire(TaskAdapt, sceneID)
	if err != nil {
		return "", err
	}
	if err := requireFrames(scene); err != nil {
		c.release(TaskAdapt, t, nil)
		return "", err
	}

	out, err := c.gen.AdaptPrompt(ctx, generation.AdaptRequest{
		OriginalPrompt:   scene.Details.Prompt,
		SceneDescription: scene.Description,
		StartFrame:       scene.Details.StartFrame,
		Platform:         pf.Platform,
	})
	if err != nil {
		c.release(TaskAdapt, t, nil)
		c.report(ctx, failureEvent(fmt.Sprintf("Adapting scene %d for %s failed", sceneID, pf.Platform), err))
		return "", err
	}

	c.release(TaskAdapt, t, func() {
		if c.adapted.SceneID != sceneID {
			c.adapted = storyboard.AdaptedPrompts{SceneID: sceneID, Prompts: map[storyboard.Platform]string{}}
		}
		c.adapted.Prompts[pf.Platform] = out
	})
	return out, nil
}

// GenerateBlockPrompt builds the labelled block prompt for one frame of the
// selected scene.
func (c *Controller) GenerateBlockPrompt(ctx context.Context, sceneID int, frame storyboard.Frame) (string, error) {
	t, _, scene, err := c.acquire(TaskBlockPrompt, sceneID)
	if err != nil {
		return "", err
	}
	if err := requireFrames(scene); err != nil {
		c.release(TaskBlockPrompt, t, nil)
		return "", err
	}

	out, err := c.gen.GenerateBlockPrompt(ctx, generation.BlockPromptRequest{
		OriginalPrompt:   scene.Details.Prompt,
		SceneDescription: scene.Description,
		Frame:            frame,
	})
	if err != nil {
		c.release(TaskBlockPrompt, t, nil)
		c.report(ctx, failureEvent(fmt.Sprintf("Block prompt for scene %d failed", sceneID), err))
		return "", err
	}

	c.release(TaskBlockPrompt, t, func() {
		if c.blocks.SceneID != sceneID {
			c.blocks = storyboard.BlockPrompts{SceneID: sceneID}
		}
		c.blocks.Put(frame, out)
	})
	return out, nil
}

// GenerateMusicPrompt derives a music prompt from the style guide and a
// summary of the whole storyboard. The previous music prompt is cleared when
// the call starts.
func (c *Controller) GenerateMusicPrompt(ctx context.Context) (storyboard.MusicPrompt, error) {
	t, board, _, err := c.acquire(TaskMusic, 0)
	if err != nil {
		return storyboard.MusicPrompt{}, err
	}
	c.mu.Lock()
	c.music = nil
	snap := c.commitLocked()
	c.mu.Unlock()
	c.publish(snap)

	out, err := c.gen.GenerateMusicPrompt(ctx, board)
	if err != nil {
		c.release(TaskMusic, t, nil)
		c.report(ctx, failureEvent("Music prompt generation failed", err))
		return storyboard.MusicPrompt{}, err
	}

	c.release(TaskMusic, t, func() {
		m := out
		c.music = &m
	})
	return out, nil
}

// GenerateSceneVideo renders a clip from the selected scene's start frame. The
// clip is stored on the scene by id as long as the storyboard is unchanged.
func (c *Controller) GenerateSceneVideo(ctx context.Context, sceneID int) (string, error) {
	t, board, scene, err := c.acquire(TaskVideo, sceneID)
	if err != nil {
		return "", err
	}
	if err := requireFrames(scene); err != nil {
		c.release(TaskVideo, t, nil)
		return "", err
	}

	c.mu.Lock()
	var adapted string
	if c.adapted.SceneID == sceneID {
		adapted = c.adapted.Prompts[storyboard.PlatformVeo3]
	}
	c.mu.Unlock()

	url, err := c.gen.GenerateSceneVideo(ctx, generation.VideoRequest{
		Prompt:      prompt.Video(scene, adapted),
		StartFrame:  scene.Details.StartFrame,
		AspectRatio: board.AspectRatio,
	})

	c.mu.Lock()
	c.busy[TaskVideo] = false
	if err == nil && c.epoch == t.Epoch {
		if i := c.board.Index(sceneID); i >= 0 {
			c.board.Scenes[i].VideoURL = url
		}
	}
	snap := c.commitLocked()
	c.mu.Unlock()
	c.publish(snap)

	if err != nil {
		c.report(ctx, failureEvent(fmt.Sprintf("Video for scene %d failed", sceneID), err))
		return "", err
	}
	return url, nil
}

// SaveEditedFrame writes an edited image back into one frame of the scene
// named by t. The storyboard must still be the one t was captured from.
// Saving a start frame also refreshes the scene preview.
func (c *Controller) SaveEditedFrame(t Target, frame storyboard.Frame, image string) error {
	if strings.TrimSpace(image) == "" {
		return apperr.InvalidInput("edited image is empty")
	}
	return c.writeScene(t, func(s *storyboard.Scene) error {
		if s.Details == nil {
			return apperr.Precondition("scene %d has no generated frames yet", s.ID)
		}
		switch frame {
		case storyboard.FrameStart:
			s.Details.StartFrame = image
			s.PreviewImages = []string{image}
		case storyboard.FrameEnd:
			s.Details.EndFrame = image
		default:
			return apperr.InvalidInput("unknown frame %q", frame)
		}
		return nil
	})
}

// ApplySceneRewrite replaces the title and description of the scene named by t.
func (c *Controller) ApplySceneRewrite(t Target, title, description string) error {
	title, description = strings.TrimSpace(title), strings.TrimSpace(description)
	if title == "" || description == "" {
		return apperr.InvalidInput("rewritten scene needs a title and a description")
	}
	return c.writeScene(t, func(s *storyboard.Scene) error {
		s.Title = title
		s.Description = description
		return nil
	})
}

// writeScene applies fn to a copy of the scene and commits it on success.
func (c *Controller) writeScene(t Target, fn func(*storyboard.Scene) error) error {
	c.mu.Lock()
	if c.board == nil || c.epoch != t.Epoch {
		c.mu.Unlock()
		return apperr.Precondition("the storyboard changed since scene %d was opened", t.SceneID)
	}
	i := c.board.Index(t.SceneID)
	if i < 0 {
		c.mu.Unlock()
		return apperr.InvalidInput("scene %d does not exist", t.SceneID)
	}

	scene := c.board.Scenes[i].Clone()
	if err := fn(&scene); err != nil {
		c.mu.Unlock()
		return err
	}
	c.board.Scenes[i] = scene
	snap := c.commitLocked()
	c.mu.Unlock()
	c.publish(snap)
	return nil
}
