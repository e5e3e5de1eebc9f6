package session

import (
	"sync"
	"time"

	"adstudio/internal/apperr"
	"adstudio/internal/assets"
	"adstudio/internal/editor"
	"adstudio/internal/pipeline"
	"adstudio/internal/storyboard"
)

// Workspace is one client's studio.
type Workspace struct {
	ID         string
	Controller *pipeline.Controller
	Registry   *assets.Registry
	Models     *editor.ModelSheetEditor
	Products   *editor.ProductRegistrar

	gen Generator

	mu         sync.Mutex
	lastActive time.Time
	rewriters  map[int]*openRewriter
}

type openRewriter struct {
	target   pipeline.Target
	rewriter *editor.SceneRewriter
}

func (w *Workspace) touch() {
	w.mu.Lock()
	w.lastActive = time.Now()
	w.mu.Unlock()
}

func (w *Workspace) LastActive() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActive
}

// Rewriter returns the open rewriter for sceneID. A rewriter opened against
// an older storyboard is replaced, so a suggestion never leaks across runs.
func (w *Workspace) Rewriter(sceneID int) (*editor.SceneRewriter, error) {
	target, scene, err := w.Controller.CurrentTarget(sceneID)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if open, ok := w.rewriters[sceneID]; ok && open.target.Epoch == target.Epoch {
		return open.rewriter, nil
	}

	prev, next := w.Controller.Neighbors(sceneID)
	ctrl := w.Controller
	r := editor.NewSceneRewriter(w.gen, scene, prev, next, func(title, description string) error {
		return ctrl.ApplySceneRewrite(target, title, description)
	})
	w.rewriters[sceneID] = &openRewriter{target: target, rewriter: r}
	return r, nil
}

// CloseRewriter forgets the rewriter of sceneID after a save.
func (w *Workspace) CloseRewriter(sceneID int) {
	w.mu.Lock()
	delete(w.rewriters, sceneID)
	w.mu.Unlock()
}

// ImageEditor opens an editor on one frame of sceneID. Saving writes back to
// that scene even if the selection has moved on.
func (w *Workspace) ImageEditor(sceneID int, frame storyboard.Frame) (*editor.ImageEditor, error) {
	target, scene, err := w.Controller.CurrentTarget(sceneID)
	if err != nil {
		return nil, err
	}
	if scene.Details == nil {
		return nil, apperr.Precondition("scene %d has no generated frames yet", sceneID)
	}
	image := scene.Details.StartFrame
	if frame == storyboard.FrameEnd {
		image = scene.Details.EndFrame
	}

	var aspect string
	if board := w.Controller.Snapshot().Storyboard; board != nil {
		aspect = board.AspectRatio
	}

	ctrl := w.Controller
	return editor.NewImageEditor(w.gen, sceneID, frame, image, aspect, func(edited string) error {
		return ctrl.SaveEditedFrame(target, frame, edited)
	})
}
