package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"adstudio/internal/apperr"
	"adstudio/internal/generation"
	"adstudio/internal/metrics"
	"adstudio/internal/notify"
	"adstudio/internal/storyboard"
)

// Request is the user input for one pipeline run. Duration stays a string so
// that parsing it is part of the precondition check.
type Request struct {
	Topic        string `json:"topic"`
	Story        string `json:"story"`
	Duration     string `json:"duration"`
	AspectRatio  string `json:"aspectRatio"`
	ReferenceURL string `json:"referenceUrl"`
	// ModelName and ProductName pick registered assets; empty picks the first.
	ModelName   string `json:"model"`
	ProductName string `json:"product"`
}

// ParseDuration accepts a positive whole number of seconds.
func ParseDuration(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, apperr.Precondition("duration is required")
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, apperr.Precondition("duration %q is not a whole number of seconds", value)
	}
	if n <= 0 {
		return 0, apperr.Precondition("duration must be positive, got %d", n)
	}
	return n, nil
}

type run struct {
	id      string
	epoch   uint64
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	retry   bool
	model   storyboard.Model
	product storyboard.Product
	req     Request
	dur     int
}

// Start validates req and runs the pipeline in the background. The run is
// detached from ctx; use Cancel to stop it.
func (c *Controller) Start(ctx context.Context, req Request) (string, error) {
	r, err := c.begin(context.WithoutCancel(ctx), req)
	if err != nil {
		return "", err
	}
	go func() { _ = c.execute(r) }()
	return r.id, nil
}

// Run validates req and runs the pipeline to completion. The returned error
// is the failure that stopped the run, if any; partial results stay in the
// controller either way.
func (c *Controller) Run(ctx context.Context, req Request) (string, error) {
	r, err := c.begin(ctx, req)
	if err != nil {
		return "", err
	}
	return r.id, c.execute(r)
}

// begin checks the preconditions and performs the hard reset. A violation
// leaves the state untouched and is only delivered to the notifier.
func (c *Controller) begin(ctx context.Context, req Request) (*run, error) {
	c.mu.Lock()
	r, err := c.prepareLocked(req)
	if err != nil {
		c.mu.Unlock()
		c.deliver(ctx, notify.Event{
			Level:   notify.LevelError,
			Kind:    string(apperr.KindOf(err)),
			Message: err.Error(),
		})
		return nil, err
	}

	r.id = uuid.NewString()
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	c.epoch++
	r.epoch = c.epoch
	c.board = nil
	c.selected = 0
	c.selection++
	c.clearDerivedLocked()
	c.phase = PhaseStoryboard
	c.current = 0
	c.runID = r.id
	c.cancel = r.cancel
	c.done = r.done
	c.modelName = r.model.Name
	c.productName = r.product.Name
	snap := c.commitLocked()
	c.mu.Unlock()

	c.publish(snap)
	c.logger.Info("pipeline run started", "run_id", r.id, "topic", r.req.Topic, "duration", r.dur)
	return r, nil
}

func (c *Controller) prepareLocked(req Request) (*run, error) {
	if c.phase != PhaseIdle {
		return nil, apperr.Precondition("a generation is already in progress")
	}
	if c.creds == nil || !c.creds.IsSet() {
		return nil, apperr.Precondition("API key is not set")
	}
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" {
		return nil, apperr.Precondition("topic is required")
	}
	models, products := c.assets.Counts()
	if models == 0 {
		return nil, apperr.Precondition("register at least one model first")
	}
	if products == 0 {
		return nil, apperr.Precondition("register at least one product first")
	}
	dur, err := ParseDuration(req.Duration)
	if err != nil {
		return nil, err
	}

	model, ok := c.assets.Model(req.ModelName)
	if !ok {
		return nil, apperr.Precondition("model %q is not registered", req.ModelName)
	}
	product, ok := c.assets.Product(req.ProductName)
	if !ok {
		return nil, apperr.Precondition("product %q is not registered", req.ProductName)
	}
	return &run{req: req, dur: dur, model: model, product: product}, nil
}

func (c *Controller) execute(r *run) error {
	model, product := r.model, r.product
	board, err := c.gen.GenerateStoryboard(r.ctx, generation.StoryboardRequest{
		Topic:        r.req.Topic,
		Story:        r.req.Story,
		DurationSec:  r.dur,
		Model:        &model,
		Product:      &product,
		AspectRatio:  r.req.AspectRatio,
		ReferenceURL: r.req.ReferenceURL,
	})
	if err != nil {
		c.finish(r, err, "Storyboard generation failed")
		return err
	}

	c.mu.Lock()
	c.board = board.Clone()
	ids := make([]int, 0, len(board.Scenes))
	for _, s := range board.Scenes {
		ids = append(ids, s.ID)
	}
	if len(ids) > 0 {
		c.selectLocked(ids[0])
	}
	c.phase = PhaseFrames
	snap := c.commitLocked()
	c.mu.Unlock()
	c.publish(snap)

	err = c.renderFrames(r, ids)
	c.finish(r, err, "Frame generation failed")
	return err
}

// renderFrames generates frames scene by scene. The first failure stops the
// loop; scenes rendered before it keep their frames.
func (c *Controller) renderFrames(r *run, ids []int) error {
	for _, id := range ids {
		if err := r.ctx.Err(); err != nil {
			return apperr.Wrap(err, apperr.KindCanceled, "generation canceled")
		}

		c.mu.Lock()
		if c.epoch != r.epoch {
			c.mu.Unlock()
			return apperr.New(apperr.KindCanceled, "storyboard was replaced")
		}
		scene, ok := c.board.Scene(id)
		if !ok {
			c.mu.Unlock()
			continue
		}
		scene = scene.Clone()
		guide, aspect := c.board.StyleGuide, c.board.AspectRatio
		c.current = id
		snap := c.commitLocked()
		c.mu.Unlock()
		c.publish(snap)

		details, err := c.gen.GenerateSceneFrames(r.ctx, generation.FramesRequest{
			Scene:       scene,
			Model:       r.model,
			Product:     r.product,
			StyleGuide:  guide,
			AspectRatio: aspect,
		})
		metrics.SceneFramesTotal.WithLabelValues(outcome(err)).Inc()
		if err != nil {
			return fmt.Errorf("scene %d: %w", id, err)
		}

		c.mu.Lock()
		if c.epoch == r.epoch {
			if i := c.board.Index(id); i >= 0 {
				d := details
				c.board.Scenes[i].Details = &d
				c.board.Scenes[i].PreviewImages = []string{details.StartFrame}
			}
		}
		snap = c.commitLocked()
		c.mu.Unlock()
		c.publish(snap)
		c.logger.Info("scene frames generated", "run_id", r.id, "scene_id", id)
	}
	return nil
}

func (c *Controller) finish(r *run, err error, failure string) {
	r.cancel()

	c.mu.Lock()
	c.phase = PhaseIdle
	c.current = 0
	if c.done == r.done {
		c.cancel = nil
	}
	var scenes int
	var cover string
	if c.board != nil {
		scenes = len(c.board.Scenes)
		if len(c.board.Scenes) > 0 && c.board.Scenes[0].Details != nil {
			cover = c.board.Scenes[0].Details.StartFrame
		}
	}
	snap := c.commitLocked()
	c.mu.Unlock()
	c.publish(snap)
	defer close(r.done)

	if !r.retry {
		metrics.PipelineRunsTotal.WithLabelValues(outcome(err)).Inc()
	}

	switch {
	case err == nil && r.retry:
		c.logger.Info("scene frames regenerated", "run_id", r.id)
	case err == nil:
		c.logger.Info("pipeline run finished", "run_id", r.id, "scenes", scenes)
		c.report(r.ctx, notify.Event{
			Level:   notify.LevelInfo,
			Kind:    "storyboard_ready",
			Message: fmt.Sprintf("Storyboard ready: %d scenes", scenes),
			Image:   cover,
		})
	default:
		c.logger.Warn("pipeline run stopped", "run_id", r.id, "err", err)
		c.report(r.ctx, failureEvent(failure, err))
	}
}

// RetryFrames regenerates the frames of one scene with the assets of the
// last run. It occupies the pipeline like a run and can be canceled.
func (c *Controller) RetryFrames(ctx context.Context, sceneID int) error {
	c.mu.Lock()
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return apperr.Precondition("a generation is already in progress")
	}
	if c.board == nil || c.board.Index(sceneID) < 0 {
		c.mu.Unlock()
		return apperr.Precondition("scene %d has no storyboard entry", sceneID)
	}
	if c.creds == nil || !c.creds.IsSet() {
		c.mu.Unlock()
		return apperr.Precondition("API key is not set")
	}
	model, ok := c.assets.Model(c.modelName)
	if !ok {
		c.mu.Unlock()
		return apperr.Precondition("model %q is no longer registered", c.modelName)
	}
	product, ok := c.assets.Product(c.productName)
	if !ok {
		c.mu.Unlock()
		return apperr.Precondition("product %q is no longer registered", c.productName)
	}

	r := &run{id: c.runID, epoch: c.epoch, retry: true, model: model, product: product, done: make(chan struct{})}
	r.ctx, r.cancel = context.WithCancel(ctx)
	c.phase = PhaseFrames
	c.cancel = r.cancel
	c.done = r.done
	snap := c.commitLocked()
	c.mu.Unlock()
	c.publish(snap)

	err := c.renderFrames(r, []int{sceneID})
	c.finish(r, err, fmt.Sprintf("Retry of scene %d failed", sceneID))
	return err
}
