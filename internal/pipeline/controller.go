// Package pipeline owns the studio workflow: request validation, storyboard
// generation, sequential per-scene frame rendering and the follow-up
// operations scoped to the selected scene.
package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"adstudio/internal/apperr"
	"adstudio/internal/generation"
	"adstudio/internal/notify"
	"adstudio/internal/storyboard"
)

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseStoryboard Phase = "generating_storyboard"
	PhaseFrames     Phase = "generating_frames"
)

type Task string

const (
	TaskAdapt       Task = "adapt_prompt"
	TaskBlockPrompt Task = "block_prompt"
	TaskMusic       Task = "music_prompt"
	TaskVideo       Task = "scene_video"
)

type Generator interface {
	GenerateStoryboard(ctx context.Context, req generation.StoryboardRequest) (*storyboard.Storyboard, error)
	GenerateSceneFrames(ctx context.Context, req generation.FramesRequest) (storyboard.SceneDetails, error)
	AdaptPrompt(ctx context.Context, req generation.AdaptRequest) (string, error)
	GenerateBlockPrompt(ctx context.Context, req generation.BlockPromptRequest) (string, error)
	GenerateMusicPrompt(ctx context.Context, board *storyboard.Storyboard) (storyboard.MusicPrompt, error)
	GenerateSceneVideo(ctx context.Context, req generation.VideoRequest) (string, error)
}

type Credentials interface {
	IsSet() bool
}

type Assets interface {
	Model(name string) (storyboard.Model, bool)
	Product(name string) (storyboard.Product, bool)
	Counts() (models, products int)
}

type Options struct {
	Generator   Generator
	Credentials Credentials
	Assets      Assets
	Notifier    notify.Notifier
	Session string
	Logger  *slog.Logger
}

type Snapshot struct {
	Phase            Phase                     `json:"phase"`
	CurrentSceneID   int                       `json:"currentSceneId,omitempty"`
	RunID            string                    `json:"runId,omitempty"`
	Storyboard       *storyboard.Storyboard    `json:"storyboard,omitempty"`
	SelectedSceneID  int                       `json:"selectedSceneId,omitempty"`
	AdaptedPrompts   storyboard.AdaptedPrompts `json:"adaptedPrompts"`
	BlockPrompts     storyboard.BlockPrompts   `json:"blockPrompts"`
	MusicPrompt      *storyboard.MusicPrompt   `json:"musicPrompt,omitempty"`
	Busy             map[Task]bool             `json:"busy"`
	LastNotification *notify.Event             `json:"lastNotification,omitempty"`
	Version          uint64                    `json:"version"`
}

type Listener func(Snapshot)

// Target pins a follow-up to the storyboard and selection it was issued
// against. Results are applied by scene id, never to "whatever is selected".
type Target struct {
	Epoch     uint64 `json:"epoch"`
	SceneID   int    `json:"sceneId"`
	Selection uint64 `json:"selection"`
}

type Controller struct {
	gen      Generator
	creds    Credentials
	assets   Assets
	notifier notify.Notifier
	session  string
	logger   *slog.Logger

	mu       sync.Mutex
	phase    Phase
	current  int
	runID    string
	board    *storyboard.Storyboard
	selected int
	adapted  storyboard.AdaptedPrompts
	blocks   storyboard.BlockPrompts
	music    *storyboard.MusicPrompt
	busy     map[Task]bool
	last     *notify.Event
	version  uint64

	// epoch changes with every new storyboard, selection with every
	// scene selection change.
	epoch     uint64
	selection uint64

	cancel context.CancelFunc
	done   chan struct{}
	// model and product names used by the last run, reused by RetryFrames.
	modelName   string
	productName string

	pubMu     sync.Mutex
	published uint64
	listeners map[int]Listener
	nextID    int
}

func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	n := opts.Notifier
	if n == nil {
		n = notify.NewLog(logger)
	}

	closed := make(chan struct{})
	close(closed)

	return &Controller{
		gen:       opts.Generator,
		creds:     opts.Credentials,
		assets:    opts.Assets,
		notifier:  n,
		session:   opts.Session,
		logger:    logger,
		phase:     PhaseIdle,
		adapted:   storyboard.AdaptedPrompts{Prompts: map[storyboard.Platform]string{}},
		busy:      make(map[Task]bool),
		done:      closed,
		listeners: make(map[int]Listener),
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers fn for every published snapshot. Listeners are called
// outside the state lock, in version order; a listener may miss intermediate
// versions but never sees an older one after a newer one.
func (c *Controller) Subscribe(fn Listener) func() {
	c.pubMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.pubMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.pubMu.Lock()
			delete(c.listeners, id)
			c.pubMu.Unlock()
		})
	}
}

func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel aborts the running pipeline. It reports whether a run was active.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return false
	}
	c.cancel()
	return true
}

// SelectScene changes the selected scene. Adapted prompts, block prompts and
// the music prompt belong to the previous selection and are cleared.
func (c *Controller) SelectScene(sceneID int) error {
	c.mu.Lock()
	if c.board == nil {
		c.mu.Unlock()
		return apperr.Precondition("no storyboard has been generated")
	}
	if c.board.Index(sceneID) < 0 {
		c.mu.Unlock()
		return apperr.InvalidInput("scene %d does not exist", sceneID)
	}
	if c.selected == sceneID {
		c.mu.Unlock()
		return nil
	}
	c.selectLocked(sceneID)
	snap := c.commitLocked()
	c.mu.Unlock()

	c.publish(snap)
	return nil
}

func (c *Controller) CurrentTarget(sceneID int) (Target, storyboard.Scene, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.board == nil {
		return Target{}, storyboard.Scene{}, apperr.Precondition("no storyboard has been generated")
	}
	scene, ok := c.board.Scene(sceneID)
	if !ok {
		return Target{}, storyboard.Scene{}, apperr.InvalidInput("scene %d does not exist", sceneID)
	}
	return Target{Epoch: c.epoch, SceneID: sceneID, Selection: c.selection}, scene.Clone(), nil
}

func (c *Controller) Neighbors(sceneID int) (prev, next *storyboard.Scene) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.board == nil {
		return nil, nil
	}
	p, n := c.board.Neighbors(sceneID)
	if p != nil {
		cp := p.Clone()
		prev = &cp
	}
	if n != nil {
		cp := n.Clone()
		next = &cp
	}
	return prev, next
}

func (c *Controller) selectLocked(sceneID int) {
	c.selected = sceneID
	c.selection++
	c.clearDerivedLocked()
}

func (c *Controller) clearDerivedLocked() {
	c.adapted = storyboard.AdaptedPrompts{Prompts: map[storyboard.Platform]string{}}
	c.blocks = storyboard.BlockPrompts{}
	c.music = nil
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		Phase:           c.phase,
		CurrentSceneID:  c.current,
		RunID:           c.runID,
		Storyboard:      c.board.Clone(),
		SelectedSceneID: c.selected,
		AdaptedPrompts:  c.adapted.Clone(),
		BlockPrompts:    c.blocks,
		Busy:            make(map[Task]bool, len(c.busy)),
		Version:         c.version,
	}
	if c.music != nil {
		m := *c.music
		snap.MusicPrompt = &m
	}
	for k, v := range c.busy {
		if v {
			snap.Busy[k] = true
		}
	}
	if c.last != nil {
		ev := *c.last
		snap.LastNotification = &ev
	}
	return snap
}

func (c *Controller) commitLocked() Snapshot {
	c.version++
	return c.snapshotLocked()
}

func (c *Controller) publish(snap Snapshot) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	if snap.Version <= c.published {
		return
	}
	c.published = snap.Version

	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		c.listeners[id](snap)
	}
}

func (c *Controller) report(ctx context.Context, ev notify.Event) {
	ev.Session = c.session
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	c.mu.Lock()
	stored := ev
	stored.Image = ""
	c.last = &stored
	snap := c.commitLocked()
	c.mu.Unlock()
	c.publish(snap)

	c.deliver(ctx, ev)
}

func (c *Controller) deliver(ctx context.Context, ev notify.Event) {
	ev.Session = c.session
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if err := c.notifier.Notify(context.WithoutCancel(ctx), ev); err != nil {
		c.logger.Warn("notification failed", "err", err, "kind", ev.Kind)
	}
}

func failureEvent(message string, err error) notify.Event {
	return notify.Event{
		Level:   notify.LevelError,
		Kind:    string(apperr.KindOf(err)),
		Message: message + ": " + err.Error(),
	}
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return string(apperr.KindOf(err))
}
