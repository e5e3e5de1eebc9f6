// Package session keeps one studio workspace per client: its pipeline
// controller, asset registry and open editors.
package session

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"adstudio/internal/assets"
	"adstudio/internal/editor"
	"adstudio/internal/metrics"
	"adstudio/internal/notify"
	"adstudio/internal/pipeline"
)

// Generator is everything a workspace asks of the generation client.
type Generator interface {
	pipeline.Generator
	editor.SheetGenerator
	editor.Rewriter
	editor.ImageEditorGenerator
}

type Options struct {
	Generator   Generator
	Credentials pipeline.Credentials
	Notifier    notify.Notifier
	Logger      *slog.Logger
	// IdleTTL is how long an idle workspace survives Sweep. Zero keeps
	// workspaces forever.
	IdleTTL time.Duration
}

type Store struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Workspace
}

func NewStore(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{
		opts:     opts,
		logger:   logger,
		sessions: make(map[string]*Workspace),
	}
}

// Get returns an existing workspace.
func (s *Store) Get(id string) (*Workspace, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.sessions[strings.TrimSpace(id)]
	if ok {
		ws.touch()
	}
	return ws, ok
}

// GetOrCreate returns the workspace for id, creating it when missing. An
// empty id always creates a workspace with a fresh id.
func (s *Store) GetOrCreate(id string) (*Workspace, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id = strings.TrimSpace(id)
	if ws, ok := s.sessions[id]; ok && id != "" {
		ws.touch()
		return ws, false
	}
	if id == "" {
		id = uuid.NewString()
	}
	ws := s.newWorkspaceLocked(id)
	return ws, true
}

func (s *Store) newWorkspaceLocked(id string) *Workspace {
	registry := assets.NewRegistry()
	logger := s.logger.With("session", id)
	ws := &Workspace{
		ID:       id,
		Registry: registry,
		Controller: pipeline.New(pipeline.Options{
			Generator:   s.opts.Generator,
			Credentials: s.opts.Credentials,
			Assets:      registry,
			Notifier:    s.opts.Notifier,
			Session:     id,
			Logger:      logger,
		}),
		Models:     editor.NewModelSheetEditor(s.opts.Generator, registry),
		Products:   editor.NewProductRegistrar(registry),
		gen:        s.opts.Generator,
		rewriters:  make(map[int]*openRewriter),
		lastActive: time.Now(),
	}
	s.sessions[id] = ws
	metrics.ActiveSessions.Inc()
	s.logger.Info("session created", "session", id)
	return ws
}

func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	ws, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
		metrics.ActiveSessions.Dec()
	}
	s.mu.Unlock()

	if ok {
		ws.Controller.Cancel()
	}
	return ok
}

// Sweep drops workspaces idle for longer than IdleTTL that are not running a
// pipeline. It returns the number removed.
func (s *Store) Sweep(now time.Time) int {
	if s.opts.IdleTTL <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, ws := range s.sessions {
		if now.Sub(ws.LastActive()) < s.opts.IdleTTL {
			continue
		}
		if ws.Controller.Snapshot().Phase != pipeline.PhaseIdle {
			continue
		}
		delete(s.sessions, id)
		metrics.ActiveSessions.Dec()
		removed++
	}
	if removed > 0 {
		s.logger.Info("idle sessions removed", "count", removed)
	}
	return removed
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
