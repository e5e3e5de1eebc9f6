// Package credential holds the provider API key: one secret persisted in a
// Slot, readable before every provider call, with change notification.
package credential

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// Listener receives the new secret and whether one is configured.
type Listener func(secret string, set bool)

type Options struct {
	Slot   Slot
	Logger *slog.Logger
}

// Store caches the slot contents. The slot is read once on Open; every Set
// and Clear writes through before the cache changes.
type Store struct {
	slot   Slot
	logger *slog.Logger

	mu        sync.Mutex
	secret    string
	set       bool
	nextID    int
	listeners map[int]Listener
}

func Open(ctx context.Context, opts Options) (*Store, error) {
	slot := opts.Slot
	if slot == nil {
		slot = NewMemorySlot()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	secret, ok, err := slot.Load(ctx)
	if err != nil {
		return nil, err
	}

	return &Store{
		slot:      slot,
		logger:    logger,
		secret:    secret,
		set:       ok && secret != "",
		listeners: make(map[int]Listener),
	}, nil
}

func (s *Store) Get() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.secret, s.set
}

func (s *Store) IsSet() bool {
	_, ok := s.Get()
	return ok
}

// Set persists secret. An empty secret clears the slot.
func (s *Store) Set(ctx context.Context, secret string) error {
	if secret == "" {
		return s.Clear(ctx)
	}
	if err := s.slot.Save(ctx, secret); err != nil {
		return err
	}

	s.mu.Lock()
	s.secret, s.set = secret, true
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	s.logger.Info("credential set")
	notify(listeners, secret, true)
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.slot.Delete(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.secret, s.set = "", false
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	s.logger.Info("credential cleared")
	notify(listeners, "", false)
	return nil
}

// Subscribe registers fn for future changes. The returned func removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) snapshotListenersLocked() []Listener {
	out := make([]Listener, 0, len(s.listeners))
	for i := 0; i < s.nextID; i++ {
		if fn, ok := s.listeners[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

// Listeners run outside the lock so they may call back into the store.
func notify(listeners []Listener, secret string, set bool) {
	for _, fn := range listeners {
		fn(secret, set)
	}
}
