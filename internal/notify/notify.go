// Package notify delivers user-facing pipeline notifications: failures,
// finished runs and generated previews.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

type Event struct {
	Level   Level     `json:"level"`
	Kind    string    `json:"kind,omitempty"`
	Message string    `json:"message"`
	Session string    `json:"session,omitempty"`
	Time    time.Time `json:"time"`
	// Image is an optional data URL attached to the notification.
	Image string `json:"-"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Log writes events to a structured logger.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Notify(ctx context.Context, ev Event) error {
	level := slog.LevelInfo
	if ev.Level == LevelError {
		level = slog.LevelError
	}
	l.logger.Log(ctx, level, ev.Message, "kind", ev.Kind, "session", ev.Session, "has_image", ev.Image != "")
	return nil
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
