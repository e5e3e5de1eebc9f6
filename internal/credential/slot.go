package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Slot is the single named place a credential is persisted. A missing slot
// means no credential is configured.
type Slot interface {
	Load(ctx context.Context) (string, bool, error)
	Save(ctx context.Context, secret string) error
	Delete(ctx context.Context) error
}

// FileSlot keeps the secret in one file readable only by the owner.
type FileSlot struct {
	path string
}

func NewFileSlot(path string) *FileSlot {
	return &FileSlot{path: path}
}

func (s *FileSlot) Path() string {
	return s.path
}

func (s *FileSlot) Load(_ context.Context) (string, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read credential file: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), true, nil
}

func (s *FileSlot) Save(_ context.Context, secret string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(secret), 0o600); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace credential file: %w", err)
	}
	return nil
}

func (s *FileSlot) Delete(_ context.Context) error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credential file: %w", err)
	}
	return nil
}

// RedisSlot keeps the secret under one redis key, for deployments where
// several web replicas share a credential.
type RedisSlot struct {
	rdb redis.UniversalClient
	key string
}

func NewRedisSlot(rdb redis.UniversalClient, key string) *RedisSlot {
	return &RedisSlot{rdb: rdb, key: key}
}

func (s *RedisSlot) Load(ctx context.Context) (string, bool, error) {
	val, err := s.rdb.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	return val, true, nil
}

func (s *RedisSlot) Save(ctx context.Context, secret string) error {
	if err := s.rdb.Set(ctx, s.key, secret, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisSlot) Delete(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", s.key, err)
	}
	return nil
}

// MemorySlot is an ephemeral slot.
type MemorySlot struct {
	mu     sync.Mutex
	secret string
	set    bool
}

func NewMemorySlot() *MemorySlot {
	return &MemorySlot{}
}

func (s *MemorySlot) Load(_ context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.secret, s.set, nil
}

func (s *MemorySlot) Save(_ context.Context, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secret, s.set = secret, true
	return nil
}

func (s *MemorySlot) Delete(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secret, s.set = "", false
	return nil
}
