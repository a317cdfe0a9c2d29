// Package memory is a small key/value store for assistant state such as the
// last executed command. Values are opaque to the store.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrNotFound = errors.New("memory: key not found")

type Store interface {
	Put(ctx context.Context, key string, v any) error
	// Get decodes the stored value into out, or returns ErrNotFound.
	Get(ctx context.Context, key string, out any) error
	Close() error
}

type Backend string

const (
	BackendFile  Backend = "file"
	BackendRedis Backend = "redis"
	BackendMem   Backend = "mem"
	BackendNone  Backend = "none"
)

type Config struct {
	Backend  Backend
	Path     string
	RedisURL string
	Prefix   string
	TTL      time.Duration
}

// Open builds the configured backend. An empty backend means "file".
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendFile, "":
		path := cfg.Path
		if path == "" {
			path = "memory.json"
		}
		return NewFileStore(path)
	case BackendRedis:
		return NewRedisStore(ctx, cfg.RedisURL, cfg.Prefix, cfg.TTL)
	case BackendMem:
		return NewMemStore(), nil
	case BackendNone:
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("memory: unknown backend %q", cfg.Backend)
	}
}

// MemStore keeps JSON-encoded copies so callers never share state with the store.
type MemStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (m *MemStore) Put(_ context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("memory: encode %q: %w", key, err)
	}
	m.mu.Lock()
	m.data[key] = b
	m.mu.Unlock()
	return nil
}

func (m *MemStore) Get(_ context.Context, key string, out any) error {
	m.mu.RLock()
	b, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(b, out)
}

func (m *MemStore) Close() error { return nil }

// Nop forgets everything.
type Nop struct{}

func (Nop) Put(context.Context, string, any) error { return nil }
func (Nop) Get(context.Context, string, any) error { return ErrNotFound }
func (Nop) Close() error                           { return nil }
