// Package labels stores printable package labels (QR code PNGs) produced when
// a product is packaged.
package labels

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrNotFound is returned by Get when no label exists for the key.
var ErrNotFound = errors.New("label not found")

// Driver names accepted by Open.
const (
	DriverNone   = "none"
	DriverMemory = "memory"
	DriverS3     = "s3"
)

// Store persists label images by package id.
type Store interface {
	Put(ctx context.Context, key string, png []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Config selects and parameterises a Store driver.
type Config struct {
	Driver string // none (default), memory, s3
	S3     S3Config
}

// Open constructs the Store named by cfg.Driver. The none driver returns a
// nil Store, which disables label persistence.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverNone:
		return nil, nil
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverS3:
		s, err := NewS3Store(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown labels driver %q", cfg.Driver)
	}
}

// MemoryStore keeps labels in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	labels map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{labels: make(map[string][]byte)}
}

// Put implements Store. A later Put for the same key replaces the label.
func (m *MemoryStore) Put(_ context.Context, key string, png []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.labels[key] = append([]byte(nil), png...)
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.labels[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}
