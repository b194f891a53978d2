// Package configstore persists the administrator-mutable auth configuration and serves it
// to the request path as an immutable, atomically swapped snapshot.
package configstore

import (
	"context"
	"errors"
	"sync"

	"oauth-gateway/config"
)

var (
	// ErrUnavailable is returned when the backend can not be reached in time or the cached
	// snapshot is too old to be trusted.
	ErrUnavailable = errors.New("auth config store unavailable")
	// ErrNotFound is returned by a backend that holds no configuration yet.
	ErrNotFound = errors.New("auth config not found")
)

// Backend is the persistent storage of the configuration document.
type Backend interface {
	// Load returns the stored document or ErrNotFound.
	Load(ctx context.Context) (*config.Document, error)
	// Save replaces the stored document.
	Save(ctx context.Context, doc *config.Document) error
}

// Watcher is implemented by backends that can push change notifications.
// Watch blocks until ctx is done or the notification source fails.
type Watcher interface {
	Watch(ctx context.Context, changed func()) error
}

// MemoryBackend keeps the document in process. It is used by tests and single instance
// setups without persistence.
type MemoryBackend struct {
	mu          sync.Mutex
	doc         *config.Document
	unavailable bool
}

func NewMemoryBackend(doc *config.Document) *MemoryBackend {
	return &MemoryBackend{doc: doc.Clone()}
}

func (m *MemoryBackend) Load(ctx context.Context) (*config.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return nil, ErrUnavailable
	}
	if m.doc == nil {
		return nil, ErrNotFound
	}
	return m.doc.Clone(), nil
}

func (m *MemoryBackend) Save(ctx context.Context, doc *config.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return ErrUnavailable
	}
	m.doc = doc.Clone()
	return nil
}

// SetUnavailable simulates an unreachable storage.
func (m *MemoryBackend) SetUnavailable(unavailable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = unavailable
}
