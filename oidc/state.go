package oidc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"time"
)

var (
	// ErrStateNotFound indicates the state was never issued or was already consumed.
	ErrStateNotFound = errors.New("state not found")
	// ErrStateExpired indicates the state expired before the callback arrived.
	ErrStateExpired = errors.New("state expired")
)

const stateTokenSize = 32

// RedirectRequest is a pending login. It lives in the StateStore between the login entry
// and the callback.
type RedirectRequest struct {
	OriginalURL string    `json:"original_url"`
	Mode        Mode      `json:"mode"`
	State       string    `json:"-"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// StateStore issues single-use state tokens bound to a RedirectRequest.
type StateStore interface {
	// Issue creates a fresh state for the original url and mode.
	Issue(ctx context.Context, originalURL string, mode Mode) (RedirectRequest, error)
	// Consume returns the request for the state and invalidates it. A state can be
	// consumed exactly once.
	Consume(ctx context.Context, state string) (RedirectRequest, error)
	// Discard drops an issued state that will never be used.
	Discard(ctx context.Context, state string) error
}

type memoryStateStore struct {
	mutex   sync.Mutex
	entries map[string]RedirectRequest
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStateStore constructs an in-memory StateStore with the provided TTL.
func NewMemoryStateStore(ttl time.Duration) StateStore {
	return &memoryStateStore{
		entries: make(map[string]RedirectRequest),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (store *memoryStateStore) Issue(ctx context.Context, originalURL string, mode Mode) (RedirectRequest, error) {
	token, err := randomToken()
	if err != nil {
		return RedirectRequest{}, err
	}
	req := RedirectRequest{
		OriginalURL: sanitizeNext(originalURL),
		Mode:        mode,
		State:       token,
		ExpiresAt:   store.now().Add(store.ttl),
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.purgeExpiredLocked()
	store.entries[token] = req
	return req, nil
}

func (store *memoryStateStore) Consume(ctx context.Context, state string) (RedirectRequest, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	req, ok := store.entries[state]
	if !ok {
		store.purgeExpiredLocked()
		return RedirectRequest{}, ErrStateNotFound
	}
	delete(store.entries, state)
	if store.now().After(req.ExpiresAt) {
		store.purgeExpiredLocked()
		return RedirectRequest{}, ErrStateExpired
	}
	store.purgeExpiredLocked()
	return req, nil
}

func (store *memoryStateStore) Discard(ctx context.Context, state string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.entries, state)
	return nil
}

func (store *memoryStateStore) purgeExpiredLocked() {
	if len(store.entries) == 0 {
		return
	}
	now := store.now()
	for token, req := range store.entries {
		if now.After(req.ExpiresAt) {
			delete(store.entries, token)
		}
	}
}

func randomToken() (string, error) {
	buffer := make([]byte, stateTokenSize)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}
