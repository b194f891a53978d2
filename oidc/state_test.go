package oidc

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestMemoryStateStoreIssueAndConsume(t *testing.T) {
	t.Parallel()
	store := NewMemoryStateStore(2 * time.Minute).(*memoryStateStore)
	store.now = func() time.Time { return time.Unix(1000, 0) }

	req, err := store.Issue(context.Background(), "/docs", ModeSilent)
	if err != nil {
		t.Fatalf("issue state: %v", err)
	}
	if req.State == "" {
		t.Fatalf("expected state")
	}

	consumed, err := store.Consume(context.Background(), req.State)
	if err != nil {
		t.Fatalf("consume state: %v", err)
	}
	assert.Equal(t, "/docs", consumed.OriginalURL)
	assert.Equal(t, ModeSilent, consumed.Mode)

	if _, err := store.Consume(context.Background(), req.State); err != ErrStateNotFound {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}
}

func TestMemoryStateStoreExpiry(t *testing.T) {
	t.Parallel()
	store := NewMemoryStateStore(time.Minute).(*memoryStateStore)
	current := time.Unix(1000, 0)
	store.now = func() time.Time { return current }

	req, err := store.Issue(context.Background(), "https://evil.example.com", ModeInteractive)
	if err != nil {
		t.Fatalf("issue state: %v", err)
	}
	assert.Equal(t, "/", req.OriginalURL)

	current = current.Add(2 * time.Minute)

	if _, err := store.Consume(context.Background(), req.State); err != ErrStateExpired {
		t.Fatalf("expected ErrStateExpired, got %v", err)
	}
	if _, err := store.Consume(context.Background(), req.State); err != ErrStateNotFound {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}
}

func TestMemoryStateStoreDiscard(t *testing.T) {
	t.Parallel()
	store := NewMemoryStateStore(time.Minute)
	req, err := store.Issue(context.Background(), "/", ModeInteractive)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Discard(context.Background(), req.State); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Consume(context.Background(), req.State); err != ErrStateNotFound {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}
}

func TestMemoryStateStoreConsumesOnce(t *testing.T) {
	t.Parallel()
	store := NewMemoryStateStore(time.Minute)
	req, err := store.Issue(context.Background(), "/", ModeSilent)
	if err != nil {
		t.Fatal(err)
	}

	var successes atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Consume(context.Background(), req.State); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), successes.Load())
}
