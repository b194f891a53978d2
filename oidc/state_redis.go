package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const stateKeyPrefix = "oauth-gateway:state:"

// RedisStateStore shares states between gateway instances. Consumption uses GETDEL, so a
// state is handed out at most once even when callbacks race on different instances.
type RedisStateStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStateStore(client *redis.Client, ttl time.Duration) *RedisStateStore {
	return &RedisStateStore{client: client, ttl: ttl, now: time.Now}
}

func (store *RedisStateStore) Issue(ctx context.Context, originalURL string, mode Mode) (RedirectRequest, error) {
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
	raw, err := json.Marshal(req)
	if err != nil {
		return RedirectRequest{}, err
	}
	ok, err := store.client.SetNX(ctx, stateKeyPrefix+token, raw, store.ttl).Result()
	if err != nil {
		return RedirectRequest{}, fmt.Errorf("storing state: %w", err)
	}
	if !ok {
		return RedirectRequest{}, errors.New("state collision")
	}
	return req, nil
}

func (store *RedisStateStore) Consume(ctx context.Context, state string) (RedirectRequest, error) {
	if state == "" {
		return RedirectRequest{}, ErrStateNotFound
	}
	raw, err := store.client.GetDel(ctx, stateKeyPrefix+state).Bytes()
	if errors.Is(err, redis.Nil) {
		return RedirectRequest{}, ErrStateNotFound
	}
	if err != nil {
		return RedirectRequest{}, fmt.Errorf("consuming state: %w", err)
	}
	var req RedirectRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return RedirectRequest{}, fmt.Errorf("decoding state: %w", err)
	}
	req.State = state
	if store.now().After(req.ExpiresAt) {
		return RedirectRequest{}, ErrStateExpired
	}
	return req, nil
}

func (store *RedisStateStore) Discard(ctx context.Context, state string) error {
	return store.client.Del(ctx, stateKeyPrefix+state).Err()
}
