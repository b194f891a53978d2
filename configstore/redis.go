package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"oauth-gateway/config"

	log "github.com/sirupsen/logrus"
)

// RedisBackend stores the document as JSON under a single key and announces every save on
// a pub/sub channel, so all gateway instances refresh their snapshot right away.
type RedisBackend struct {
	client  *redis.Client
	key     string
	channel string
}

func NewRedisBackend(client *redis.Client, key, channel string) *RedisBackend {
	return &RedisBackend{client: client, key: key, channel: channel}
}

func (r *RedisBackend) Load(ctx context.Context) (*config.Document, error) {
	raw, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return config.ParseDocument(raw)
}

func (r *RedisBackend) Save(ctx context.Context, doc *config.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key, raw, 0)
		pipe.Publish(ctx, r.channel, "changed")
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisBackend) Watch(ctx context.Context, changed func()) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer func() {
		if err := sub.Close(); err != nil {
			log.WithError(err).Debug("closing auth config subscription")
		}
	}()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-messages:
			if !ok {
				return errors.New("auth config subscription closed")
			}
			changed()
		}
	}
}
