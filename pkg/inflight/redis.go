package inflight

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/wattwatch/wattwatch/pkg/log"
)

const (
	keyPrefix   = "wattwatch:inflight:"
	dialTimeout = 5 * time.Second
)

// releaseScript deletes the key only if it still holds our token, so an
// expired holder cannot release someone else's claim.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis guards keys across every instance sharing the same Redis.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis returns a Redis guard holding keys for at most ttl.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{
		client: client,
		ttl:    ttl,
	}
}

// DialRedis connects to addr and validates the connection with PING.
func DialRedis(addr, password string, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  dialTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return NewRedis(client, ttl), nil
}

// Acquire implements Guard.
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	k := keyPrefix + key
	ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBusy
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the request context may already be canceled
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dialTimeout)
			defer cancel()
			if err := releaseScript.Run(ctx, r.client, []string{k}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				log.Ctx(ctx).WarnContext(ctx, "failed to release in-flight key", slog.String("key", key), slog.Any("error", err))
			}
		})
	}, nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
