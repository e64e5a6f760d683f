package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisLockTTL   = 30 * time.Second
	defaultRedisLockRetry = 100 * time.Millisecond
	redisKeyPrefix        = "eventbot:gate:"
)

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGate is a Gate backed by SET NX PX, for bot instances that share one
// record store.
type RedisGate struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
	logger *slog.Logger
}

// NewRedisGate connects to addr. ttl bounds how long a crashed holder can
// keep a key; zero uses 30s.
func NewRedisGate(addr string, ttl time.Duration, logger *slog.Logger) *RedisGate {
	return NewRedisGateWithClient(redis.NewClient(&redis.Options{Addr: addr}), ttl, logger)
}

// NewRedisGateWithClient wraps an existing client.
func NewRedisGateWithClient(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisGate {
	if ttl <= 0 {
		ttl = defaultRedisLockTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisGate{client: client, ttl: ttl, retry: defaultRedisLockRetry, logger: logger}
}

// Ping checks the connection.
func (g *RedisGate) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

// Close closes the client.
func (g *RedisGate) Close() error { return g.client.Close() }

func (g *RedisGate) Lock(ctx context.Context, key string) (func(), error) {
	rkey := redisKeyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := g.client.SetNX(ctx, rkey, token, g.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", rkey, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.retry):
		}
	}

	return func() {
		// Release even when the caller's context is already cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, g.client, []string{rkey}, token).Err(); err != nil {
			g.logger.Warn("redis unlock failed", "key", rkey, "error", err)
		}
	}, nil
}
