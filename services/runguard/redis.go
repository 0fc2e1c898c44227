package runguard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard is a guard shared by every instance connected to the same Redis
type RedisGuard struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisGuard creates a new Redis-backed guard
func NewRedisGuard(client redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) *RedisGuard {
	return &RedisGuard{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

// Acquire sets the lease key with NX and a millisecond expiry
func (g *RedisGuard) Acquire(ctx context.Context, key string) (*Lease, error) {
	redisKey := g.redisKey(key)
	token := NewToken()

	ok, err := g.client.SetNX(ctx, redisKey, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lease: %w", err)
	}
	if !ok {
		return nil, ErrHeld
	}

	g.logger.Debug("run lease acquired",
		zap.String("key", redisKey),
		zap.String("token", token))

	return &Lease{
		Key:       key,
		Token:     token,
		ExpiresAt: time.Now().Add(g.ttl),
		release: func(ctx context.Context) error {
			return g.release(ctx, redisKey, token)
		},
	}, nil
}

func (g *RedisGuard) release(ctx context.Context, redisKey, token string) error {
	deleted, err := releaseScript.Run(ctx, g.client, []string{redisKey}, token).Int()
	if err != nil {
		g.logger.Warn("failed to release run lease",
			zap.String("key", redisKey),
			zap.Error(err))
		return fmt.Errorf("failed to release run lease: %w", err)
	}
	if deleted == 0 {
		g.logger.Warn("run lease expired before release", zap.String("key", redisKey))
	}
	return nil
}

func (g *RedisGuard) redisKey(key string) string {
	return g.prefix + "run-lease:" + key
}
