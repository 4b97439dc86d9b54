package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisKeyedLimiter enforces a per-minute ceiling shared across every
// instance of a replicated deployment, using a fixed-window counter: an
// INCR against a key namespaced by the current minute, with an EXPIRE set
// only on the first increment of the window. Optional — operators running
// a single instance are fully served by MemoryKeyedLimiter; this exists
// for the >1-replica case where a per-instance ceiling would let the
// aggregate rate scale with replica count.
type RedisKeyedLimiter struct {
	client    *redis.Client
	perMinute int
	prefix    string
}

// NewRedisKeyedLimiter dials url (a redis:// DSN) and returns a limiter
// allowing perMinute requests per key across the whole deployment.
func NewRedisKeyedLimiter(url string, perMinute int) (*RedisKeyedLimiter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parse redis url: %w", err)
	}
	if perMinute <= 0 {
		perMinute = 60
	}
	return &RedisKeyedLimiter{
		client:    redis.NewClient(opts),
		perMinute: perMinute,
		prefix:    "proofwork:ratelimit:",
	}, nil
}

func (l *RedisKeyedLimiter) Allow(ctx context.Context, key string) (bool, error) {
	window := time.Now().UTC().Truncate(time.Minute).Unix()
	redisKey := fmt.Sprintf("%s%s:%d", l.prefix, key, window)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: incr: %w", err)
	}
	if count == 1 {
		l.client.Expire(ctx, redisKey, 2*time.Minute)
	}
	return count <= int64(l.perMinute), nil
}

func (l *RedisKeyedLimiter) Close() error {
	return l.client.Close()
}

var _ KeyedLimiter = (*RedisKeyedLimiter)(nil)
var _ KeyedLimiter = (*MemoryKeyedLimiter)(nil)
