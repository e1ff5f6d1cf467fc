package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/example/cafe-orders/internal/domain/order"
	"github.com/go-redis/redis/v8"
)

const (
	keyPrefix = "order_seq:"
	keyTTL    = 48 * time.Hour
)

// Counter is the subset of *redis.Client the sequencer needs.
type Counter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisSequencer hands out daily sequences from an atomic Redis counter,
// one key per business day. A fresh key is seeded from the store so a
// flushed or replaced Redis never reissues numbers already used today.
type RedisSequencer struct {
	counter Counter
	seed    order.Sequencer
}

// NewRedisSequencer creates a sequencer over counter. seed is consulted only
// when a day's key is created.
func NewRedisSequencer(counter Counter, seed order.Sequencer) *RedisSequencer {
	return &RedisSequencer{counter: counter, seed: seed}
}

func (s *RedisSequencer) Next(ctx context.Context, day time.Time) (int, error) {
	key := Key(day)

	n, err := s.counter.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	if n != 1 {
		return int(n), nil
	}

	if err := s.counter.Expire(ctx, key, keyTTL).Err(); err != nil {
		return 0, fmt.Errorf("expire %s: %w", key, err)
	}
	if s.seed == nil {
		return 1, nil
	}

	next, err := s.seed.Next(ctx, day)
	if err != nil {
		return 0, fmt.Errorf("seed %s: %w", key, err)
	}
	if next <= 1 {
		return 1, nil
	}
	// Skip past numbers the store already holds for this day.
	n, err = s.counter.IncrBy(ctx, key, int64(next-1)).Result()
	if err != nil {
		return 0, fmt.Errorf("incrby %s: %w", key, err)
	}
	return int(n), nil
}

// Key is the counter key for the business day starting at day.
func Key(day time.Time) string {
	return keyPrefix + day.Format("20060102")
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// Connect opens a Redis client and verifies it answers PING.
func Connect(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return client, nil
}

var _ order.Sequencer = (*RedisSequencer)(nil)
