package services

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduplicator remembers delivery keys for a limited window
type Deduplicator interface {
	// FirstSeen records key and reports whether it was new
	FirstSeen(ctx context.Context, key string) (bool, error)
	// Forget removes key so that it counts as new again
	Forget(ctx context.Context, key string) error
}

// RedisDeduplicator keeps delivery keys in Redis with a TTL
type RedisDeduplicator struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

var _ Deduplicator = (*RedisDeduplicator)(nil)

// NewRedisDeduplicator creates a deduplicator. Keys expire after ttl.
func NewRedisDeduplicator(client *redis.Client, ttl time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{
		client: client,
		ttl:    ttl,
		prefix: "bundle-sync:webhook:",
	}
}

func (d *RedisDeduplicator) FirstSeen(ctx context.Context, key string) (bool, error) {
	return d.client.SetNX(ctx, d.prefix+key, time.Now().Unix(), d.ttl).Result()
}

func (d *RedisDeduplicator) Forget(ctx context.Context, key string) error {
	return d.client.Del(ctx, d.prefix+key).Err()
}

// NewRedisClient parses a redis URL and verifies the connection
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
