package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces spotlight keys inside a shared Redis.
const DefaultRedisPrefix = "spotlight:"

// Redis stores each namespace as a plain string key.
type Redis struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// OpenRedis connects to the Redis server at url (redis://host:port/db) and
// pings it once.
func OpenRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	r := &Redis{
		client:  redis.NewClient(opts),
		prefix:  DefaultRedisPrefix,
		timeout: 5 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		r.client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return r, nil
}

func (r *Redis) Get(namespace string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	v, err := r.client.Get(ctx, r.prefix+namespace).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading namespace %s: %w", namespace, err)
	}
	return v, true, nil
}

func (r *Redis) Set(namespace, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.client.Set(ctx, r.prefix+namespace, value, 0).Err(); err != nil {
		return fmt.Errorf("writing namespace %s: %w", namespace, err)
	}
	return nil
}

// Close closes the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
