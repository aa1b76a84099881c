package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding the key space when none is configured
const DefaultRedisKey = "moodlearchiver:state"

const redisTimeout = 2 * time.Second

// Redis keeps the key space in one Redis hash, so several machines can
// share a session. SetMany is a single HSET and therefore atomic.
type Redis struct {
	client *goredis.Client
	key    string
}

// NewRedis connects to the Redis server at url (redis://[:password@]host:port/db)
// and verifies it answers
func NewRedis(url, key string) (*Redis, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if key == "" {
		key = DefaultRedisKey
	}

	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: redis %s: %v", ErrUnavailable, opts.Addr, err)
	}

	return &Redis{client: client, key: key}, nil
}

// Get returns the value for key
func (r *Redis) Get(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	v, err := r.client.HGet(ctx, r.key, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return v, true, nil
}

// Set stores a single key
func (r *Redis) Set(key, value string) error {
	return r.SetMany(map[string]string{key: value})
}

// SetMany writes every field in one HSET
func (r *Redis) SetMany(values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	if err := r.client.HSet(ctx, r.key, values).Err(); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}

// Delete removes keys; missing keys are ignored
func (r *Redis) Delete(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	if err := r.client.HDel(ctx, r.key, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

// Close releases the connection pool
func (r *Redis) Close() error {
	return r.client.Close()
}
