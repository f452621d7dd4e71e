package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisProvider stores entries in Redis under a key prefix.
type RedisProvider struct {
	client *redis.Client
	prefix string
}

// NewRedisProvider connects to the Redis server at url (redis://host:port/db)
// and pings it so a bad address fails at startup.
func NewRedisProvider(ctx context.Context, url, prefix string) (*RedisProvider, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisProviderFromClient(client, prefix), nil
}

// NewRedisProviderFromClient wraps an existing client.
func NewRedisProviderFromClient(client *redis.Client, prefix string) *RedisProvider {
	return &RedisProvider{client: client, prefix: prefix}
}

// Get returns the value for key, or ErrCacheMiss when absent.
func (p *RedisProvider) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := p.client.Get(ctx, p.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set stores value with the given TTL; zero keeps it until evicted.
func (p *RedisProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := p.client.Set(ctx, p.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying client.
func (p *RedisProvider) Close() error {
	return p.client.Close()
}
