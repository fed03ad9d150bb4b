// Package cache keeps resolved blob URLs in Redis so repeated feed refreshes
// do not stat and presign the same profile picture again.
package cache

import (
	"context"
	"errors"
	"time"

	"example.com/photofeed/internal/gateway"
	"example.com/photofeed/internal/logger"
	"github.com/go-redis/redis/v8"
)

var logg = logger.New()

// ErrMiss is returned by KV.Get when the key is absent.
var ErrMiss = errors.New("cache miss")

const keyPrefix = "blob_url:"

// KV is the subset of a key-value store the cache needs.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// RedisKV adapts a go-redis client to KV.
type RedisKV struct {
	inner *redis.Client
}

func NewRedisKV(addr, password string) *RedisKV {
	return &RedisKV{
		inner: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       0, // use default DB
		}),
	}
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	v, err := r.inner.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrMiss
	}
	return v, err
}

func (r *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.inner.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) Close() error {
	return r.inner.Close()
}

// URLCache is a read-through gateway.URLResolver. Cache errors never fail a
// lookup; they only cost a trip to the underlying resolver.
type URLCache struct {
	kv   KV
	next gateway.URLResolver
	ttl  time.Duration
}

var _ gateway.URLResolver = (*URLCache)(nil)

// NewURLCache wraps next. ttl must stay below any presigned URL lifetime.
func NewURLCache(kv KV, next gateway.URLResolver, ttl time.Duration) *URLCache {
	return &URLCache{kv: kv, next: next, ttl: ttl}
}

func (c *URLCache) GetDownloadURL(ctx context.Context, path string) (string, error) {
	key := keyPrefix + path
	v, err := c.kv.Get(ctx, key)
	if err == nil && v != "" {
		return v, nil
	}
	if err != nil && !errors.Is(err, ErrMiss) {
		logg.Warn("cache", "URL cache read failed, resolving directly", err)
	}

	u, err := c.next.GetDownloadURL(ctx, path)
	if err != nil {
		return "", err
	}
	if err := c.kv.Set(ctx, key, u, c.ttl); err != nil {
		logg.Warn("cache", "URL cache write failed", err)
	}
	return u, nil
}
