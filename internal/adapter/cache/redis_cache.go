// Package cache implements domain.Cache over Redis, with an in-process FIFO
// fallback so a single unreachable Redis node degrades service rather than
// failing every analytics request outright. Only Get and SetEX use the
// fallback; Keys, Delete, Publish and Subscribe return Redis errors.
package cache

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

func secondsToDuration(s int) time.Duration { return time.Duration(s) * time.Second }

// RedisCache is the production domain.Cache, backed by go-redis with a
// bounded in-process fallback used while Redis is unreachable.
type RedisCache struct {
	rdb      *redis.Client
	fallback *fifoCache
}

// New constructs a RedisCache. fallbackCapacity bounds the in-process FIFO
// used when Redis calls fail (0 disables the fallback).
func New(rdb *redis.Client, fallbackCapacity int) *RedisCache {
	return &RedisCache{rdb: rdb, fallback: newFIFOCache(fallbackCapacity)}
}

func (c *RedisCache) Get(ctx domain.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		return val, true, nil
	case err == redis.Nil:
		return "", false, nil
	default:
		slog.Warn("cache: redis get failed, consulting fallback", slog.String("key", key), slog.Any("error", err))
		v, ok := c.fallback.get(key)
		return v, ok, nil
	}
}

func (c *RedisCache) SetEX(ctx domain.Context, key string, ttlSeconds int, value string) error {
	ttl := secondsToDuration(ttlSeconds)
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		slog.Warn("cache: redis set failed, writing to fallback", slog.String("key", key), slog.Any("error", err))
		c.fallback.set(key, value)
		return nil
	}
	return nil
}

func (c *RedisCache) Keys(ctx domain.Context, pattern string) ([]string, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("op=cache.Keys: %w", err)
	}
	return keys, nil
}

func (c *RedisCache) Delete(ctx domain.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("op=cache.Delete: %w", err)
	}
	for _, k := range keys {
		c.fallback.delete(k)
	}
	return nil
}

func (c *RedisCache) Publish(ctx domain.Context, channel, payload string) error {
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("op=cache.Publish: %w", err)
	}
	return nil
}

func (c *RedisCache) Subscribe(ctx domain.Context, channel string) (<-chan string, func(), error) {
	sub := c.rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("op=cache.Subscribe: %w", err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			out <- msg.Payload
		}
	}()

	return out, func() { _ = sub.Close() }, nil
}

// fifoCache is a bounded in-process key/value store, same eviction shape as
// the teacher's embedding cache: once capacity is reached the oldest key is
// dropped to make room for the newest.
type fifoCache struct {
	mu       sync.RWMutex
	capacity int
	m        map[string]string
	order    []string
}

func newFIFOCache(capacity int) *fifoCache {
	return &fifoCache{capacity: capacity, m: make(map[string]string)}
}

func (f *fifoCache) get(key string) (string, bool) {
	if f.capacity <= 0 {
		return "", false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.m[key]
	return v, ok
}

func (f *fifoCache) set(key, value string) {
	if f.capacity <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.m[key]; exists {
		f.m[key] = value
		return
	}
	if len(f.order) >= f.capacity {
		oldest := f.order[0]
		f.order = f.order[1:]
		delete(f.m, oldest)
	}
	f.m[key] = value
	f.order = append(f.order, key)
}

func (f *fifoCache) delete(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.m, key)
	for i, k := range f.order {
		if k == key {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}
