package kv

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fruitsalade/volumefs/internal/metrics"
)

// redisNamespace keeps volumefs keys apart from anything else in the database.
const redisNamespace = "volumefs:"

// Redis is a Store backed by a Redis server.
type Redis struct {
	rdb *redis.Client
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Redis{rdb: rdb}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	raw, err := r.rdb.Get(ctx, redisNamespace+key).Bytes()
	if err == redis.Nil {
		metrics.RecordKVOperation("redis", "get", time.Since(start), true)
		return nil, ErrNotFound
	}
	if err != nil {
		metrics.RecordKVOperation("redis", "get", time.Since(start), false)
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	metrics.RecordKVOperation("redis", "get", time.Since(start), true)
	return raw, nil
}

func (r *Redis) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}
	start := time.Now()
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = redisNamespace + k
	}
	values, err := r.rdb.MGet(ctx, full...).Result()
	if err != nil {
		metrics.RecordKVOperation("redis", "get_many", time.Since(start), false)
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	metrics.RecordKVOperation("redis", "get_many", time.Since(start), true)

	out := make(map[string][]byte, len(keys))
	for i, v := range values {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			out[keys[i]] = []byte(s)
		}
	}
	return out, nil
}

func (r *Redis) Put(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := r.rdb.Set(ctx, redisNamespace+key, value, 0).Err()
	metrics.RecordKVOperation("redis", "put", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) PutMany(ctx context.Context, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}
	start := time.Now()
	pipe := r.rdb.TxPipeline()
	for k, v := range entries {
		pipe.Set(ctx, redisNamespace+k, v, 0)
	}
	_, err := pipe.Exec(ctx)
	metrics.RecordKVOperation("redis", "put_many", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("redis put many: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := r.rdb.Del(ctx, redisNamespace+key).Err()
	metrics.RecordKVOperation("redis", "delete", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (r *Redis) DeleteMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	start := time.Now()
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = redisNamespace + k
	}
	err := r.rdb.Del(ctx, full...).Err()
	metrics.RecordKVOperation("redis", "delete_many", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("redis del many: %w", err)
	}
	return nil
}

func (r *Redis) DeleteAll(ctx context.Context) error {
	keys, err := r.List(ctx, "")
	if err != nil {
		return err
	}
	return r.DeleteMany(ctx, keys)
}

func (r *Redis) List(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	var keys []string
	iter := r.rdb.Scan(ctx, 0, escapeMatch(redisNamespace+prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), redisNamespace))
	}
	if err := iter.Err(); err != nil {
		metrics.RecordKVOperation("redis", "list", time.Since(start), false)
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	metrics.RecordKVOperation("redis", "list", time.Since(start), true)
	return keys, nil
}

// escapeMatch escapes glob metacharacters so SCAN matches the prefix
// literally.
var matchEscaper = strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`, `\`, `\\`)

func escapeMatch(s string) string {
	return matchEscaper.Replace(s)
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
