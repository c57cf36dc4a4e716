// Package kv defines the chunked key-value capability backing durable
// volumes, with in-memory, local-disk, Redis, S3, and Postgres backends.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get for absent keys.
var ErrNotFound = errors.New("kv: key not found")

// Store is the key-value capability. Values are opaque byte blobs; typed
// framing is the caller's concern. GetMany omits absent keys from its result
// rather than failing.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	PutMany(ctx context.Context, entries map[string][]byte) error
	Delete(ctx context.Context, key string) error
	DeleteMany(ctx context.Context, keys []string) error
	DeleteAll(ctx context.Context) error

	// List returns every key starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	Close() error
}

// GetJSON fetches key and unmarshals it into v.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// PutJSON marshals v and stores it under key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Put(ctx, key, raw)
}

// Prefixed returns a view of base where every key is transparently namespaced
// under prefix. List results are reported without the prefix, and DeleteAll
// wipes only the namespace.
func Prefixed(base Store, prefix string) Store {
	return &prefixed{base: base, prefix: prefix}
}

type prefixed struct {
	base   Store
	prefix string
}

func (p *prefixed) Get(ctx context.Context, key string) ([]byte, error) {
	return p.base.Get(ctx, p.prefix+key)
}

func (p *prefixed) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = p.prefix + k
	}
	values, err := p.base.GetMany(ctx, full)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(values))
	for k, v := range values {
		out[strings.TrimPrefix(k, p.prefix)] = v
	}
	return out, nil
}

func (p *prefixed) Put(ctx context.Context, key string, value []byte) error {
	return p.base.Put(ctx, p.prefix+key, value)
}

func (p *prefixed) PutMany(ctx context.Context, entries map[string][]byte) error {
	full := make(map[string][]byte, len(entries))
	for k, v := range entries {
		full[p.prefix+k] = v
	}
	return p.base.PutMany(ctx, full)
}

func (p *prefixed) Delete(ctx context.Context, key string) error {
	return p.base.Delete(ctx, p.prefix+key)
}

func (p *prefixed) DeleteMany(ctx context.Context, keys []string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = p.prefix + k
	}
	return p.base.DeleteMany(ctx, full)
}

func (p *prefixed) DeleteAll(ctx context.Context) error {
	keys, err := p.base.List(ctx, p.prefix)
	if err != nil {
		return err
	}
	return p.base.DeleteMany(ctx, keys)
}

func (p *prefixed) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := p.base.List(ctx, p.prefix+prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, p.prefix))
	}
	return out, nil
}

// Close on a prefixed view is a no-op; the base store owns the connection.
func (p *prefixed) Close() error { return nil }
