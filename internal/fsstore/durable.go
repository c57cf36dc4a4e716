package fsstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fruitsalade/volumefs/internal/kv"
)

// ChunkSize is the maximum value size accepted by the backing kv stores.
const ChunkSize = 131072

const (
	metaPrefix  = "meta::"
	chunkPrefix = "chunk::"
)

// metaRecord frames a file as an ordered list of chunk keys.
type metaRecord struct {
	Chunks []string `json:"chunks"`
}

// Durable is the durable tier: each file is a meta record plus fixed-size
// content chunks in a kv.Store.
type Durable struct {
	store kv.Store
}

// NewDurable creates a durable store over kv.
func NewDurable(store kv.Store) *Durable {
	return &Durable{store: store}
}

func metaKey(path string) string {
	return metaPrefix + path
}

func chunkKey(path string, i int) string {
	return fmt.Sprintf("%s%s::%d", chunkPrefix, path, i)
}

func (d *Durable) ReadFile(ctx context.Context, path string) (string, error) {
	var meta metaRecord
	if err := kv.GetJSON(ctx, d.store, metaKey(path), &meta); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return "", ErrNotExist
		}
		return "", fmt.Errorf("read meta %s: %w", path, err)
	}

	chunks, err := d.store.GetMany(ctx, meta.Chunks)
	if err != nil {
		return "", fmt.Errorf("read chunks %s: %w", path, err)
	}

	var sb strings.Builder
	for _, key := range meta.Chunks {
		raw, ok := chunks[key]
		if !ok {
			return "", fmt.Errorf("read %s: missing chunk %s", path, key)
		}
		sb.Write(raw)
	}
	return sb.String(), nil
}

func (d *Durable) WriteFile(ctx context.Context, path, content string) error {
	raw := []byte(content)

	var meta metaRecord
	chunks := make(map[string][]byte)
	for i := 0; len(raw) > 0 || i == 0; i++ {
		n := len(raw)
		if n > ChunkSize {
			n = ChunkSize
		}
		key := chunkKey(path, i)
		chunks[key] = raw[:n]
		meta.Chunks = append(meta.Chunks, key)
		raw = raw[n:]
	}

	// Stale chunks from a longer previous version are removed after the new
	// meta record is in place, so a reader never sees a truncated file.
	var stale []string
	var prev metaRecord
	if err := kv.GetJSON(ctx, d.store, metaKey(path), &prev); err == nil {
		for _, key := range prev.Chunks[min(len(prev.Chunks), len(meta.Chunks)):] {
			stale = append(stale, key)
		}
	}

	if err := d.store.PutMany(ctx, chunks); err != nil {
		return fmt.Errorf("write chunks %s: %w", path, err)
	}
	if err := kv.PutJSON(ctx, d.store, metaKey(path), &meta); err != nil {
		return fmt.Errorf("write meta %s: %w", path, err)
	}
	if len(stale) > 0 {
		if err := d.store.DeleteMany(ctx, stale); err != nil {
			return fmt.Errorf("prune chunks %s: %w", path, err)
		}
	}
	return nil
}

func (d *Durable) Unlink(ctx context.Context, path string) error {
	var meta metaRecord
	if err := kv.GetJSON(ctx, d.store, metaKey(path), &meta); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("unlink %s: %w", path, err)
	}
	if err := d.store.Delete(ctx, metaKey(path)); err != nil {
		return fmt.Errorf("unlink meta %s: %w", path, err)
	}
	if err := d.store.DeleteMany(ctx, meta.Chunks); err != nil {
		return fmt.Errorf("unlink chunks %s: %w", path, err)
	}
	return nil
}

func (d *Durable) ReadDir(ctx context.Context, prefix string) ([]string, error) {
	keys, err := d.store.List(ctx, metaKey(prefix))
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", prefix, err)
	}
	paths := make([]string, 0, len(keys))
	for _, k := range keys {
		paths = append(paths, strings.TrimPrefix(k, metaPrefix))
	}
	return paths, nil
}

func (d *Durable) Clear(ctx context.Context) error {
	if err := d.store.DeleteAll(ctx); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}
