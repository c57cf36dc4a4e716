package kv

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Local is a Store backed by a flat directory of files, one per key. Keys are
// query-escaped into file names; writes go through a temp file and rename so
// a crash never leaves a torn value.
type Local struct {
	rootPath string
}

// NewLocal creates a local store rooted at rootPath, creating it if needed.
func NewLocal(rootPath string) (*Local, error) {
	if rootPath == "" {
		return nil, fmt.Errorf("root path is required")
	}
	info, err := os.Stat(rootPath)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(rootPath, 0755); mkErr != nil {
				return nil, fmt.Errorf("create root path %s: %w", rootPath, mkErr)
			}
		} else {
			return nil, fmt.Errorf("stat root path %s: %w", rootPath, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("root path %s is not a directory", rootPath)
	}
	return &Local{rootPath: rootPath}, nil
}

func (l *Local) fullPath(key string) string {
	return filepath.Join(l.rootPath, url.QueryEscape(key))
}

func (l *Local) Get(_ context.Context, key string) ([]byte, error) {
	raw, err := os.ReadFile(l.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return raw, nil
}

func (l *Local) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		v, err := l.Get(ctx, k)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (l *Local) Put(_ context.Context, key string, value []byte) error {
	tmp, err := os.CreateTemp(l.rootPath, ".volumefs-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", key, err)
	}
	if err := os.Rename(tmpName, l.fullPath(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp to %s: %w", key, err)
	}
	return nil
}

func (l *Local) PutMany(ctx context.Context, entries map[string][]byte) error {
	for k, v := range entries {
		if err := l.Put(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (l *Local) Delete(_ context.Context, key string) error {
	err := os.Remove(l.fullPath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (l *Local) DeleteMany(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if err := l.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (l *Local) DeleteAll(ctx context.Context) error {
	keys, err := l.List(ctx, "")
	if err != nil {
		return err
	}
	return l.DeleteMany(ctx, keys)
}

func (l *Local) List(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(l.rootPath)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", l.rootPath, err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		key, err := url.QueryUnescape(e.Name())
		if err != nil {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (l *Local) Close() error { return nil }
