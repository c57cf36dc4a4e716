package fsstore

import (
	"context"
	"sync"
)

// Tiered composes file stores ordered fastest first. Reads hit only the
// fastest tier; writes, unlinks, and clears apply to every tier concurrently
// and surface the first error.
type Tiered struct {
	tiers []FS
}

// NewTiered creates a tiered store. At least one tier is required.
func NewTiered(tiers ...FS) *Tiered {
	if len(tiers) == 0 {
		panic("fsstore: tiered store needs at least one tier")
	}
	return &Tiered{tiers: tiers}
}

func (t *Tiered) ReadFile(ctx context.Context, path string) (string, error) {
	return t.tiers[0].ReadFile(ctx, path)
}

func (t *Tiered) ReadDir(ctx context.Context, prefix string) ([]string, error) {
	return t.tiers[0].ReadDir(ctx, prefix)
}

func (t *Tiered) WriteFile(ctx context.Context, path, content string) error {
	return t.fanOut(func(fs FS) error { return fs.WriteFile(ctx, path, content) })
}

func (t *Tiered) Unlink(ctx context.Context, path string) error {
	return t.fanOut(func(fs FS) error { return fs.Unlink(ctx, path) })
}

func (t *Tiered) Clear(ctx context.Context) error {
	return t.fanOut(func(fs FS) error { return fs.Clear(ctx) })
}

// fanOut runs op against every tier concurrently and returns the error from
// the fastest tier that failed, if any.
func (t *Tiered) fanOut(op func(FS) error) error {
	errs := make([]error, len(t.tiers))
	var wg sync.WaitGroup
	for i, fs := range t.tiers {
		wg.Add(1)
		go func(i int, fs FS) {
			defer wg.Done()
			errs[i] = op(fs)
		}(i, fs)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
