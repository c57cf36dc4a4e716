package fsstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/fruitsalade/volumefs/internal/kv"
)

func TestDurableRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := NewDurable(kv.NewMemory())

	cases := []string{
		"",
		"hello",
		strings.Repeat("a", ChunkSize-1),
		strings.Repeat("b", ChunkSize),
		strings.Repeat("c", ChunkSize+1),
		strings.Repeat("déjà vu ", 40000), // multi-byte runes across chunk boundaries
	}
	for i, content := range cases {
		if err := d.WriteFile(ctx, "/f.txt", content); err != nil {
			t.Fatalf("case %d: write: %v", i, err)
		}
		got, err := d.ReadFile(ctx, "/f.txt")
		if err != nil {
			t.Fatalf("case %d: read: %v", i, err)
		}
		if got != content {
			t.Fatalf("case %d: round trip mismatch (len %d vs %d)", i, len(got), len(content))
		}
	}
}

func TestDurableShrinkPrunesChunks(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	d := NewDurable(store)

	if err := d.WriteFile(ctx, "/f", strings.Repeat("x", 3*ChunkSize)); err != nil {
		t.Fatal(err)
	}
	if err := d.WriteFile(ctx, "/f", "short"); err != nil {
		t.Fatal(err)
	}

	keys, err := store.List(ctx, "chunk::/f")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 {
		t.Errorf("expected 1 chunk after shrink, got %d: %v", len(keys), keys)
	}
	got, err := d.ReadFile(ctx, "/f")
	if err != nil || got != "short" {
		t.Errorf("read after shrink = %q, %v", got, err)
	}
}

func TestDurableReadMissing(t *testing.T) {
	d := NewDurable(kv.NewMemory())
	_, err := d.ReadFile(context.Background(), "/missing")
	if !errors.Is(err, ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestDurableUnlinkIdempotent(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	d := NewDurable(store)

	if err := d.Unlink(ctx, "/missing"); err != nil {
		t.Errorf("unlink of missing file should be a no-op, got %v", err)
	}

	if err := d.WriteFile(ctx, "/f", strings.Repeat("z", ChunkSize+10)); err != nil {
		t.Fatal(err)
	}
	if err := d.Unlink(ctx, "/f"); err != nil {
		t.Fatal(err)
	}
	keys, _ := store.List(ctx, "")
	if len(keys) != 0 {
		t.Errorf("expected empty store after unlink, got %v", keys)
	}
}

func TestDurableReadDir(t *testing.T) {
	ctx := context.Background()
	d := NewDurable(kv.NewMemory())

	for _, p := range []string{"/a.json", "/sections/x.tsx", "/sections/y.tsx"} {
		if err := d.WriteFile(ctx, p, "v"); err != nil {
			t.Fatal(err)
		}
	}

	paths, err := d.ReadDir(ctx, "/sections/")
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(paths)
	want := []string{"/sections/x.tsx", "/sections/y.tsx"}
	if len(paths) != 2 || paths[0] != want[0] || paths[1] != want[1] {
		t.Errorf("ReadDir = %v, want %v", paths, want)
	}

	all, err := d.ReadDir(ctx, "/")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("ReadDir(/) returned %d paths, want 3", len(all))
	}
}

func TestMemReadMissing(t *testing.T) {
	m := NewMem()
	_, err := m.ReadFile(context.Background(), "/nope")
	if !errors.Is(err, ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestTieredWriteThrough(t *testing.T) {
	ctx := context.Background()
	mem := NewMem()
	durable := NewDurable(kv.NewMemory())
	tiered := NewTiered(mem, durable)

	if err := tiered.WriteFile(ctx, "/f", "content"); err != nil {
		t.Fatal(err)
	}

	// Both tiers must agree byte for byte.
	fromMem, err := mem.ReadFile(ctx, "/f")
	if err != nil {
		t.Fatal(err)
	}
	fromDurable, err := durable.ReadFile(ctx, "/f")
	if err != nil {
		t.Fatal(err)
	}
	if fromMem != fromDurable || fromMem != "content" {
		t.Errorf("tiers disagree: mem=%q durable=%q", fromMem, fromDurable)
	}

	if err := tiered.Unlink(ctx, "/f"); err != nil {
		t.Fatal(err)
	}
	if _, err := mem.ReadFile(ctx, "/f"); !errors.Is(err, ErrNotExist) {
		t.Error("mem tier still has file after unlink")
	}
	if _, err := durable.ReadFile(ctx, "/f"); !errors.Is(err, ErrNotExist) {
		t.Error("durable tier still has file after unlink")
	}
}

func TestTieredReadsFastestTier(t *testing.T) {
	ctx := context.Background()
	mem := NewMem()
	durable := NewDurable(kv.NewMemory())
	tiered := NewTiered(mem, durable)

	// Seed only the slow tier; the tiered read must not see it.
	if err := durable.WriteFile(ctx, "/slow-only", "x"); err != nil {
		t.Fatal(err)
	}
	if _, err := tiered.ReadFile(ctx, "/slow-only"); !errors.Is(err, ErrNotExist) {
		t.Errorf("expected ErrNotExist from fastest tier, got %v", err)
	}
}

func TestTieredClear(t *testing.T) {
	ctx := context.Background()
	mem := NewMem()
	durable := NewDurable(kv.NewMemory())
	tiered := NewTiered(mem, durable)

	tiered.WriteFile(ctx, "/a", "1")
	tiered.WriteFile(ctx, "/b", "2")
	if err := tiered.Clear(ctx); err != nil {
		t.Fatal(err)
	}

	memPaths, _ := mem.ReadDir(ctx, "/")
	durablePaths, _ := durable.ReadDir(ctx, "/")
	if len(memPaths) != 0 || len(durablePaths) != 0 {
		t.Errorf("clear left files behind: mem=%v durable=%v", memPaths, durablePaths)
	}
}
