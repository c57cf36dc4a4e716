package volume

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/volumefs/internal/crdt"
	"github.com/fruitsalade/volumefs/internal/events"
	"github.com/fruitsalade/volumefs/internal/fsstore"
	"github.com/fruitsalade/volumefs/internal/kv"
	"github.com/fruitsalade/volumefs/internal/locker"
	"github.com/fruitsalade/volumefs/internal/logging"
	"github.com/fruitsalade/volumefs/internal/metrics"
)

// EphemeralPrefix marks volume ids that never attach a durable tier.
const EphemeralPrefix = "ephemeral:"

// Volume is a named, isolated filesystem namespace. All requests for one
// volume are serialised through its actor mutex; the per-path locker inside
// the patch pipeline is a hedge should intra-volume parallelism ever be
// introduced.
type Volume struct {
	id        string
	ephemeral bool

	mu          sync.Mutex
	ts          int64
	sessions    *sessionSet
	fs          *fsstore.Tiered
	mem         *fsstore.Mem
	durable     *fsstore.Durable
	locker      *locker.PathLocker
	broadcaster *events.Broadcaster
}

// New creates a volume over store and hydrates the memory tier from the
// durable tier. A nil store, or an id bearing the ephemeral prefix, yields a
// memory-only volume. The volume is not usable until New returns: hydration
// completes under the actor mutex before any request is admitted.
func New(ctx context.Context, id string, store kv.Store, sessionCap int) (*Volume, error) {
	v := &Volume{
		id:          id,
		ephemeral:   store == nil || strings.HasPrefix(id, EphemeralPrefix),
		sessions:    newSessionSet(sessionCap),
		mem:         fsstore.NewMem(),
		locker:      locker.New(),
		broadcaster: events.NewBroadcaster(),
	}

	if v.ephemeral {
		v.fs = fsstore.NewTiered(v.mem)
	} else {
		v.durable = fsstore.NewDurable(store)
		v.fs = fsstore.NewTiered(v.mem, v.durable)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.durable != nil {
		if err := v.hydrate(ctx); err != nil {
			return nil, err
		}
	}

	v.ts = v.nextTimestamp()
	v.sessions.Install(v.ts)
	return v, nil
}

// hydrate loads every durable file into the memory tier.
func (v *Volume) hydrate(ctx context.Context) error {
	start := time.Now()
	paths, err := v.durable.ReadDir(ctx, "/")
	if err != nil {
		return err
	}
	for _, p := range paths {
		content, err := v.durable.ReadFile(ctx, p)
		if err != nil {
			return err
		}
		if err := v.mem.WriteFile(ctx, p, content); err != nil {
			return err
		}
	}
	metrics.RecordHydration(time.Since(start), len(paths))
	logging.Info("volume hydrated",
		zap.String("volume", v.id),
		zap.Int("files", len(paths)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// ID returns the volume id.
func (v *Volume) ID() string { return v.id }

// Timestamp returns the current logical snapshot version.
func (v *Volume) Timestamp() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ts
}

// nextTimestamp advances the logical version: wall-clock milliseconds,
// bumped past the previous value if the clock has not moved.
func (v *Volume) nextTimestamp() int64 {
	now := time.Now().UnixMilli()
	if now <= v.ts {
		now = v.ts + 1
	}
	v.ts = now
	return now
}

// Subscribe registers a change event sink.
func (v *Volume) Subscribe() chan events.ServerEvent {
	return v.broadcaster.Subscribe()
}

// Unsubscribe removes a sink registered with Subscribe.
func (v *Volume) Unsubscribe(ch chan events.ServerEvent) {
	v.broadcaster.Unsubscribe(ch)
}

// stagedFile is the in-flight content of a path during the apply phase.
// A nil content marks a staged delete.
type stagedFile struct {
	content *string
}

// Patch applies a batch of patches: if any patch is rejected in the apply
// phase, no file changes; otherwise every result is written to the file
// store and, when every write succeeds, broadcast. A write that fails during
// commit flips that result to rejected and suppresses the broadcast; writes
// already made for other results in the batch are kept.
// The logical version advances regardless of the outcome and a fresh text
// session is installed at the new timestamp.
func (v *Volume) Patch(ctx context.Context, req PatchRequest) (*PatchResponse, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	start := time.Now()

	paths := make([]string, 0, len(req.Patches))
	for _, p := range req.Patches {
		paths = append(paths, p.Path)
	}
	release := v.locker.LockMany(paths)
	defer release()

	// Apply phase: no side effects outside staged contents and session BITs.
	stage := make(map[string]stagedFile)
	results := make([]PatchResult, 0, len(req.Patches))
	allAccepted := true

	for _, p := range req.Patches {
		res := v.applyOne(ctx, p, stage)
		metrics.RecordPatch(p.Kind.String(), res.Accepted)
		if !res.Accepted {
			allAccepted = false
		}
		results = append(results, res)
	}

	// The logical version always advances per PATCH.
	ts := v.nextTimestamp()
	v.sessions.Install(ts)

	// Commit gate: only a fully accepted batch touches the file store.
	if allAccepted {
		for i := range results {
			r := &results[i]
			var err error
			if r.Deleted {
				err = v.fs.Unlink(ctx, r.Path)
			} else {
				err = v.fs.WriteFile(ctx, r.Path, *r.Content)
			}
			if err != nil {
				r.Accepted = false
				allAccepted = false
				metrics.RecordCommitFailure()
				logging.Error("commit failed",
					zap.String("volume", v.id),
					zap.String("path", r.Path),
					zap.Error(err))
			}
		}
	}

	// Broadcast gate: events only when every result survived commit.
	if allAccepted {
		for _, r := range results {
			v.broadcaster.Publish(events.ServerEvent{
				MessageID: req.MessageID,
				Path:      r.Path,
				Timestamp: ts,
				Deleted:   r.Deleted,
			})
		}
	}

	metrics.RecordPatchBatch(time.Since(start), allAccepted)
	return &PatchResponse{Timestamp: ts, Results: results}, nil
}

// applyOne dispatches a single patch against the staged view.
func (v *Volume) applyOne(ctx context.Context, p FilePatch, stage map[string]stagedFile) PatchResult {
	current, exists := v.readStaged(ctx, p.Path, stage)

	switch p.Kind {
	case KindJSON:
		base := current
		if !exists {
			base = "{}"
		}
		newContent, err := applyJSONOps(base, p.JSONOps)
		if err != nil {
			logging.Debug("json patch rejected",
				zap.String("volume", v.id),
				zap.String("path", p.Path),
				zap.Error(err))
			return PatchResult{Path: p.Path, Accepted: false, Content: &base}
		}
		deleted := newContent == "null"
		if deleted {
			stage[p.Path] = stagedFile{}
		} else {
			stage[p.Path] = stagedFile{content: &newContent}
		}
		return PatchResult{Path: p.Path, Accepted: true, Content: &newContent, Deleted: deleted}

	case KindTextSet:
		newContent := ""
		if p.Content != nil {
			newContent = *p.Content
		}
		stage[p.Path] = stagedFile{content: &newContent}
		return PatchResult{Path: p.Path, Accepted: true, Content: &newContent}

	case KindTextPatch:
		tree, ok := v.sessions.Get(p.SessionTimestamp)
		if !ok {
			metrics.RecordStaleSessionRejection()
			return PatchResult{Path: p.Path, Accepted: false, Content: &current}
		}
		ops, err := crdtOps(p.Operations)
		if err != nil {
			return PatchResult{Path: p.Path, Accepted: false, Content: &current}
		}
		newContent, ok := crdt.Apply(current, ops, tree)
		if !ok {
			return PatchResult{Path: p.Path, Accepted: false, Content: &current}
		}
		stage[p.Path] = stagedFile{content: &newContent}
		return PatchResult{Path: p.Path, Accepted: true, Content: &newContent}

	default:
		return PatchResult{Path: p.Path, Accepted: false, Content: &current}
	}
}

// readStaged reads a path through the in-flight stage, falling back to the
// committed store. Returns the content and whether the file exists.
func (v *Volume) readStaged(ctx context.Context, path string, stage map[string]stagedFile) (string, bool) {
	if staged, ok := stage[path]; ok {
		if staged.content == nil {
			return "", false
		}
		return *staged.content, true
	}
	content, err := v.fs.ReadFile(ctx, path)
	if err != nil {
		if !errors.Is(err, fsstore.ErrNotExist) {
			logging.Warn("read failed during apply",
				zap.String("volume", v.id),
				zap.String("path", path),
				zap.Error(err))
		}
		return "", false
	}
	return content, true
}

// List returns the snapshot under path. The content selector picks which
// entries carry their bytes: "true" for all, "false" or empty for none, any
// other value as a path prefix filter.
func (v *Volume) List(ctx context.Context, path, contentSelector string) (*ListResponse, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	paths, err := v.fs.ReadDir(ctx, path)
	if err != nil {
		return nil, err
	}

	fs := make(map[string]FileEntry, len(paths))
	for _, p := range paths {
		entry := FileEntry{}
		if includeContent(p, contentSelector) {
			content, err := v.fs.ReadFile(ctx, p)
			if err != nil {
				return nil, err
			}
			entry.Content = &content
		}
		fs[p] = entry
	}

	return &ListResponse{Timestamp: v.ts, VolumeID: v.id, FS: fs}, nil
}

func includeContent(path, selector string) bool {
	switch selector {
	case "true":
		return true
	case "", "false":
		return false
	default:
		return strings.HasPrefix(path, selector)
	}
}

// Put replaces the whole volume: clear every tier, then write all entries
// concurrently. The version advances and a change event is broadcast per
// written file.
func (v *Volume) Put(ctx context.Context, files map[string]FileEntry) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.fs.Clear(ctx); err != nil {
		return 0, err
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(files))
	for path, entry := range files {
		content := ""
		if entry.Content != nil {
			content = *entry.Content
		}
		wg.Add(1)
		go func(path, content string) {
			defer wg.Done()
			if err := v.fs.WriteFile(ctx, path, content); err != nil {
				errs <- err
			}
		}(path, content)
	}
	wg.Wait()
	close(errs)
	if err := <-errs; err != nil {
		return 0, err
	}

	ts := v.nextTimestamp()
	v.sessions.Install(ts)

	for path := range files {
		v.broadcaster.Publish(events.ServerEvent{Path: path, Timestamp: ts})
	}
	return ts, nil
}
