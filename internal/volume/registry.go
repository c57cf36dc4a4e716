package volume

import (
	"context"
	"strings"
	"sync"

	"github.com/fruitsalade/volumefs/internal/kv"
	"github.com/fruitsalade/volumefs/internal/metrics"
)

// Registry creates volumes lazily on first touch and keeps them for the
// process lifetime. Each volume gets a namespaced view of the shared store;
// ephemeral volumes get none.
type Registry struct {
	mu         sync.Mutex
	volumes    map[string]*registryEntry
	store      kv.Store
	sessionCap int
}

type registryEntry struct {
	once sync.Once
	vol  *Volume
	err  error
}

// NewRegistry creates a registry over store. A nil store makes every volume
// memory-only.
func NewRegistry(store kv.Store, sessionCap int) *Registry {
	return &Registry{
		volumes:    make(map[string]*registryEntry),
		store:      store,
		sessionCap: sessionCap,
	}
}

// Get returns the volume named id, creating and hydrating it on first
// touch. Concurrent callers for the same id share one initialisation;
// callers for other volumes are not blocked by it.
func (r *Registry) Get(ctx context.Context, id string) (*Volume, error) {
	r.mu.Lock()
	entry, ok := r.volumes[id]
	if !ok {
		entry = &registryEntry{}
		r.volumes[id] = entry
	}
	count := len(r.volumes)
	r.mu.Unlock()

	metrics.SetVolumesActive(int64(count))

	entry.once.Do(func() {
		entry.vol, entry.err = New(ctx, id, r.volumeStore(id), r.sessionCap)
	})
	return entry.vol, entry.err
}

// volumeStore returns the namespaced store view for a volume, or nil for
// ephemeral volumes.
func (r *Registry) volumeStore(id string) kv.Store {
	if r.store == nil || strings.HasPrefix(id, EphemeralPrefix) {
		return nil
	}
	return kv.Prefixed(r.store, "volume::"+id+"::")
}
