// Package locker provides a per-path mutex set for serialising same-path
// mutations.
package locker

import "sync"

// PathLocker hands out one mutex per path, created lazily on first request
// and retained for the lifetime of the locker.
type PathLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an empty locker.
func New() *PathLocker {
	return &PathLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *PathLocker) lockFor(path string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[path]
	if !ok {
		m = &sync.Mutex{}
		l.locks[path] = m
	}
	return m
}

// LockMany acquires the mutex of every distinct path concurrently and
// returns a release function that drops them all. Duplicate paths are
// acquired once; a duplicate would otherwise deadlock against itself.
func (l *PathLocker) LockMany(paths []string) func() {
	seen := make(map[string]struct{}, len(paths))
	deduped := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		deduped = append(deduped, p)
	}

	var wg sync.WaitGroup
	held := make([]*sync.Mutex, len(deduped))
	for i, p := range deduped {
		m := l.lockFor(p)
		held[i] = m
		wg.Add(1)
		go func(m *sync.Mutex) {
			defer wg.Done()
			m.Lock()
		}(m)
	}
	wg.Wait()

	var once sync.Once
	return func() {
		once.Do(func() {
			for _, m := range held {
				m.Unlock()
			}
		})
	}
}
