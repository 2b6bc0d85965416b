package guard

import (
	"slices"
	"sync"
)

// pathLocks hands out one mutex per canonical path. Entries are reference
// counted and dropped when the last holder unlocks.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*pathLock)}
}

// lock acquires every distinct non-empty path in sorted order and returns
// the matching unlock function.
func (l *pathLocks) lock(paths ...string) func() {
	keys := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != "" {
			keys = append(keys, p)
		}
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)

	held := make([]*pathLock, 0, len(keys))
	for _, k := range keys {
		l.mu.Lock()
		pl, ok := l.locks[k]
		if !ok {
			pl = &pathLock{}
			l.locks[k] = pl
		}
		pl.refs++
		l.mu.Unlock()

		pl.mu.Lock()
		held = append(held, pl)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			pl := held[i]
			pl.mu.Unlock()

			l.mu.Lock()
			pl.refs--
			if pl.refs == 0 {
				delete(l.locks, keys[i])
			}
			l.mu.Unlock()
		}
	}
}

// size returns the number of paths currently tracked.
func (l *pathLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
