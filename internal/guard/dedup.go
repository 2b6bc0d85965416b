package guard

import (
	"sync"
	"time"
)

// dedupKey identifies a raw event for redelivery detection. An event seen
// while the path was unprotected never matches one seen while protected.
type dedupKey struct {
	path      string
	kind      OperationKind
	hash      string
	protected bool
}

type dedupEntry struct {
	decision Decision
	at       time.Time
}

// dedupWindow remembers recent decisions so a redelivered event within the
// window returns the earlier outcome instead of producing a second snapshot
// and record.
type dedupWindow struct {
	window time.Duration
	clock  Clock

	mu      sync.Mutex
	entries map[dedupKey]dedupEntry
	// settled holds roots the daemon itself just removed or moved, so
	// after-the-fact events for anything beneath them are not undone.
	settled map[string]dedupEntry
}

// minSettleWindow bounds how briefly a settled root is remembered.
const minSettleWindow = 5 * time.Second

func newDedupWindow(window time.Duration, clock Clock) *dedupWindow {
	return &dedupWindow{
		window:  window,
		clock:   clock,
		entries: make(map[dedupKey]dedupEntry),
		settled: make(map[string]dedupEntry),
	}
}

func (d *dedupWindow) lookup(k dedupKey) (Decision, bool) {
	if d.window <= 0 {
		return Decision{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	for key, e := range d.entries {
		if now.Sub(e.at) > d.window {
			delete(d.entries, key)
		}
	}
	e, ok := d.entries[k]
	if !ok {
		return Decision{}, false
	}
	return e.decision, true
}

func (d *dedupWindow) remember(k dedupKey, dec Decision) {
	if d.window <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[k] = dedupEntry{decision: dec, at: d.clock.Now()}
}

func (d *dedupWindow) settle(root string, dec Decision) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settled[root] = dedupEntry{decision: dec, at: d.clock.Now()}
}

// settledBy returns the decision that settled a root containing path.
func (d *dedupWindow) settledBy(path string) (Decision, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	window := max(d.window, minSettleWindow)
	now := d.clock.Now()
	for root, e := range d.settled {
		if now.Sub(e.at) > window {
			delete(d.settled, root)
			continue
		}
		if IsWithin(path, root) {
			return e.decision, true
		}
	}
	return Decision{}, false
}
