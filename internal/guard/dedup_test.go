package guard

import (
	"sync"
	"testing"
	"time"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestDedupWindow(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)}
	key := dedupKey{path: "/a", kind: KindDelete, hash: "abc"}

	t.Run("remembers within the window", func(t *testing.T) {
		d := newDedupWindow(2*time.Second, clock)
		d.remember(key, Decision{OperationID: "op-1"})

		clock.advance(time.Second)
		got, ok := d.lookup(key)
		if !ok || got.OperationID != "op-1" {
			t.Fatalf("lookup() = %+v, %v", got, ok)
		}
		if _, ok := d.lookup(dedupKey{path: "/a", kind: KindDelete, hash: "other"}); ok {
			t.Error("lookup() matched a different hash")
		}
		if _, ok := d.lookup(dedupKey{path: "/a", kind: KindDelete, hash: "abc", protected: true}); ok {
			t.Error("lookup() matched across protection states")
		}

		clock.advance(2 * time.Second)
		if _, ok := d.lookup(key); ok {
			t.Error("lookup() matched after the window")
		}
	})

	t.Run("zero window disables", func(t *testing.T) {
		d := newDedupWindow(0, clock)
		d.remember(key, Decision{OperationID: "op-1"})
		if _, ok := d.lookup(key); ok {
			t.Error("lookup() matched with a zero window")
		}
	})

	t.Run("settled roots cover descendants for at least five seconds", func(t *testing.T) {
		d := newDedupWindow(time.Second, clock)
		d.settle("/docs", Decision{OperationID: "confirm-1"})

		clock.advance(3 * time.Second)
		got, ok := d.settledBy("/docs/a/b.txt")
		if !ok || got.OperationID != "confirm-1" {
			t.Fatalf("settledBy() = %+v, %v", got, ok)
		}
		if _, ok := d.settledBy("/docsx"); ok {
			t.Error("settledBy() matched a sibling prefix")
		}

		clock.advance(3 * time.Second)
		if _, ok := d.settledBy("/docs/a/b.txt"); ok {
			t.Error("settledBy() matched after expiry")
		}
	})
}
