package guard

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Switch is the global protection toggle. Each write is persisted as a
// ToggleEvent before it becomes visible; the engine reads the current event
// once per operation, so in-flight evaluations keep the value they started with.
type Switch struct {
	db     Database
	clock  Clock
	logger Logger

	mu    sync.Mutex
	state atomic.Pointer[ToggleEvent]
}

// NewSwitch restores the last persisted event, or starts at initial when
// none has been written.
func NewSwitch(ctx context.Context, db Database, clock Clock, logger Logger, initial bool) (*Switch, error) {
	s := &Switch{db: db, clock: clock, logger: logger}
	ev, err := db.LatestToggleEvent(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading protection state: %w", err)
	}
	if ev == nil {
		ev = &ToggleEvent{Enabled: initial}
	}
	s.state.Store(ev)
	return s, nil
}

// Current returns the latest toggle event.
func (s *Switch) Current() ToggleEvent {
	return *s.state.Load()
}

// Set persists a new toggle event and publishes it.
func (s *Switch) Set(ctx context.Context, enabled bool) (ToggleEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, err := s.db.AppendToggleEvent(ctx, enabled, s.clock.Now().UTC())
	if err != nil {
		return ToggleEvent{}, fmt.Errorf("persisting protection state: %w", err)
	}
	s.state.Store(ev)
	s.logger.Info("protection toggled", "enabled", enabled, "seq", ev.Seq)
	return *ev, nil
}
