package guard

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Health tracks whether durable storage is writable. A degraded daemon keeps
// evaluating operations but refuses registry and toggle writes.
type Health struct {
	db     Database
	vault  Vault
	clock  Clock
	logger Logger

	mu       sync.RWMutex
	degraded bool
	reason   string
	since    time.Time
}

func NewHealth(db Database, vault Vault, clock Clock, logger Logger) *Health {
	return &Health{db: db, vault: vault, clock: clock, logger: logger}
}

// Check probes the database and the vault and updates the state.
func (h *Health) Check(ctx context.Context) error {
	err := h.db.Probe(ctx, h.clock.Now().UTC())
	if err != nil {
		err = fmt.Errorf("database not writable: %w", err)
	} else if verr := h.vault.ValidateSetup(); verr != nil {
		err = fmt.Errorf("vault not writable: %w", verr)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case err != nil && !h.degraded:
		h.degraded = true
		h.reason = err.Error()
		h.since = h.clock.Now().UTC()
		h.logger.Error("storage degraded", "reason", h.reason)
	case err != nil:
		h.reason = err.Error()
	case h.degraded:
		h.logger.Info("storage recovered", "degradedFor", h.clock.Now().Sub(h.since).String())
		h.degraded = false
		h.reason = ""
	}
	return err
}

// State returns whether storage is healthy and, if not, why.
func (h *Health) State() (bool, string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.degraded, h.reason
}

// Require returns ErrDegraded while storage is unhealthy.
func (h *Health) Require() error {
	ok, reason := h.State()
	if ok {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrDegraded, reason)
}
