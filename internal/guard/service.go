package guard

import (
	"context"
	"fmt"
	"time"
)

// recentActivityCount is how many records Status includes.
const recentActivityCount = 10

// Service is the command and query surface over the core. Every Control
// API call lands on one of its methods.
type Service struct {
	Registry *Registry
	Switch   *Switch
	Engine   *Engine
	Store    *BackupStore
	Activity *ActivityLog
	Scanner  *Scanner
	Health   *Health
	Clock    Clock
	Logger   Logger

	// ScanOnProtect starts a baseline scan whenever a path is protected.
	ScanOnProtect bool
}

// Status aggregates the daemon state.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	toggle := s.Switch.Current()
	healthy, reason := s.Health.State()

	backups, err := s.Store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting snapshots: %w", err)
	}

	now := s.Clock.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	blocked, err := s.Activity.BlockedSince(ctx, midnight.UTC())
	if err != nil {
		return nil, fmt.Errorf("counting blocked operations: %w", err)
	}

	recent, err := s.Activity.Recent(ctx, recentActivityCount)
	if err != nil {
		return nil, err
	}
	if recent == nil {
		recent = []ActivityRecord{}
	}

	mode := "active"
	switch {
	case !healthy:
		mode = "degraded"
	case !toggle.Enabled:
		mode = "paused"
	}

	return &Status{
		Enabled:              toggle.Enabled,
		ToggledAt:            toggle.At,
		ProtectedFolderCount: len(s.Registry.List()),
		BackupCount:          backups,
		BlockedToday:         blocked,
		Healthy:              healthy,
		Mode:                 mode,
		DegradedReason:       reason,
		QueueDepth:           s.Engine.QueueDepth(),
		DroppedEvents:        s.Engine.Dropped(),
		RecentActivity:       recent,
	}, nil
}

// SetProtection writes the global toggle.
func (s *Service) SetProtection(ctx context.Context, enabled bool) (ToggleEvent, error) {
	if err := s.Health.Require(); err != nil {
		return ToggleEvent{}, err
	}
	return s.Switch.Set(ctx, enabled)
}

// Protect registers path and, when configured, starts a baseline scan.
func (s *Service) Protect(ctx context.Context, path string, recursive bool) (*ProtectedPath, error) {
	if err := s.Health.Require(); err != nil {
		return nil, err
	}
	entry, err := s.Registry.Add(ctx, path, recursive)
	if err != nil {
		return nil, err
	}
	if s.ScanOnProtect && s.Scanner != nil {
		if _, err := s.Scanner.Start(entry.Path); err != nil {
			s.Logger.Warn("baseline scan not started", "path", entry.Path, "error", err)
		}
	}
	return entry, nil
}

// Unprotect removes path from the registry.
func (s *Service) Unprotect(ctx context.Context, path string) error {
	if err := s.Health.Require(); err != nil {
		return err
	}
	return s.Registry.Remove(ctx, path)
}

// SetPathEnabled enables or disables one entry.
func (s *Service) SetPathEnabled(ctx context.Context, path string, enabled bool) (*ProtectedPath, error) {
	if err := s.Health.Require(); err != nil {
		return nil, err
	}
	return s.Registry.SetEnabled(ctx, path, enabled)
}

// ProtectedPaths lists the registry.
func (s *Service) ProtectedPaths() []ProtectedPath {
	return s.Registry.List()
}

// QueryActivity returns records matching filter, newest first.
func (s *Service) QueryActivity(ctx context.Context, filter ActivityFilter) ([]ActivityRecord, error) {
	return s.Activity.Collect(ctx, filter)
}

// Snapshots lists snapshots within root, newest first.
func (s *Service) Snapshots(ctx context.Context, root string, limit int) ([]Snapshot, error) {
	if root != "" {
		p, err := s.Registry.fsys.Canonicalize(root)
		if err != nil {
			return nil, err
		}
		root = p
	}
	return s.Store.List(ctx, root, limit)
}

// Restore performs a manual restore.
func (s *Service) Restore(ctx context.Context, req RestoreRequest) ([]string, error) {
	return s.Engine.Restore(ctx, req)
}

// StartScan launches a scan job.
func (s *Service) StartScan(path string) (ScanJob, error) {
	return s.Scanner.Start(path)
}

// ScanJob returns a job's progress.
func (s *Service) ScanJob(id string) (ScanJob, error) {
	return s.Scanner.Get(id)
}

// CancelScan stops a job at its next file boundary.
func (s *Service) CancelScan(id string) (ScanJob, error) {
	return s.Scanner.Cancel(id)
}

// Submit passes an operation from a Preventable hook to the engine.
func (s *Service) Submit(ctx context.Context, op Operation) (Decision, error) {
	return s.Engine.Submit(ctx, op)
}

// ConfirmDelete performs a previously blocked operation.
func (s *Service) ConfirmDelete(ctx context.Context, operationID, actor string) (*ActivityRecord, error) {
	return s.Engine.ConfirmDelete(ctx, operationID, actor)
}
