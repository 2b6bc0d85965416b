package guard

import (
	"context"
	"fmt"
)

// ApplyRetention evicts snapshots of sourcePath beyond the policy limits.
// The newest snapshot of a path that is still registered is always kept.
func (s *BackupStore) ApplyRetention(ctx context.Context, sourcePath string) (int, error) {
	if s.retention.MaxSnapshotsPerPath <= 0 && s.retention.MaxAge <= 0 {
		return 0, nil
	}

	snaps, err := s.db.ListSnapshotsForPath(ctx, sourcePath)
	if err != nil {
		return 0, fmt.Errorf("listing snapshots: %w", err)
	}

	keepNewest := s.registry != nil && s.registry.Governs(sourcePath)
	now := s.clock.Now()

	evicted := 0
	for i := range snaps {
		snap := &snaps[i]
		if i == 0 && keepNewest {
			continue
		}
		byCount := s.retention.MaxSnapshotsPerPath > 0 && i >= s.retention.MaxSnapshotsPerPath
		byAge := s.retention.MaxAge > 0 && now.Sub(snap.CreatedAt) > s.retention.MaxAge
		if !byCount && !byAge {
			continue
		}
		if err := s.purge(ctx, snap); err != nil {
			s.metrics.AddEvicted(evicted)
			return evicted, err
		}
		evicted++
	}

	if evicted > 0 {
		s.metrics.AddEvicted(evicted)
		s.logger.Info("snapshots evicted", "path", sourcePath, "count", evicted)
	}
	return evicted, nil
}

// Sweep applies retention to every path that has snapshots.
func (s *BackupStore) Sweep(ctx context.Context) (int, error) {
	paths, err := s.db.SnapshotSourcePaths(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing snapshot paths: %w", err)
	}
	total := 0
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.ApplyRetention(ctx, p)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
