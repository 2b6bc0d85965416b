package guard

import (
	"context"
	"time"
)

// Database is the durable store behind the registry, the activity log, the
// snapshot manifest and the protection switch. Lookups that find nothing
// return (nil, nil).
type Database interface {
	// Protected paths

	InsertProtectedPath(ctx context.Context, p ProtectedPath) error
	// DeleteProtectedPath reports whether a row was removed.
	DeleteProtectedPath(ctx context.Context, path string) (bool, error)
	// SetProtectedPathEnabled reports whether a row was updated.
	SetProtectedPathEnabled(ctx context.Context, path string, enabled bool) (bool, error)
	ListProtectedPaths(ctx context.Context) ([]ProtectedPath, error)

	// Protection switch

	AppendToggleEvent(ctx context.Context, enabled bool, at time.Time) (*ToggleEvent, error)
	LatestToggleEvent(ctx context.Context) (*ToggleEvent, error)

	// Snapshot manifest

	InsertSnapshot(ctx context.Context, s Snapshot) error
	FindSnapshot(ctx context.Context, id string) (*Snapshot, error)
	// FindSnapshotsByOperation returns snapshots taken for one operation, by path.
	FindSnapshotsByOperation(ctx context.Context, operationID string) ([]Snapshot, error)
	// LatestSnapshotsWithin returns the newest snapshot of every source path
	// equal to or beneath root.
	LatestSnapshotsWithin(ctx context.Context, root string) ([]Snapshot, error)
	// ListSnapshotsForPath returns every snapshot of one source path, newest first.
	ListSnapshotsForPath(ctx context.Context, sourcePath string) ([]Snapshot, error)
	// ListSnapshots returns snapshots within root (all when root is empty), newest first.
	ListSnapshots(ctx context.Context, root string, limit int) ([]Snapshot, error)
	SnapshotSourcePaths(ctx context.Context) ([]string, error)
	DeleteSnapshot(ctx context.Context, id string) error
	CountSnapshotsByStorageRef(ctx context.Context, ref string) (int, error)
	CountSnapshots(ctx context.Context) (int, error)

	// Activity log

	// AppendActivity stores rec and returns it with its sequence number set.
	AppendActivity(ctx context.Context, rec ActivityRecord) (*ActivityRecord, error)
	// QueryActivity returns up to limit records with seq < beforeSeq, newest first.
	QueryActivity(ctx context.Context, filter ActivityFilter, beforeSeq int64, limit int) ([]ActivityRecord, error)
	// FindActivityByOperation returns the record that resolved operationID.
	FindActivityByOperation(ctx context.Context, operationID string) (*ActivityRecord, error)
	// FindActivityByRef returns the first record referencing operationID with the given resolution.
	FindActivityByRef(ctx context.Context, operationID string, r Resolution) (*ActivityRecord, error)
	CountActivity(ctx context.Context, resolutions []Resolution, since time.Time) (int, error)

	// Probe performs a small write to confirm the store is writable.
	Probe(ctx context.Context, at time.Time) error

	Close() error
}
