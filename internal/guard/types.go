package guard

import (
	"time"
)

// OperationKind is the kind of destructive action an Operation describes.
type OperationKind string

const (
	KindDelete  OperationKind = "delete"
	KindMoveOut OperationKind = "move_out"
	KindRename  OperationKind = "rename"

	// KindRestore marks records written for manual restores. It is not a
	// valid kind for submitted operations.
	KindRestore OperationKind = "restore"
)

// Valid reports whether k can be submitted as an operation.
func (k OperationKind) Valid() bool {
	switch k {
	case KindDelete, KindMoveOut, KindRename:
		return true
	}
	return false
}

// InterceptionMode says whether the hook that produced an Operation can still
// stop it (Preventable) or only reports it after the fact (AdvisoryOnly).
type InterceptionMode string

const (
	ModePreventable InterceptionMode = "preventable"
	ModeAdvisory    InterceptionMode = "advisory"
)

// Resolution is the terminal outcome of an Operation.
type Resolution string

const (
	ResolutionAllowed               Resolution = "allowed"
	ResolutionBlockedAndBackedUp    Resolution = "blocked_backed_up"
	ResolutionBlockedNoBackup       Resolution = "blocked_no_backup"
	ResolutionRestoredAutomatically Resolution = "restored_automatically"
	ResolutionRestoredManually      Resolution = "restored_manually"
	ResolutionAllowedNoPriorBackup  Resolution = "allowed_no_prior_backup"
	ResolutionAllowedUnprotected    Resolution = "allowed_unprotected"
	ResolutionRestoreFailed         Resolution = "restore_failed"
	ResolutionConfirmedDelete       Resolution = "confirmed_delete"
)

// Blocked reports whether the resolution denied the action.
func (r Resolution) Blocked() bool {
	return r == ResolutionBlockedAndBackedUp || r == ResolutionBlockedNoBackup
}

// ProtectedPath is a file or directory under protection.
type ProtectedPath struct {
	Path      string    `json:"path"`
	Recursive bool      `json:"recursive"`
	Enabled   bool      `json:"enabled"`
	AddedAt   time.Time `json:"addedAt"`
}

// Covers reports whether p falls within the entry's scope, ignoring Enabled.
// A recursive entry covers every descendant. A non-recursive entry covers
// itself and its direct children.
func (pp ProtectedPath) Covers(p string) bool {
	if p == pp.Path {
		return true
	}
	if !isUnder(p, pp.Path) {
		return false
	}
	if pp.Recursive {
		return true
	}
	return parentDir(p) == pp.Path
}

// Operation is a normalized candidate destructive action.
type Operation struct {
	ID         string           `json:"id"`
	Kind       OperationKind    `json:"kind"`
	SourcePath string           `json:"sourcePath"`
	DestPath   string           `json:"destPath,omitempty"`
	Actor      string           `json:"actor,omitempty"`
	ObservedAt time.Time        `json:"observedAt"`
	Mode       InterceptionMode `json:"mode"`
	Resolution Resolution       `json:"resolution,omitempty"`
}

// Snapshot is a stored copy of one file's content.
type Snapshot struct {
	ID          string    `json:"id"`
	SourcePath  string    `json:"sourcePath"`
	ContentHash string    `json:"contentHash"`
	SizeBytes   int64     `json:"sizeBytes"`
	StorageRef  string    `json:"storageRef"`
	Encrypted   bool      `json:"encrypted"`
	OperationID string    `json:"operationId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ActivityRecord is the resolved outcome of one Operation. Records that act on
// an earlier operation (manual restore, confirmed delete) carry its id in
// RefOperationID.
type ActivityRecord struct {
	Seq            int64            `json:"seq"`
	OperationID    string           `json:"operationId"`
	RefOperationID string           `json:"refOperationId,omitempty"`
	Kind           OperationKind    `json:"kind"`
	Path           string           `json:"path"`
	DestPath       string           `json:"destPath,omitempty"`
	Actor          string           `json:"actor,omitempty"`
	Mode           InterceptionMode `json:"mode"`
	Resolution     Resolution       `json:"resolution"`
	SnapshotID     string           `json:"snapshotId,omitempty"`
	SnapshotCount  int              `json:"snapshotCount"`
	Detail         string           `json:"detail,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
}

// ActivityFilter selects activity records. Zero fields do not filter.
type ActivityFilter struct {
	Since      time.Time
	Until      time.Time
	PathPrefix string
	Kind       OperationKind
	Resolution Resolution
	Limit      int
}

// ToggleEvent is one write of the global protection switch.
type ToggleEvent struct {
	Seq     int64     `json:"seq"`
	Enabled bool      `json:"enabled"`
	At      time.Time `json:"at"`
}

// Decision is what the engine hands back to the hook that submitted an
// Operation.
type Decision struct {
	OperationID string     `json:"operationId"`
	Allow       bool       `json:"allow"`
	Resolution  Resolution `json:"resolution"`
	SnapshotIDs []string   `json:"snapshotIds,omitempty"`
	Duplicate   bool       `json:"duplicate,omitempty"`
	Detail      string     `json:"detail,omitempty"`
}

// Status is the aggregated daemon state shown to UIs.
type Status struct {
	Enabled              bool             `json:"enabled"`
	ToggledAt            time.Time        `json:"toggledAt"`
	ProtectedFolderCount int              `json:"protectedFolderCount"`
	BackupCount          int              `json:"backupCount"`
	BlockedToday         int              `json:"blockedToday"`
	Healthy              bool             `json:"healthy"`
	Mode                 string           `json:"mode"`
	DegradedReason       string           `json:"degradedReason,omitempty"`
	QueueDepth           int              `json:"queueDepth"`
	DroppedEvents        int64            `json:"droppedEvents"`
	RecentActivity       []ActivityRecord `json:"recentActivity"`
}
