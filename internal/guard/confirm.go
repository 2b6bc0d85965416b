package guard

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

// ConfirmDelete carries out an operation that was earlier blocked and backed
// up. It is the only way a blocked destructive action goes ahead; retrying
// the raw filesystem call is blocked again.
func (e *Engine) ConfirmDelete(ctx context.Context, operationID, actor string) (*ActivityRecord, error) {
	if !e.cfg.AllowConfirmedDelete {
		return nil, fmt.Errorf("%w: confirmed deletes are disabled", ErrNotConfirmable)
	}

	orig, err := e.activity.ForOperation(ctx, operationID)
	if err != nil {
		return nil, err
	}
	if orig.Resolution != ResolutionBlockedAndBackedUp || orig.Mode != ModePreventable {
		return nil, fmt.Errorf("%w: operation %s resolved as %s", ErrNotConfirmable, operationID, orig.Resolution)
	}

	unlock := e.locks.lock(orig.Path, orig.DestPath)
	defer unlock()

	done, err := e.activity.FindRef(ctx, operationID, ResolutionConfirmedDelete)
	if err != nil {
		return nil, fmt.Errorf("checking earlier confirmation: %w", err)
	}
	if done != nil {
		return nil, fmt.Errorf("%w: operation %s already confirmed", ErrNotConfirmable, operationID)
	}

	snaps, err := e.store.ForOperation(ctx, operationID)
	if err != nil {
		return nil, err
	}
	for i := range snaps {
		if err := e.store.Verify(&snaps[i]); err != nil {
			return nil, err
		}
	}

	info, err := e.fsys.Lstat(orig.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, orig.Path)
		}
		return nil, fmt.Errorf("stat %s: %w", orig.Path, err)
	}
	if info.IsDir() {
		err = e.matchesSnapshots(orig.Path, snaps)
	} else if len(snaps) != 1 || e.contentHash(orig.Path) != snaps[0].ContentHash {
		err = fmt.Errorf("%w: %s changed since it was backed up", ErrNotConfirmable, orig.Path)
	}
	if err != nil {
		return nil, err
	}

	rec := ActivityRecord{
		OperationID:    e.ids.New(),
		RefOperationID: operationID,
		Kind:           orig.Kind,
		Path:           orig.Path,
		DestPath:       orig.DestPath,
		Actor:          actor,
		Mode:           ModePreventable,
		Resolution:     ResolutionConfirmedDelete,
		SnapshotID:     orig.SnapshotID,
		SnapshotCount:  orig.SnapshotCount,
	}
	e.dedup.settle(orig.Path, Decision{OperationID: rec.OperationID, Allow: true, Resolution: ResolutionConfirmedDelete})

	switch orig.Kind {
	case KindDelete:
		err = e.fsys.Remove(orig.Path)
	default:
		err = e.fsys.Rename(orig.Path, orig.DestPath)
	}
	if err != nil {
		return nil, fmt.Errorf("performing %s: %w", orig.Kind, err)
	}

	rec.Timestamp = e.clock.Now().UTC()
	stored, err := e.activity.Record(ctx, rec)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// matchesSnapshots refuses when the files under the directory path are not
// exactly the ones snaps captured: a file added, removed or edited after the block holds
// content the confirmation would destroy without a backup.
func (e *Engine) matchesSnapshots(path string, snaps []Snapshot) error {
	files, err := e.fsys.FindFiles(path)
	if err != nil {
		return fmt.Errorf("listing %s: %w", path, err)
	}
	want := make(map[string]string, len(snaps))
	for _, s := range snaps {
		want[s.SourcePath] = s.ContentHash
	}
	if len(files) != len(want) {
		return fmt.Errorf("%w: %s holds %d files, %d were backed up", ErrNotConfirmable, path, len(files), len(want))
	}
	for _, f := range files {
		hash, ok := want[f]
		if !ok {
			return fmt.Errorf("%w: %s was added since the backup", ErrNotConfirmable, f)
		}
		if e.contentHash(f) != hash {
			return fmt.Errorf("%w: %s changed since it was backed up", ErrNotConfirmable, f)
		}
	}
	return nil
}

// RestoreRequest selects what a manual restore writes back. Exactly one of
// SnapshotID and OperationID is set. Target applies to single-snapshot
// restores only.
type RestoreRequest struct {
	SnapshotID  string `json:"snapshotId,omitempty"`
	OperationID string `json:"operationId,omitempty"`
	Target      string `json:"targetPath,omitempty"`
	Overwrite   bool   `json:"overwrite,omitempty"`
	Actor       string `json:"actor,omitempty"`
}

// Restore performs a manual restore and records it. Cancellation takes
// effect between files.
func (e *Engine) Restore(ctx context.Context, req RestoreRequest) ([]string, error) {
	var snaps []Snapshot
	switch {
	case req.SnapshotID != "" && req.OperationID != "":
		return nil, fmt.Errorf("%w: specify a snapshot or an operation, not both", ErrInvalidRequest)
	case req.SnapshotID != "":
		snap, err := e.store.Snapshot(ctx, req.SnapshotID)
		if err != nil {
			return nil, err
		}
		snaps = []Snapshot{*snap}
	case req.OperationID != "":
		var err error
		snaps, err = e.store.ForOperation(ctx, req.OperationID)
		if err != nil {
			return nil, err
		}
		if len(snaps) == 0 {
			return nil, fmt.Errorf("%w: no snapshots for operation %s", ErrSnapshotNotFound, req.OperationID)
		}
	default:
		return nil, fmt.Errorf("%w: snapshot or operation required", ErrInvalidRequest)
	}

	target := ""
	if req.Target != "" {
		if len(snaps) != 1 {
			return nil, fmt.Errorf("%w: a target path can only be given for a single snapshot", ErrInvalidRequest)
		}
		var err error
		if target, err = e.fsys.Canonicalize(req.Target); err != nil {
			return nil, err
		}
	}

	var restored []string
	for i := range snaps {
		snap := &snaps[i]
		dest := snap.SourcePath
		if target != "" {
			dest = target
		}
		if err := ctx.Err(); err != nil {
			return restored, err
		}

		unlock := e.locks.lock(dest)
		err := e.store.restoreSnapshot(ctx, snap, dest, req.Overwrite)
		if err == nil {
			_, err = e.activity.Record(ctx, ActivityRecord{
				OperationID:    e.ids.New(),
				RefOperationID: snap.OperationID,
				Kind:           KindRestore,
				Path:           dest,
				Actor:          req.Actor,
				Mode:           ModePreventable,
				Resolution:     ResolutionRestoredManually,
				SnapshotID:     snap.ID,
				SnapshotCount:  1,
				Timestamp:      e.clock.Now().UTC(),
			})
		}
		unlock()
		if err != nil {
			return restored, err
		}
		restored = append(restored, dest)
	}
	return restored, nil
}
