package guard_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"foldguard/internal/guard"
	"foldguard/internal/testutil"
)

func TestEngine_Restore(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*testutil.Harness, string, *guard.Snapshot) {
		t.Helper()
		h := testutil.NewHarness(t, testutil.HarnessOptions{})
		file := filepath.Join(h.Dir, "docs", "letter.txt")
		testutil.WriteFile(t, file, "dear friend")
		h.Protect(t, filepath.Join(h.Dir, "docs"), true)
		snap, err := h.Store.Put(ctx, file, "")
		if err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		return h, file, snap
	}

	t.Run("restores a snapshot to its source", func(t *testing.T) {
		h, file, snap := setup(t)
		os.Remove(file)

		paths, err := h.Engine.Restore(ctx, guard.RestoreRequest{SnapshotID: snap.ID, Actor: "bob"})
		if err != nil {
			t.Fatalf("Restore() error = %v", err)
		}
		if len(paths) != 1 || paths[0] != file {
			t.Errorf("Restore() = %v, want [%s]", paths, file)
		}
		if testutil.ReadFile(t, file) != "dear friend" {
			t.Error("content not restored")
		}

		recs, err := h.Activity.Collect(ctx, guard.ActivityFilter{Resolution: guard.ResolutionRestoredManually})
		if err != nil {
			t.Fatalf("Collect() error = %v", err)
		}
		if len(recs) != 1 || recs[0].Kind != guard.KindRestore || recs[0].SnapshotID != snap.ID {
			t.Errorf("restore records = %+v", recs)
		}
	})

	t.Run("refuses to overwrite without permission", func(t *testing.T) {
		h, file, snap := setup(t)
		testutil.WriteFile(t, file, "rewritten")

		_, err := h.Engine.Restore(ctx, guard.RestoreRequest{SnapshotID: snap.ID})
		if !errors.Is(err, guard.ErrTargetConflict) {
			t.Fatalf("Restore() error = %v, want ErrTargetConflict", err)
		}
		if testutil.ReadFile(t, file) != "rewritten" {
			t.Error("conflicting file was changed")
		}

		if _, err := h.Engine.Restore(ctx, guard.RestoreRequest{SnapshotID: snap.ID, Overwrite: true}); err != nil {
			t.Fatalf("Restore(overwrite) error = %v", err)
		}
		if testutil.ReadFile(t, file) != "dear friend" {
			t.Error("overwrite did not restore the snapshot")
		}
	})

	t.Run("restores to another target", func(t *testing.T) {
		h, _, snap := setup(t)
		target := filepath.Join(h.Dir, "recovered", "copy.txt")

		paths, err := h.Engine.Restore(ctx, guard.RestoreRequest{SnapshotID: snap.ID, Target: target})
		if err != nil {
			t.Fatalf("Restore() error = %v", err)
		}
		if paths[0] != target || testutil.ReadFile(t, target) != "dear friend" {
			t.Errorf("Restore() = %v", paths)
		}
	})

	t.Run("restores every snapshot of an operation", func(t *testing.T) {
		h := testutil.NewHarness(t, testutil.HarnessOptions{})
		dir := filepath.Join(h.Dir, "project")
		testutil.WriteFile(t, filepath.Join(dir, "main.go"), "package main")
		testutil.WriteFile(t, filepath.Join(dir, "README"), "hello")
		h.Protect(t, dir, true)

		d := blockedDelete(t, h, dir)
		if err := os.RemoveAll(dir); err != nil {
			t.Fatal(err)
		}

		paths, err := h.Engine.Restore(ctx, guard.RestoreRequest{OperationID: d.OperationID})
		if err != nil {
			t.Fatalf("Restore() error = %v", err)
		}
		if len(paths) != 2 {
			t.Errorf("len(paths) = %d, want 2", len(paths))
		}
		if testutil.ReadFile(t, filepath.Join(dir, "README")) != "hello" {
			t.Error("README not restored")
		}

		_, err = h.Engine.Restore(ctx, guard.RestoreRequest{OperationID: d.OperationID, Target: filepath.Join(h.Dir, "x")})
		if !errors.Is(err, guard.ErrInvalidRequest) {
			t.Errorf("Restore(target, many snapshots) error = %v, want ErrInvalidRequest", err)
		}
	})

	t.Run("rejects bad requests", func(t *testing.T) {
		h, _, snap := setup(t)
		tests := []struct {
			name string
			req  guard.RestoreRequest
			want error
		}{
			{"neither", guard.RestoreRequest{}, guard.ErrInvalidRequest},
			{"both", guard.RestoreRequest{SnapshotID: snap.ID, OperationID: "op"}, guard.ErrInvalidRequest},
			{"unknown snapshot", guard.RestoreRequest{SnapshotID: "missing"}, guard.ErrSnapshotNotFound},
			{"operation without snapshots", guard.RestoreRequest{OperationID: "missing"}, guard.ErrSnapshotNotFound},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := h.Engine.Restore(ctx, tt.req); !errors.Is(err, tt.want) {
					t.Errorf("Restore() error = %v, want %v", err, tt.want)
				}
			})
		}
	})

	t.Run("damaged content leaves no file", func(t *testing.T) {
		h, file, snap := setup(t)
		os.Remove(file)
		h.Vault.Corrupt(snap.StorageRef, []byte("dear fiend!"))

		_, err := h.Engine.Restore(ctx, guard.RestoreRequest{SnapshotID: snap.ID})
		if !errors.Is(err, guard.ErrIntegrity) {
			t.Fatalf("Restore() error = %v, want ErrIntegrity", err)
		}
		if testutil.Exists(file) {
			t.Error("a damaged snapshot was written to the target")
		}
		entries, err := os.ReadDir(filepath.Dir(file))
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 0 {
			t.Errorf("restore left %d files behind", len(entries))
		}
	})

	t.Run("missing content is an integrity error", func(t *testing.T) {
		h, file, snap := setup(t)
		os.Remove(file)
		if err := h.Vault.DeleteContent(snap.StorageRef); err != nil {
			t.Fatal(err)
		}
		_, err := h.Engine.Restore(ctx, guard.RestoreRequest{SnapshotID: snap.ID})
		if !errors.Is(err, guard.ErrIntegrity) {
			t.Errorf("Restore() error = %v, want ErrIntegrity", err)
		}
	})
}
