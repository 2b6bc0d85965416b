package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// encryptedRefSuffix keeps encrypted and plaintext objects of the same
// content apart in the vault.
const encryptedRefSuffix = ".age"

// RetentionPolicy bounds how many snapshots are kept per source path.
// Zero values disable the corresponding limit.
type RetentionPolicy struct {
	MaxSnapshotsPerPath int
	MaxAge              time.Duration
}

// StoreOptions wires a BackupStore.
type StoreOptions struct {
	DB        Database
	Vault     Vault
	Spool     Spool
	FS        Filesystem
	Registry  *Registry
	Encryptor Encryptor         // nil stores plaintext
	Decryptor DecryptionContext // nil cannot read encrypted snapshots
	Retention RetentionPolicy
	Clock     Clock
	IDs       IDGenerator
	Logger    Logger
	Metrics   Metrics
}

// BackupStore creates, verifies, restores and evicts snapshots.
type BackupStore struct {
	db        Database
	vault     Vault
	spool     Spool
	fsys      Filesystem
	registry  *Registry
	enc       Encryptor
	dec       DecryptionContext
	retention RetentionPolicy
	clock     Clock
	ids       IDGenerator
	logger    Logger
	metrics   Metrics

	// refs serializes storing and purging of one vault object, so a purge
	// never removes content a new snapshot is about to reference.
	refs *pathLocks
	// paths is shared by every writer of snapshots for a source path: the
	// engine and the scanner.
	paths *pathLocks
}

// NewBackupStore creates a BackupStore. Nil clock, ids, logger and metrics
// fall back to real or no-op implementations.
func NewBackupStore(opts StoreOptions) *BackupStore {
	s := &BackupStore{
		db:        opts.DB,
		vault:     opts.Vault,
		spool:     opts.Spool,
		fsys:      opts.FS,
		registry:  opts.Registry,
		enc:       opts.Encryptor,
		dec:       opts.Decryptor,
		retention: opts.Retention,
		clock:     opts.Clock,
		ids:       opts.IDs,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		refs:      newPathLocks(),
		paths:     newPathLocks(),
	}
	if s.clock == nil {
		s.clock = RealClock{}
	}
	if s.ids == nil {
		s.ids = UUIDGenerator{}
	}
	if s.logger == nil {
		s.logger = NewNopLogger()
	}
	if s.metrics == nil {
		s.metrics = NopMetrics{}
	}
	return s
}

// Put snapshots the current content of the regular file at sourcePath.
func (s *BackupStore) Put(ctx context.Context, sourcePath, operationID string) (*Snapshot, error) {
	start := s.clock.Now()
	snap, err := s.put(ctx, sourcePath, operationID)
	s.metrics.ObserveBackup(s.clock.Now().Sub(start), err)
	return snap, err
}

func (s *BackupStore) put(ctx context.Context, sourcePath, operationID string) (*Snapshot, error) {
	info, err := s.fsys.Lstat(sourcePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, sourcePath)
		}
		return nil, fmt.Errorf("%w: stat %s: %w", ErrBackupWriteFailed, sourcePath, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: not a regular file: %s", ErrUnsupportedOperation, sourcePath)
	}

	src, err := s.fsys.Open(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrBackupWriteFailed, sourcePath, err)
	}
	sp, err := s.spool.Capture(src)
	src.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: copying %s: %w", ErrBackupWriteFailed, sourcePath, err)
	}
	defer sp.Release()

	// The copy must describe one version of the file.
	after, err := s.fsys.Lstat(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("%w: re-stat %s: %w", ErrBackupWriteFailed, sourcePath, err)
	}
	if after.Size() != info.Size() || !after.ModTime().Equal(info.ModTime()) || sp.Size() != info.Size() {
		return nil, fmt.Errorf("%w: %s changed while being copied", ErrBackupWriteFailed, sourcePath)
	}

	snap := Snapshot{
		ID:          s.ids.New(),
		SourcePath:  sourcePath,
		ContentHash: sp.Checksum(),
		SizeBytes:   sp.Size(),
		StorageRef:  s.storageRef(sp.Checksum()),
		Encrypted:   s.enc != nil,
		OperationID: operationID,
		CreatedAt:   s.clock.Now().UTC(),
	}

	unlock := s.refs.lock(snap.StorageRef)
	err = s.storeContent(sp, &snap)
	if err == nil {
		if err = s.db.InsertSnapshot(ctx, snap); err != nil {
			err = fmt.Errorf("recording snapshot: %w", err)
		}
	}
	unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackupWriteFailed, err)
	}

	s.logger.Debug("snapshot stored", "path", sourcePath, "snapshot", snap.ID, "hash", snap.ContentHash, "size", snap.SizeBytes)

	if _, err := s.ApplyRetention(ctx, sourcePath); err != nil {
		s.logger.Warn("retention failed", "path", sourcePath, "error", err)
	}
	return &snap, nil
}

// PutTree snapshots every regular file at or beneath root.
func (s *BackupStore) PutTree(ctx context.Context, root, operationID string) ([]Snapshot, error) {
	files, err := s.fsys.FindFiles(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, root)
		}
		return nil, fmt.Errorf("%w: listing %s: %w", ErrBackupWriteFailed, root, err)
	}
	snaps := make([]Snapshot, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return snaps, err
		}
		snap, err := s.Put(ctx, f, operationID)
		if err != nil {
			return snaps, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, nil
}

func (s *BackupStore) storageRef(hash string) string {
	if s.enc != nil {
		return hash + encryptedRefSuffix
	}
	return hash
}

// storeContent writes the spooled bytes under snap.StorageRef unless an
// intact object is already there, then verifies what the vault holds.
func (s *BackupStore) storeContent(sp SpooledContent, snap *Snapshot) error {
	exists, err := s.vault.HasContent(snap.StorageRef)
	if err != nil {
		return fmt.Errorf("checking vault: %w", err)
	}
	if exists {
		if err := s.verifyObject(snap); err == nil {
			return nil
		}
		s.logger.Warn("replacing damaged vault object", "ref", snap.StorageRef)
		if err := s.vault.DeleteContent(snap.StorageRef); err != nil {
			return fmt.Errorf("removing damaged object: %w", err)
		}
	}

	if err := s.writeObject(sp, snap.StorageRef); err != nil {
		return err
	}
	return s.verifyObject(snap)
}

func (s *BackupStore) writeObject(sp SpooledContent, ref string) error {
	r, err := sp.Open()
	if err != nil {
		return fmt.Errorf("opening spooled copy: %w", err)
	}
	defer r.Close()

	if s.enc == nil {
		return s.vault.PutContent(ref, r, sp.Size())
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(s.enc.Encrypt(r, pw))
	}()
	err = s.vault.PutContent(ref, pr, -1)
	pr.CloseWithError(errors.Join(err, io.ErrClosedPipe))
	return err
}

// verifyObject reads the stored object back and checks it against the
// snapshot's hash and size.
func (s *BackupStore) verifyObject(snap *Snapshot) error {
	if snap.Encrypted && s.dec == nil {
		// Without the private key only presence can be checked.
		ok, err := s.vault.HasContent(snap.StorageRef)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: object %s missing", ErrIntegrity, snap.StorageRef)
		}
		return nil
	}
	h := sha256.New()
	rc := s.plaintext(snap)
	defer rc.Close()
	n, err := io.Copy(h, rc)
	if err != nil {
		return s.readError(snap, err)
	}
	if n != snap.SizeBytes || hex.EncodeToString(h.Sum(nil)) != snap.ContentHash {
		return fmt.Errorf("%w: snapshot %s", ErrIntegrity, snap.ID)
	}
	return nil
}

// plaintext streams a snapshot's decrypted content.
func (s *BackupStore) plaintext(snap *Snapshot) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		if !snap.Encrypted {
			pw.CloseWithError(s.vault.GetContent(snap.StorageRef, pw))
			return
		}
		if s.dec == nil {
			pw.CloseWithError(errors.New("snapshot is encrypted and no passphrase was provided"))
			return
		}
		er, ew := io.Pipe()
		go func() {
			ew.CloseWithError(s.vault.GetContent(snap.StorageRef, ew))
		}()
		err := s.dec.Decrypt(er, pw)
		er.CloseWithError(errors.Join(err, io.ErrClosedPipe))
		pw.CloseWithError(err)
	}()
	return pr
}

func (s *BackupStore) readError(snap *Snapshot, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: object %s missing for snapshot %s", ErrIntegrity, snap.StorageRef, snap.ID)
	}
	return fmt.Errorf("reading snapshot %s: %w", snap.ID, err)
}

// Snapshot returns the manifest row for id.
func (s *BackupStore) Snapshot(ctx context.Context, id string) (*Snapshot, error) {
	snap, err := s.db.FindSnapshot(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding snapshot: %w", err)
	}
	if snap == nil {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	return snap, nil
}

// Get writes the verified content of a snapshot to w. Nothing is written
// when verification fails.
func (s *BackupStore) Get(ctx context.Context, id string, w io.Writer) error {
	snap, err := s.Snapshot(ctx, id)
	if err != nil {
		return err
	}
	rc := s.plaintext(snap)
	sp, err := s.spool.Capture(rc)
	rc.Close()
	if err != nil {
		return s.readError(snap, err)
	}
	defer sp.Release()
	if sp.Checksum() != snap.ContentHash || sp.Size() != snap.SizeBytes {
		return fmt.Errorf("%w: snapshot %s", ErrIntegrity, snap.ID)
	}

	r, err := sp.Open()
	if err != nil {
		return fmt.Errorf("opening verified copy: %w", err)
	}
	defer r.Close()
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("writing snapshot content: %w", err)
	}
	return nil
}

// Restore writes snapshot id to target, or to its source path when target
// is empty, and returns the path written.
func (s *BackupStore) Restore(ctx context.Context, id, target string, overwrite bool) (string, error) {
	snap, err := s.Snapshot(ctx, id)
	if err != nil {
		return "", err
	}
	if target == "" {
		target = snap.SourcePath
	} else if target, err = s.fsys.Canonicalize(target); err != nil {
		return "", err
	}
	if err := s.restoreSnapshot(ctx, snap, target, overwrite); err != nil {
		return "", err
	}
	return target, nil
}

// restoreSnapshot writes to a temp file next to target, verifies it and
// moves it into place, so a failed restore leaves no partial file.
func (s *BackupStore) restoreSnapshot(ctx context.Context, snap *Snapshot, target string, overwrite bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !overwrite {
		if _, err := s.fsys.Lstat(target); err == nil {
			return fmt.Errorf("%w: %s", ErrTargetConflict, target)
		}
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".foldguard-restore-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	h := sha256.New()
	rc := s.plaintext(snap)
	n, err := io.Copy(io.MultiWriter(tmp, h), rc)
	rc.Close()
	if err != nil {
		tmp.Close()
		return s.readError(snap, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if n != snap.SizeBytes || hex.EncodeToString(h.Sum(nil)) != snap.ContentHash {
		return fmt.Errorf("%w: snapshot %s", ErrIntegrity, snap.ID)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}

	if overwrite {
		if err := os.Rename(tmpPath, target); err != nil {
			return fmt.Errorf("moving restored file into place: %w", err)
		}
	} else {
		// Link fails if target appeared since the check above.
		if err := os.Link(tmpPath, target); err != nil {
			if errors.Is(err, fs.ErrExist) {
				return fmt.Errorf("%w: %s", ErrTargetConflict, target)
			}
			return fmt.Errorf("linking restored file: %w", err)
		}
		os.Remove(tmpPath)
	}
	success = true

	s.logger.Info("snapshot restored", "snapshot", snap.ID, "target", target)
	return nil
}

// LatestWithin returns the newest snapshot of every source path at or
// beneath root.
func (s *BackupStore) LatestWithin(ctx context.Context, root string) ([]Snapshot, error) {
	snaps, err := s.db.LatestSnapshotsWithin(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("finding latest snapshots: %w", err)
	}
	return snaps, nil
}

// List returns snapshots within root, newest first.
func (s *BackupStore) List(ctx context.Context, root string, limit int) ([]Snapshot, error) {
	return s.db.ListSnapshots(ctx, root, limit)
}

// Count returns the number of snapshots in the manifest.
func (s *BackupStore) Count(ctx context.Context) (int, error) {
	return s.db.CountSnapshots(ctx)
}

// Purge deletes one snapshot and its content when nothing else references it.
func (s *BackupStore) Purge(ctx context.Context, id string) error {
	snap, err := s.Snapshot(ctx, id)
	if err != nil {
		return err
	}
	return s.purge(ctx, snap)
}

func (s *BackupStore) purge(ctx context.Context, snap *Snapshot) error {
	unlock := s.refs.lock(snap.StorageRef)
	defer unlock()

	if err := s.db.DeleteSnapshot(ctx, snap.ID); err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", snap.ID, err)
	}
	refs, err := s.db.CountSnapshotsByStorageRef(ctx, snap.StorageRef)
	if err != nil {
		return fmt.Errorf("counting references: %w", err)
	}
	if refs == 0 {
		if err := s.vault.DeleteContent(snap.StorageRef); err != nil {
			return fmt.Errorf("deleting content %s: %w", snap.StorageRef, err)
		}
	}
	return nil
}

// ForOperation returns the snapshots taken for one operation.
func (s *BackupStore) ForOperation(ctx context.Context, operationID string) ([]Snapshot, error) {
	snaps, err := s.db.FindSnapshotsByOperation(ctx, operationID)
	if err != nil {
		return nil, fmt.Errorf("finding snapshots for operation: %w", err)
	}
	return snaps, nil
}

// Verify checks that the vault still holds intact content for snap.
func (s *BackupStore) Verify(snap *Snapshot) error {
	return s.verifyObject(snap)
}
