package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"foldguard/internal/database/migrations"
	"foldguard/internal/guard"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// timeLayout is fixed-width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteDatabase implements guard.Database using SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase opens the database at path and brings its schema up to
// date. path can be a file path or ":memory:".
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing, already migrated connection.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db}
}

// OpenConnection opens and configures a SQLite connection with the PRAGMAs
// the daemon relies on. path can be a file path or ":memory:".
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers and keeps ":memory:" databases
	// from splitting into one database per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

// Protected paths

func (s *SQLiteDatabase) InsertProtectedPath(ctx context.Context, p guard.ProtectedPath) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO protected_paths (path, recursive, enabled, added_at) VALUES (?, ?, ?, ?)`,
		p.Path, p.Recursive, p.Enabled, formatTime(p.AddedAt))
	if err != nil {
		return fmt.Errorf("inserting protected path: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) DeleteProtectedPath(ctx context.Context, path string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM protected_paths WHERE path = ?`, path)
	if err != nil {
		return false, fmt.Errorf("deleting protected path: %w", err)
	}
	return affected(res)
}

func (s *SQLiteDatabase) SetProtectedPathEnabled(ctx context.Context, path string, enabled bool) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE protected_paths SET enabled = ? WHERE path = ?`, enabled, path)
	if err != nil {
		return false, fmt.Errorf("updating protected path: %w", err)
	}
	return affected(res)
}

func (s *SQLiteDatabase) ListProtectedPaths(ctx context.Context) ([]guard.ProtectedPath, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, recursive, enabled, added_at FROM protected_paths ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("listing protected paths: %w", err)
	}
	defer rows.Close()

	var out []guard.ProtectedPath
	for rows.Next() {
		var p guard.ProtectedPath
		var added string
		if err := rows.Scan(&p.Path, &p.Recursive, &p.Enabled, &added); err != nil {
			return nil, fmt.Errorf("scanning protected path: %w", err)
		}
		if p.AddedAt, err = parseTime(added); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Protection switch

func (s *SQLiteDatabase) AppendToggleEvent(ctx context.Context, enabled bool, at time.Time) (*guard.ToggleEvent, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO toggle_events (enabled, at) VALUES (?, ?)`, enabled, formatTime(at))
	if err != nil {
		return nil, fmt.Errorf("appending toggle event: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading toggle sequence: %w", err)
	}
	return &guard.ToggleEvent{Seq: seq, Enabled: enabled, At: at.UTC()}, nil
}

func (s *SQLiteDatabase) LatestToggleEvent(ctx context.Context) (*guard.ToggleEvent, error) {
	var ev guard.ToggleEvent
	var at string
	err := s.db.QueryRowContext(ctx,
		`SELECT seq, enabled, at FROM toggle_events ORDER BY seq DESC LIMIT 1`).
		Scan(&ev.Seq, &ev.Enabled, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding latest toggle event: %w", err)
	}
	if ev.At, err = parseTime(at); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Snapshot manifest

const snapshotColumns = `id, source_path, content_hash, size_bytes, storage_ref, encrypted, operation_id, created_at`

func (s *SQLiteDatabase) InsertSnapshot(ctx context.Context, snap guard.Snapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (`+snapshotColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.SourcePath, snap.ContentHash, snap.SizeBytes, snap.StorageRef,
		snap.Encrypted, snap.OperationID, formatTime(snap.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) FindSnapshot(ctx context.Context, id string) (*guard.Snapshot, error) {
	snaps, err := s.querySnapshots(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE id = ?`, id)
	if err != nil || len(snaps) == 0 {
		return nil, err
	}
	return &snaps[0], nil
}

func (s *SQLiteDatabase) FindSnapshotsByOperation(ctx context.Context, operationID string) ([]guard.Snapshot, error) {
	return s.querySnapshots(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE operation_id = ? ORDER BY source_path`,
		operationID)
}

func (s *SQLiteDatabase) LatestSnapshotsWithin(ctx context.Context, root string) ([]guard.Snapshot, error) {
	return s.querySnapshots(ctx, `
		SELECT `+snapshotColumns+` FROM (
			SELECT `+snapshotColumns+`,
				ROW_NUMBER() OVER (PARTITION BY source_path ORDER BY created_at DESC, rowid DESC) AS rn
			FROM snapshots
			WHERE source_path = ? OR source_path LIKE ? ESCAPE '\'
		) WHERE rn = 1 ORDER BY source_path`,
		root, likeWithin(root))
}

func (s *SQLiteDatabase) ListSnapshotsForPath(ctx context.Context, sourcePath string) ([]guard.Snapshot, error) {
	return s.querySnapshots(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE source_path = ? ORDER BY created_at DESC, rowid DESC`,
		sourcePath)
}

func (s *SQLiteDatabase) ListSnapshots(ctx context.Context, root string, limit int) ([]guard.Snapshot, error) {
	if limit <= 0 {
		limit = -1
	}
	if root == "" {
		return s.querySnapshots(ctx,
			`SELECT `+snapshotColumns+` FROM snapshots ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	}
	return s.querySnapshots(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots
		WHERE source_path = ? OR source_path LIKE ? ESCAPE '\'
		ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		root, likeWithin(root), limit)
}

func (s *SQLiteDatabase) SnapshotSourcePaths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT source_path FROM snapshots ORDER BY source_path`)
	if err != nil {
		return nil, fmt.Errorf("listing snapshot paths: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning snapshot path: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteDatabase) DeleteSnapshot(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) CountSnapshotsByStorageRef(ctx context.Context, ref string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM snapshots WHERE storage_ref = ?`, ref)
}

func (s *SQLiteDatabase) CountSnapshots(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM snapshots`)
}

// querySnapshots materializes every row before returning; with a single
// connection an open cursor would block the caller's next statement.
func (s *SQLiteDatabase) querySnapshots(ctx context.Context, query string, args ...any) ([]guard.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	var out []guard.Snapshot
	for rows.Next() {
		var snap guard.Snapshot
		var created string
		err := rows.Scan(&snap.ID, &snap.SourcePath, &snap.ContentHash, &snap.SizeBytes,
			&snap.StorageRef, &snap.Encrypted, &snap.OperationID, &created)
		if err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		if snap.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Activity log

const activityColumns = `seq, operation_id, ref_operation_id, kind, path, dest_path, actor, mode,
	resolution, snapshot_id, snapshot_count, detail, recorded_at`

func (s *SQLiteDatabase) AppendActivity(ctx context.Context, rec guard.ActivityRecord) (*guard.ActivityRecord, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO activity (operation_id, ref_operation_id, kind, path, dest_path, actor, mode,
			resolution, snapshot_id, snapshot_count, detail, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.OperationID, rec.RefOperationID, string(rec.Kind), rec.Path, rec.DestPath, rec.Actor,
		string(rec.Mode), string(rec.Resolution), rec.SnapshotID, rec.SnapshotCount, rec.Detail,
		formatTime(rec.Timestamp))
	if err != nil {
		return nil, fmt.Errorf("inserting activity: %w", err)
	}
	if rec.Seq, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("reading activity sequence: %w", err)
	}
	rec.Timestamp = rec.Timestamp.UTC()
	return &rec, nil
}

func (s *SQLiteDatabase) QueryActivity(ctx context.Context, filter guard.ActivityFilter, beforeSeq int64, limit int) ([]guard.ActivityRecord, error) {
	where := []string{"seq < ?"}
	args := []any{beforeSeq}
	if !filter.Since.IsZero() {
		where = append(where, "recorded_at >= ?")
		args = append(args, formatTime(filter.Since))
	}
	if !filter.Until.IsZero() {
		where = append(where, "recorded_at < ?")
		args = append(args, formatTime(filter.Until))
	}
	if filter.PathPrefix != "" {
		where = append(where, `(path = ? OR path LIKE ? ESCAPE '\')`)
		args = append(args, filter.PathPrefix, likeWithin(filter.PathPrefix))
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Resolution != "" {
		where = append(where, "resolution = ?")
		args = append(args, string(filter.Resolution))
	}
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit)

	return s.queryActivity(ctx,
		`SELECT `+activityColumns+` FROM activity WHERE `+strings.Join(where, " AND ")+
			` ORDER BY seq DESC LIMIT ?`, args...)
}

func (s *SQLiteDatabase) FindActivityByOperation(ctx context.Context, operationID string) (*guard.ActivityRecord, error) {
	recs, err := s.queryActivity(ctx,
		`SELECT `+activityColumns+` FROM activity WHERE operation_id = ? ORDER BY seq LIMIT 1`, operationID)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

func (s *SQLiteDatabase) FindActivityByRef(ctx context.Context, operationID string, r guard.Resolution) (*guard.ActivityRecord, error) {
	recs, err := s.queryActivity(ctx,
		`SELECT `+activityColumns+` FROM activity WHERE ref_operation_id = ? AND resolution = ? ORDER BY seq LIMIT 1`,
		operationID, string(r))
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

func (s *SQLiteDatabase) CountActivity(ctx context.Context, resolutions []guard.Resolution, since time.Time) (int, error) {
	if len(resolutions) == 0 {
		return 0, nil
	}
	args := []any{formatTime(since)}
	marks := make([]string, len(resolutions))
	for i, r := range resolutions {
		marks[i] = "?"
		args = append(args, string(r))
	}
	return s.count(ctx,
		`SELECT COUNT(*) FROM activity WHERE recorded_at >= ? AND resolution IN (`+strings.Join(marks, ", ")+`)`,
		args...)
}

func (s *SQLiteDatabase) queryActivity(ctx context.Context, query string, args ...any) ([]guard.ActivityRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying activity: %w", err)
	}
	defer rows.Close()

	var out []guard.ActivityRecord
	for rows.Next() {
		var rec guard.ActivityRecord
		var kind, mode, resolution, recorded string
		err := rows.Scan(&rec.Seq, &rec.OperationID, &rec.RefOperationID, &kind, &rec.Path,
			&rec.DestPath, &rec.Actor, &mode, &resolution, &rec.SnapshotID, &rec.SnapshotCount,
			&rec.Detail, &recorded)
		if err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		rec.Kind = guard.OperationKind(kind)
		rec.Mode = guard.InterceptionMode(mode)
		rec.Resolution = guard.Resolution(resolution)
		if rec.Timestamp, err = parseTime(recorded); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Probe writes a single row so that a full disk or read-only file surfaces.
func (s *SQLiteDatabase) Probe(ctx context.Context, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO health_probe (id, at) VALUES (1, ?) ON CONFLICT (id) DO UPDATE SET at = excluded.at`,
		formatTime(at))
	if err != nil {
		return fmt.Errorf("probing database: %w", err)
	}
	return nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteDatabase) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting: %w", err)
	}
	return n, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading affected rows: %w", err)
	}
	return n > 0, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored time %q: %w", s, err)
	}
	return t, nil
}

// likeWithin returns a LIKE pattern matching strict descendants of root.
func likeWithin(root string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	escaped := r.Replace(root)
	if strings.HasSuffix(root, "/") {
		return escaped + "%"
	}
	return escaped + "/%"
}

// Compile-time check that SQLiteDatabase implements guard.Database.
var _ guard.Database = (*SQLiteDatabase)(nil)
