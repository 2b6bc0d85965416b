package guard

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// Registry is the set of protected paths. Writers are serialized and persist
// to the database before publishing a new immutable entry list; readers load
// the current list without locking.
type Registry struct {
	db     Database
	fsys   Filesystem
	clock  Clock
	logger Logger

	mu      sync.Mutex
	entries atomic.Pointer[[]ProtectedPath]
}

// NewRegistry loads the persisted entries.
func NewRegistry(ctx context.Context, db Database, fsys Filesystem, clock Clock, logger Logger) (*Registry, error) {
	r := &Registry{db: db, fsys: fsys, clock: clock, logger: logger}
	list, err := db.ListProtectedPaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading protected paths: %w", err)
	}
	r.publish(list)
	return r, nil
}

func (r *Registry) publish(list []ProtectedPath) {
	sorted := slices.Clone(list)
	slices.SortFunc(sorted, func(a, b ProtectedPath) int { return strings.Compare(a.Path, b.Path) })
	r.entries.Store(&sorted)
}

func (r *Registry) current() []ProtectedPath {
	if p := r.entries.Load(); p != nil {
		return *p
	}
	return nil
}

// IsProtected returns the deepest enabled entry covering path, or nil.
// path must already be canonical.
func (r *Registry) IsProtected(path string) *ProtectedPath {
	var best *ProtectedPath
	for _, e := range r.current() {
		if !e.Enabled || !e.Covers(path) {
			continue
		}
		if best == nil || len(e.Path) > len(best.Path) {
			best = &e
		}
	}
	return best
}

// Scopes returns every enabled entry covering path.
func (r *Registry) Scopes(path string) []ProtectedPath {
	var out []ProtectedPath
	for _, e := range r.current() {
		if e.Enabled && e.Covers(path) {
			out = append(out, e)
		}
	}
	return out
}

// List returns all entries ordered by path.
func (r *Registry) List() []ProtectedPath {
	return slices.Clone(r.current())
}

// Find returns the entry stored for raw, or nil.
func (r *Registry) Find(raw string) (*ProtectedPath, error) {
	path, err := r.fsys.Canonicalize(raw)
	if err != nil {
		return nil, err
	}
	for _, e := range r.current() {
		if e.Path == path {
			return &e, nil
		}
	}
	return nil, nil
}

// Add protects raw. The path must exist.
func (r *Registry) Add(ctx context.Context, raw string, recursive bool) (*ProtectedPath, error) {
	path, err := r.fsys.Canonicalize(raw)
	if err != nil {
		return nil, err
	}
	if _, err := r.fsys.Lstat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.current()
	for _, e := range list {
		if e.Path == path {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyProtected, path)
		}
	}

	entry := ProtectedPath{
		Path:      path,
		Recursive: recursive,
		Enabled:   true,
		AddedAt:   r.clock.Now().UTC(),
	}
	if err := r.db.InsertProtectedPath(ctx, entry); err != nil {
		return nil, fmt.Errorf("persisting protected path: %w", err)
	}
	r.publish(append(slices.Clone(list), entry))
	r.logger.Info("path protected", "path", path, "recursive", recursive)
	return &entry, nil
}

// Remove stops protecting raw. Snapshots of the path are kept.
func (r *Registry) Remove(ctx context.Context, raw string) error {
	path, err := r.fsys.Canonicalize(raw)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.current()
	idx := slices.IndexFunc(list, func(e ProtectedPath) bool { return e.Path == path })
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotProtected, path)
	}
	if _, err := r.db.DeleteProtectedPath(ctx, path); err != nil {
		return fmt.Errorf("deleting protected path: %w", err)
	}
	r.publish(slices.Delete(slices.Clone(list), idx, idx+1))
	r.logger.Info("path unprotected", "path", path)
	return nil
}

// SetEnabled flips the enabled flag of an existing entry.
func (r *Registry) SetEnabled(ctx context.Context, raw string, enabled bool) (*ProtectedPath, error) {
	path, err := r.fsys.Canonicalize(raw)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := slices.Clone(r.current())
	idx := slices.IndexFunc(list, func(e ProtectedPath) bool { return e.Path == path })
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotProtected, path)
	}
	if _, err := r.db.SetProtectedPathEnabled(ctx, path, enabled); err != nil {
		return nil, fmt.Errorf("updating protected path: %w", err)
	}
	list[idx].Enabled = enabled
	r.publish(list)
	r.logger.Info("path protection changed", "path", path, "enabled", enabled)
	entry := list[idx]
	return &entry, nil
}

// Governs reports whether any entry, enabled or not, covers path.
func (r *Registry) Governs(path string) bool {
	for _, e := range r.current() {
		if e.Covers(path) {
			return true
		}
	}
	return false
}
