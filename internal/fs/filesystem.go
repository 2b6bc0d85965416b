// Package fs is the host filesystem as the daemon sees it: canonical paths,
// regular-file discovery with ignore patterns, and the destructive calls the
// engine performs on confirmation.
package fs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"foldguard/internal/guard"
)

// OSFilesystem implements guard.Filesystem on the real filesystem.
type OSFilesystem struct {
	ignore *IgnoreMatcher
}

// NewOSFilesystem creates an OSFilesystem that skips files matching the
// given patterns, the built-in defaults and any per-folder ignore file.
func NewOSFilesystem(ignorePatterns []string) *OSFilesystem {
	return &OSFilesystem{ignore: NewIgnoreMatcher(ignorePatterns)}
}

// Canonicalize returns the absolute, cleaned form of raw. Symlinks in the
// parent chain are resolved as far as it exists; the final element is kept
// as named so that a link is protected as a link.
func (m *OSFilesystem) Canonicalize(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty path", guard.ErrInvalidRequest)
	}
	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", fmt.Errorf("resolving absolute path: %w", err)
	}
	if abs == string(filepath.Separator) {
		return abs, nil
	}

	dir, base := filepath.Split(abs)
	dir = filepath.Clean(dir)

	var rest []string
	for {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			parts := append([]string{resolved}, rest...)
			return filepath.Join(append(parts, base)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("resolving %s: %w", dir, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		rest = append([]string{filepath.Base(dir)}, rest...)
		dir = parent
	}
}

func (m *OSFilesystem) Lstat(path string) (fs.FileInfo, error) {
	return os.Lstat(path)
}

// Open opens a regular file for reading.
func (m *OSFilesystem) Open(path string) (io.ReadCloser, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", guard.ErrUnsupportedOperation, path)
	}
	return os.Open(path)
}

// FindFiles returns the regular files at or beneath root. Symlinks, devices,
// pipes and sockets are skipped, as is anything the ignore patterns match.
// Patterns from an ignore file in root apply to the whole walk.
func (m *OSFilesystem) FindFiles(root string) ([]string, error) {
	info, err := os.Lstat(root)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if info.Mode().IsRegular() {
		if m.ignore.Match(filepath.Base(root), false) {
			return nil, nil
		}
		return []string{root}, nil
	}
	if !info.IsDir() {
		return nil, nil
	}

	extra, err := ParseIgnoreFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	matcher := m.ignore.With(extra)

	var paths []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// A file removed mid-walk is not an error.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if matcher.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}
	return paths, nil
}

// Ignored reports whether path matches the configured or default patterns.
// Only the final element is considered; directory rules apply when path is
// an existing directory.
func (m *OSFilesystem) Ignored(path string) bool {
	info, err := os.Lstat(path)
	isDir := err == nil && info.IsDir()
	return m.ignore.Match(filepath.Base(path), isDir)
}

// Remove deletes path and everything beneath it.
func (m *OSFilesystem) Remove(path string) error {
	return os.RemoveAll(path)
}

// Rename moves src to dst, creating dst's parent directory if needed.
func (m *OSFilesystem) Rename(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}
	return os.Rename(src, dst)
}

var _ guard.Filesystem = (*OSFilesystem)(nil)
