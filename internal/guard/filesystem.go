package guard

import (
	"io"
	"io/fs"
)

// Filesystem is the part of the host filesystem the engine touches.
type Filesystem interface {
	// Canonicalize returns the clean absolute form of raw with symlinks in
	// its existing ancestors resolved. The path itself need not exist.
	Canonicalize(raw string) (string, error)

	// Lstat returns file info without following a final symlink.
	Lstat(path string) (fs.FileInfo, error)

	// Open opens a regular file for reading.
	Open(path string) (io.ReadCloser, error)

	// FindFiles returns the regular files at or beneath root, skipping
	// ignored names. A regular file root yields itself.
	FindFiles(root string) ([]string, error)

	// Remove deletes path and anything beneath it.
	Remove(path string) error

	// Rename moves src to dst.
	Rename(src, dst string) error
}
