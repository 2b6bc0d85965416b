package staging

import "io"

// spoolStore abstracts where captured bytes live. Concurrency is managed by
// the caller (spool.mu), so stores do not need to be safe for concurrent use.
type spoolStore interface {
	// Create returns a writer for a new entry and the entry's id.
	Create() (id string, w io.WriteCloser, err error)

	// Open returns a reader over a completed entry.
	Open(id string) (io.ReadCloser, error)

	// Remove deletes an entry (best-effort).
	Remove(id string)
}
