// Package staging holds the spool: private, hashed copies of files taken
// while they are being backed up, so the bytes that are hashed are exactly
// the bytes written to the vault even if the source changes underneath.
package staging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"foldguard/internal/guard"
)

// Spool implements guard.Spool over a pluggable spoolStore, enforcing a cap
// on the bytes held at once.
type Spool struct {
	store   spoolStore
	maxSize int64

	mu   sync.Mutex
	used int64
}

var _ guard.Spool = (*Spool)(nil)

// Capture copies r into the spool while hashing it.
func (s *Spool) Capture(r io.Reader) (guard.SpooledContent, error) {
	s.mu.Lock()
	id, w, err := s.store.Create()
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("creating spool entry: %w", err)
	}

	h := sha256.New()
	lr := &limitedReader{r: r, s: s}
	n, err := io.Copy(io.MultiWriter(w, h), lr)
	if cerr := w.Close(); err == nil {
		err = cerr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.used -= lr.charged
		s.store.Remove(id)
		return nil, fmt.Errorf("spooling content: %w", err)
	}

	return &spooled{
		spool:    s,
		id:       id,
		checksum: hex.EncodeToString(h.Sum(nil)),
		size:     n,
	}, nil
}

// Used returns the bytes currently held.
func (s *Spool) Used() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

func (s *Spool) release(id string, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Remove(id)
	s.used -= size
}

// limitedReader charges every byte read against the spool's cap.
type limitedReader struct {
	r       io.Reader
	s       *Spool
	charged int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	if n > 0 {
		l.s.mu.Lock()
		l.s.used += int64(n)
		l.charged += int64(n)
		over := l.s.maxSize > 0 && l.s.used > l.s.maxSize
		l.s.mu.Unlock()
		if over {
			return n, fmt.Errorf("spool full: would exceed max size of %d bytes", l.s.maxSize)
		}
	}
	return n, err
}

// spooled is one captured copy.
type spooled struct {
	spool    *Spool
	id       string
	checksum string
	size     int64

	once sync.Once
}

func (c *spooled) Checksum() string { return c.checksum }
func (c *spooled) Size() int64      { return c.size }

func (c *spooled) Open() (io.ReadCloser, error) {
	c.spool.mu.Lock()
	defer c.spool.mu.Unlock()
	return c.spool.store.Open(c.id)
}

// Release frees the entry. It is safe to call more than once.
func (c *spooled) Release() error {
	c.once.Do(func() { c.spool.release(c.id, c.size) })
	return nil
}
