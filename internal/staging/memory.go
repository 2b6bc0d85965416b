package staging

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// NewMemorySpool creates a spool that keeps entries in memory.
func NewMemorySpool(maxSize int64) *Spool {
	return &Spool{store: &memStore{entries: make(map[string]*bytes.Buffer)}, maxSize: maxSize}
}

type memStore struct {
	next    int
	entries map[string]*bytes.Buffer
}

func (m *memStore) Create() (string, io.WriteCloser, error) {
	m.next++
	id := strconv.Itoa(m.next)
	buf := &bytes.Buffer{}
	m.entries[id] = buf
	return id, nopWriteCloser{buf}, nil
}

func (m *memStore) Open(id string) (io.ReadCloser, error) {
	buf, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("spool entry %s not found", id)
	}
	return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
}

func (m *memStore) Remove(id string) {
	delete(m.entries, id)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
