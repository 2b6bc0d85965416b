package vault

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"sync"

	"foldguard/internal/guard"
)

// MemoryVault keeps objects and metadata in memory. It is safe for
// concurrent use and is meant for tests and ephemeral daemons.
type MemoryVault struct {
	name            string
	content         map[string][]byte
	metadata        map[string][]byte
	metadataVersion map[string]int64
	mu              sync.RWMutex

	// failWrites makes every write return an error.
	failWrites error
}

// NewMemoryVault creates an empty in-memory vault.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:            name,
		content:         make(map[string][]byte),
		metadata:        make(map[string][]byte),
		metadataVersion: make(map[string]int64),
	}
}

// FailWrites makes subsequent writes and ValidateSetup return err, or
// restores normal behaviour when err is nil. It simulates a full disk.
func (m *MemoryVault) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = err
}

func (m *MemoryVault) PutContent(key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return m.failWrites
	}
	if _, ok := m.content[key]; !ok {
		m.content[key] = data
	}
	return nil
}

func (m *MemoryVault) GetContent(key string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.content[key]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("object %s: %w", key, fs.ErrNotExist)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

func (m *MemoryVault) HasContent(key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.content[key]
	return ok, nil
}

func (m *MemoryVault) DeleteContent(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.content, key)
	return nil
}

// Corrupt overwrites a stored object in place. Tests use it to exercise
// integrity checks.
func (m *MemoryVault) Corrupt(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content[key] = data
}

func (m *MemoryVault) PutMetadata(name string, r io.Reader, size int64, version int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read metadata: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return m.failWrites
	}
	m.metadata[name] = data
	m.metadataVersion[name] = version
	return nil
}

func (m *MemoryVault) GetMetadataVersion(name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metadataVersion[name], nil
}

func (m *MemoryVault) GetMetadata(name string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.metadata[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("metadata %s: %w", name, fs.ErrNotExist)
	}
	_, err := io.Copy(w, bytes.NewReader(data))
	return err
}

// Len returns the number of stored objects.
func (m *MemoryVault) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.content)
}

func (m *MemoryVault) ValidateSetup() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failWrites
}

var _ guard.Vault = (*MemoryVault)(nil)
