package vault

import (
	"bytes"
	"errors"
	"io/fs"
	"strings"
	"testing"
)

func TestMemoryVault_Content(t *testing.T) {
	m := NewMemoryVault("test")

	if err := m.PutContent("k", strings.NewReader("first"), 5); err != nil {
		t.Fatalf("PutContent() error = %v", err)
	}
	if err := m.PutContent("k", strings.NewReader("other"), -1); err != nil {
		t.Fatalf("PutContent() again error = %v", err)
	}

	var buf bytes.Buffer
	if err := m.GetContent("k", &buf); err != nil {
		t.Fatalf("GetContent() error = %v", err)
	}
	if buf.String() != "first" {
		t.Errorf("GetContent() = %q, want first object kept", buf.String())
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}

	if err := m.DeleteContent("k"); err != nil {
		t.Fatalf("DeleteContent() error = %v", err)
	}
	if ok, _ := m.HasContent("k"); ok {
		t.Error("HasContent() after delete = true")
	}
	if err := m.GetContent("k", &buf); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("GetContent() missing error = %v, want fs.ErrNotExist", err)
	}
}

func TestMemoryVault_PutContentSizeMismatch(t *testing.T) {
	m := NewMemoryVault("test")
	if err := m.PutContent("k", strings.NewReader("hello"), 100); err == nil {
		t.Error("PutContent() expected size mismatch error")
	}
}

func TestMemoryVault_FailWrites(t *testing.T) {
	m := NewMemoryVault("test")
	diskFull := errors.New("no space left on device")
	m.FailWrites(diskFull)

	if err := m.PutContent("k", strings.NewReader("x"), 1); !errors.Is(err, diskFull) {
		t.Errorf("PutContent() error = %v, want %v", err, diskFull)
	}
	if err := m.ValidateSetup(); !errors.Is(err, diskFull) {
		t.Errorf("ValidateSetup() error = %v, want %v", err, diskFull)
	}

	m.FailWrites(nil)
	if err := m.ValidateSetup(); err != nil {
		t.Errorf("ValidateSetup() after recovery error = %v", err)
	}
}

func TestMemoryVault_Metadata(t *testing.T) {
	m := NewMemoryVault("test")

	if err := m.PutMetadata("foldguard.db", strings.NewReader("db"), 2, 7); err != nil {
		t.Fatalf("PutMetadata() error = %v", err)
	}
	var buf bytes.Buffer
	if err := m.GetMetadata("foldguard.db", &buf); err != nil || buf.String() != "db" {
		t.Errorf("GetMetadata() = %q, %v", buf.String(), err)
	}
	if v, _ := m.GetMetadataVersion("foldguard.db"); v != 7 {
		t.Errorf("GetMetadataVersion() = %d, want 7", v)
	}
	if err := m.GetMetadata("missing", &buf); err == nil {
		t.Error("GetMetadata() expected error for missing name")
	}
}
