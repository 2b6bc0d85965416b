package vault

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestVault(t *testing.T) *FileSystemVault {
	t.Helper()
	v, err := NewFileSystemVault("test", t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}
	return v
}

func TestNewFileSystemVault(t *testing.T) {
	root := filepath.Join(t.TempDir(), "vault")

	v, err := NewFileSystemVault("test", root)
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}
	for _, dir := range []string{"content", "metadata"} {
		if _, err := os.Stat(filepath.Join(root, dir)); err != nil {
			t.Errorf("%s directory not created: %v", dir, err)
		}
	}
	if v.name != "test" {
		t.Errorf("name = %q, want %q", v.name, "test")
	}
}

func TestFileSystemVault_PutContent(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		data    string
		size    int64
		wantErr bool
	}{
		{name: "store content", key: "abc123", data: "hello world", size: 11},
		{name: "size mismatch", key: "def456", data: "hello", size: 100, wantErr: true},
		{name: "unknown size", key: "abc123.age", data: "ciphertext", size: -1},
		{name: "empty content", key: "empty", data: "", size: 0},
		{name: "path escape", key: "../evil", data: "x", size: 1, wantErr: true},
		{name: "hidden key", key: ".tmp-x", data: "x", size: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVault(t)

			err := v.PutContent(tt.key, strings.NewReader(tt.data), tt.size)
			if (err != nil) != tt.wantErr {
				t.Fatalf("PutContent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			var buf bytes.Buffer
			if err := v.GetContent(tt.key, &buf); err != nil {
				t.Fatalf("GetContent() error = %v", err)
			}
			if buf.String() != tt.data {
				t.Errorf("GetContent() = %q, want %q", buf.String(), tt.data)
			}
		})
	}
}

func TestFileSystemVault_PutContent_KeepsFirstObject(t *testing.T) {
	v := newTestVault(t)

	if err := v.PutContent("k", strings.NewReader("first"), 5); err != nil {
		t.Fatalf("PutContent() error = %v", err)
	}
	if err := v.PutContent("k", strings.NewReader("second"), 6); err != nil {
		t.Fatalf("second PutContent() error = %v", err)
	}

	var buf bytes.Buffer
	if err := v.GetContent("k", &buf); err != nil {
		t.Fatalf("GetContent() error = %v", err)
	}
	if buf.String() != "first" {
		t.Errorf("GetContent() = %q, want first object kept", buf.String())
	}
}

func TestFileSystemVault_ConcurrentPutSameKey(t *testing.T) {
	v := newTestVault(t)
	data := strings.Repeat("x", 4096)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- v.PutContent("same", strings.NewReader(data), int64(len(data)))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("PutContent() error = %v", err)
		}
	}

	entries, err := os.ReadDir(v.contentDir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("content dir has %d entries, want 1", len(entries))
	}
}

func TestFileSystemVault_HasAndDeleteContent(t *testing.T) {
	v := newTestVault(t)

	ok, err := v.HasContent("k")
	if err != nil || ok {
		t.Fatalf("HasContent() before put = %v, %v, want false, nil", ok, err)
	}
	if err := v.PutContent("k", strings.NewReader("data"), 4); err != nil {
		t.Fatalf("PutContent() error = %v", err)
	}
	if ok, _ := v.HasContent("k"); !ok {
		t.Error("HasContent() after put = false")
	}

	if err := v.DeleteContent("k"); err != nil {
		t.Fatalf("DeleteContent() error = %v", err)
	}
	if err := v.DeleteContent("k"); err != nil {
		t.Errorf("DeleteContent() of missing object error = %v", err)
	}

	var buf bytes.Buffer
	err = v.GetContent("k", &buf)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("GetContent() after delete error = %v, want fs.ErrNotExist", err)
	}
}

func TestFileSystemVault_Metadata(t *testing.T) {
	v := newTestVault(t)

	version, err := v.GetMetadataVersion("foldguard.db")
	if err != nil || version != 0 {
		t.Fatalf("GetMetadataVersion() before put = %d, %v, want 0", version, err)
	}

	for i, data := range []string{"one", "two"} {
		if err := v.PutMetadata("foldguard.db", strings.NewReader(data), int64(len(data)), int64(i+1)); err != nil {
			t.Fatalf("PutMetadata() error = %v", err)
		}
	}

	var buf bytes.Buffer
	if err := v.GetMetadata("foldguard.db", &buf); err != nil {
		t.Fatalf("GetMetadata() error = %v", err)
	}
	if buf.String() != "two" {
		t.Errorf("GetMetadata() = %q, want %q", buf.String(), "two")
	}
	if version, _ := v.GetMetadataVersion("foldguard.db"); version != 2 {
		t.Errorf("GetMetadataVersion() = %d, want 2", version)
	}
}

func TestFileSystemVault_ValidateSetup(t *testing.T) {
	t.Run("valid setup", func(t *testing.T) {
		v := newTestVault(t)
		if err := v.ValidateSetup(); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
		entries, _ := os.ReadDir(v.contentDir)
		if len(entries) != 0 {
			t.Errorf("probe left %d entries behind", len(entries))
		}
	})

	t.Run("missing root directory", func(t *testing.T) {
		v := &FileSystemVault{
			name:        "test",
			root:        "/nonexistent/path",
			contentDir:  "/nonexistent/path/content",
			metadataDir: "/nonexistent/path/metadata",
		}
		if err := v.ValidateSetup(); err == nil {
			t.Error("ValidateSetup() expected error for missing root")
		}
	})
}

func TestFileSystemVault_NoTempFilesLeft(t *testing.T) {
	v := newTestVault(t)

	if err := v.PutContent("abc123", strings.NewReader("hello world"), 11); err != nil {
		t.Fatalf("PutContent() error = %v", err)
	}
	// A failed write cleans up too.
	_ = v.PutContent("bad", strings.NewReader("short"), 99)

	entries, err := os.ReadDir(v.contentDir)
	if err != nil {
		t.Fatalf("failed to read content dir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", entry.Name())
		}
	}
}
