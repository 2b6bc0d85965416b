package fs

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"foldguard/internal/guard"
)

// tempDir returns a temp dir with symlinks resolved, so expectations match
// canonical paths on systems where the temp root is a link.
func tempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("EvalSymlinks() error = %v", err)
	}
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestOSFilesystem_Canonicalize(t *testing.T) {
	dir := tempDir(t)
	realDir := filepath.Join(dir, "real")
	if err := os.Mkdir(realDir, 0o755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(realDir, link); err != nil {
		t.Fatal(err)
	}

	m := NewOSFilesystem(nil)
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"clean", filepath.Join(dir, "real", ".", "x.txt"), filepath.Join(realDir, "x.txt")},
		{"dotdot", filepath.Join(dir, "real", "sub", "..", "x.txt"), filepath.Join(realDir, "x.txt")},
		{"symlinked parent", filepath.Join(link, "x.txt"), filepath.Join(realDir, "x.txt")},
		{"missing ancestors", filepath.Join(link, "a", "b", "c.txt"), filepath.Join(realDir, "a", "b", "c.txt")},
		{"final link kept", link, link},
		{"root", "/", "/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Canonicalize(tt.raw)
			if err != nil {
				t.Fatalf("Canonicalize() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Canonicalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}

	if _, err := m.Canonicalize(""); !errors.Is(err, guard.ErrInvalidRequest) {
		t.Errorf("Canonicalize(\"\") error = %v, want ErrInvalidRequest", err)
	}
}

func TestOSFilesystem_FindFiles(t *testing.T) {
	dir := tempDir(t)
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "sub", "b.txt"), "b")
	writeFile(t, filepath.Join(dir, "sub", "debug.log"), "log")
	writeFile(t, filepath.Join(dir, "cache", "c.bin"), "c")
	writeFile(t, filepath.Join(dir, ".foldguard-restore-42"), "tmp")
	writeFile(t, filepath.Join(dir, IgnoreFileName), "cache\n")
	if err := os.Symlink(filepath.Join(dir, "a.txt"), filepath.Join(dir, "link.txt")); err != nil {
		t.Fatal(err)
	}

	m := NewOSFilesystem([]string{"*.log"})
	got, err := m.FindFiles(dir)
	if err != nil {
		t.Fatalf("FindFiles() error = %v", err)
	}
	slices.Sort(got)

	want := []string{
		filepath.Join(dir, IgnoreFileName),
		filepath.Join(dir, "a.txt"),
		filepath.Join(dir, "sub", "b.txt"),
	}
	slices.Sort(want)
	if !slices.Equal(got, want) {
		t.Errorf("FindFiles() = %v, want %v", got, want)
	}

	t.Run("file root yields itself", func(t *testing.T) {
		got, err := m.FindFiles(filepath.Join(dir, "a.txt"))
		if err != nil {
			t.Fatalf("FindFiles() error = %v", err)
		}
		if len(got) != 1 || got[0] != filepath.Join(dir, "a.txt") {
			t.Errorf("FindFiles(file) = %v", got)
		}
	})

	t.Run("missing root", func(t *testing.T) {
		if _, err := m.FindFiles(filepath.Join(dir, "missing")); err == nil {
			t.Error("FindFiles() expected error for missing root")
		}
	})
}

func TestOSFilesystem_Open(t *testing.T) {
	dir := tempDir(t)
	m := NewOSFilesystem(nil)

	if _, err := m.Open(dir); !errors.Is(err, guard.ErrUnsupportedOperation) {
		t.Errorf("Open(dir) error = %v, want ErrUnsupportedOperation", err)
	}

	writeFile(t, filepath.Join(dir, "f"), "x")
	rc, err := m.Open(filepath.Join(dir, "f"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	rc.Close()
}

func TestOSFilesystem_RemoveAndRename(t *testing.T) {
	dir := tempDir(t)
	m := NewOSFilesystem(nil)

	writeFile(t, filepath.Join(dir, "tree", "x", "y.txt"), "y")
	if err := m.Remove(filepath.Join(dir, "tree")); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "tree")); !os.IsNotExist(err) {
		t.Errorf("tree still exists after Remove(): %v", err)
	}

	writeFile(t, filepath.Join(dir, "src.txt"), "s")
	dst := filepath.Join(dir, "new", "parent", "dst.txt")
	if err := m.Rename(filepath.Join(dir, "src.txt"), dst); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if data, err := os.ReadFile(dst); err != nil || string(data) != "s" {
		t.Errorf("renamed file = %q, %v", data, err)
	}
}

func TestOSFilesystem_Ignored(t *testing.T) {
	m := NewOSFilesystem([]string{"*.swp"})
	if !m.Ignored("/data/.notes.swp") {
		t.Error("Ignored() = false for configured pattern")
	}
	if !m.Ignored("/data/.foldguard-restore-1") {
		t.Error("Ignored() = false for restore temp file")
	}
	if m.Ignored("/data/notes.txt") {
		t.Error("Ignored() = true for ordinary file")
	}
}
