package guard_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"foldguard/internal/guard"
	"foldguard/internal/testutil"
)

func TestRegistry_Add(t *testing.T) {
	ctx := context.Background()

	t.Run("canonicalizes and persists", func(t *testing.T) {
		h := testutil.NewHarness(t, testutil.HarnessOptions{})
		dir := filepath.Join(h.Dir, "docs")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}

		entry, err := h.Registry.Add(ctx, dir+"/./", true)
		if err != nil {
			t.Fatalf("Add() error = %v", err)
		}
		if entry.Path != dir || !entry.Recursive || !entry.Enabled {
			t.Errorf("entry = %+v", entry)
		}

		reloaded, err := guard.NewRegistry(ctx, h.DB, h.FS, h.Clock, guard.NewNopLogger())
		if err != nil {
			t.Fatalf("NewRegistry() error = %v", err)
		}
		if got := reloaded.List(); len(got) != 1 || got[0].Path != dir {
			t.Errorf("reloaded List() = %+v", got)
		}
	})

	t.Run("errors", func(t *testing.T) {
		h := testutil.NewHarness(t, testutil.HarnessOptions{})
		file := filepath.Join(h.Dir, "a.txt")
		testutil.WriteFile(t, file, "a")
		h.Protect(t, file, false)

		if _, err := h.Registry.Add(ctx, file, false); !errors.Is(err, guard.ErrAlreadyProtected) {
			t.Errorf("Add() duplicate error = %v, want ErrAlreadyProtected", err)
		}
		if _, err := h.Registry.Add(ctx, filepath.Join(h.Dir, "missing"), false); !errors.Is(err, guard.ErrPathNotFound) {
			t.Errorf("Add() missing error = %v, want ErrPathNotFound", err)
		}
		if err := h.Registry.Remove(ctx, filepath.Join(h.Dir, "other")); !errors.Is(err, guard.ErrNotProtected) {
			t.Errorf("Remove() unknown error = %v, want ErrNotProtected", err)
		}
		if _, err := h.Registry.SetEnabled(ctx, filepath.Join(h.Dir, "other"), false); !errors.Is(err, guard.ErrNotProtected) {
			t.Errorf("SetEnabled() unknown error = %v, want ErrNotProtected", err)
		}
	})
}

func TestRegistry_IsProtected(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewHarness(t, testutil.HarnessOptions{})
	root := filepath.Join(h.Dir, "home")
	flat := filepath.Join(root, "flat")
	deep := filepath.Join(root, "deep")
	for _, d := range []string{filepath.Join(flat, "sub"), filepath.Join(deep, "sub")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	h.Protect(t, flat, false)
	h.Protect(t, deep, true)
	h.Protect(t, filepath.Join(deep, "sub"), false)

	tests := []struct {
		path string
		want string
	}{
		{flat, flat},
		{filepath.Join(flat, "a.txt"), flat},
		{filepath.Join(flat, "sub", "a.txt"), ""},
		{filepath.Join(deep, "x", "y", "z.txt"), deep},
		{filepath.Join(deep, "sub", "a.txt"), filepath.Join(deep, "sub")},
		{filepath.Join(root, "other.txt"), ""},
		{flat + "er", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := h.Registry.IsProtected(tt.path)
			switch {
			case tt.want == "" && got != nil:
				t.Errorf("IsProtected() = %s, want nil", got.Path)
			case tt.want != "" && (got == nil || got.Path != tt.want):
				t.Errorf("IsProtected() = %v, want %s", got, tt.want)
			}
		})
	}

	t.Run("disabled entries still govern", func(t *testing.T) {
		if _, err := h.Registry.SetEnabled(ctx, flat, false); err != nil {
			t.Fatalf("SetEnabled() error = %v", err)
		}
		p := filepath.Join(flat, "a.txt")
		if h.Registry.IsProtected(p) != nil {
			t.Error("IsProtected() matched a disabled entry")
		}
		if !h.Registry.Governs(p) {
			t.Error("Governs() = false for a disabled entry")
		}
	})

	t.Run("scopes lists every covering entry", func(t *testing.T) {
		if got := h.Registry.Scopes(filepath.Join(deep, "sub", "a.txt")); len(got) != 2 {
			t.Errorf("len(Scopes()) = %d, want 2", len(got))
		}
	})

	t.Run("remove keeps other entries", func(t *testing.T) {
		if err := h.Registry.Remove(ctx, filepath.Join(deep, "sub")); err != nil {
			t.Fatalf("Remove() error = %v", err)
		}
		got := h.Registry.IsProtected(filepath.Join(deep, "sub", "a.txt"))
		if got == nil || got.Path != deep {
			t.Errorf("IsProtected() after Remove = %v, want %s", got, deep)
		}
	})
}

func TestProtectedPath_Covers(t *testing.T) {
	tests := []struct {
		name  string
		entry guard.ProtectedPath
		path  string
		want  bool
	}{
		{"self", guard.ProtectedPath{Path: "/a"}, "/a", true},
		{"direct child", guard.ProtectedPath{Path: "/a"}, "/a/b", true},
		{"grandchild flat", guard.ProtectedPath{Path: "/a"}, "/a/b/c", false},
		{"grandchild recursive", guard.ProtectedPath{Path: "/a", Recursive: true}, "/a/b/c", true},
		{"sibling prefix", guard.ProtectedPath{Path: "/a", Recursive: true}, "/ab", false},
		{"parent", guard.ProtectedPath{Path: "/a/b", Recursive: true}, "/a", false},
		{"root recursive", guard.ProtectedPath{Path: "/", Recursive: true}, "/x/y", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.Covers(tt.path); got != tt.want {
				t.Errorf("Covers(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}
