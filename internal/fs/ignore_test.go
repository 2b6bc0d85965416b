package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseRules(t *testing.T) {
	rules := parseRules([]string{"", "  # note", "*.swp", "!keep.swp", "cache/", "/build", "docs/*.pdf", "!", "/"})

	want := []rule{
		{glob: "*.swp"},
		{glob: "keep.swp", negate: true},
		{glob: "cache", dirOnly: true},
		{glob: "build", anchored: true},
		{glob: "docs/*.pdf", anchored: true},
	}
	if len(rules) != len(want) {
		t.Fatalf("parseRules() returned %d rules, want %d: %+v", len(rules), len(want), rules)
	}
	for i := range want {
		if rules[i] != want[i] {
			t.Errorf("rule[%d] = %+v, want %+v", i, rules[i], want[i])
		}
	}
}

func TestIgnoreMatcher_Match(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		rel   string
		isDir bool
		want  bool
	}{
		{"restore temp files always skipped", nil, ".foldguard-restore-abc", false, true},
		{"nothing configured", nil, "notes.txt", false, false},
		{"basename glob at root", []string{"*.swp"}, ".notes.swp", false, true},
		{"basename glob in subdirectory", []string{"*.swp"}, "a/b/.notes.swp", false, true},
		{"other extension", []string{"*.swp"}, "notes.txt", false, false},
		{"negation re-includes", []string{"*.swp", "!keep.swp"}, "keep.swp", false, false},
		{"later rule wins over negation", []string{"!keep.swp", "*.swp"}, "keep.swp", false, true},
		{"directory rule skips directory", []string{"cache/"}, "cache", true, true},
		{"directory rule leaves file alone", []string{"cache/"}, "cache", false, false},
		{"anchored rule at root", []string{"/build"}, "build", true, true},
		{"anchored rule not nested", []string{"/build"}, "src/build", true, false},
		{"path rule", []string{"docs/*.pdf"}, "docs/report.pdf", false, true},
		{"path rule other dir", []string{"docs/*.pdf"}, "mail/report.pdf", false, false},
		{"malformed glob ignored", []string{"[unclosed"}, "[unclosed", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewIgnoreMatcher(tt.lines)
			if got := m.Match(filepath.FromSlash(tt.rel), tt.isDir); got != tt.want {
				t.Errorf("Match(%q, %v) = %v, want %v", tt.rel, tt.isDir, got, tt.want)
			}
		})
	}
}

func TestIgnoreMatcher_With(t *testing.T) {
	base := NewIgnoreMatcher([]string{"*.log"})
	folder := base.With([]string{"!audit.log", "*.tmp"})

	if folder.Match("audit.log", false) {
		t.Error("folder rule should re-include audit.log")
	}
	if !folder.Match("x.tmp", false) || !folder.Match("x.log", false) {
		t.Error("extended matcher lost a rule")
	}
	if base.Match("x.tmp", false) || !base.Match("audit.log", false) {
		t.Error("With() modified the receiver")
	}
	if base.With([]string{"# only a comment"}) != base {
		t.Error("With() of no rules should return the receiver")
	}
}

func TestParseIgnoreFile(t *testing.T) {
	t.Run("returns every line", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), IgnoreFileName)
		if err := os.WriteFile(path, []byte("*.log\n# scratch\n\ncache/\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		lines, err := ParseIgnoreFile(path)
		if err != nil {
			t.Fatalf("ParseIgnoreFile() error = %v", err)
		}
		if len(lines) != 4 {
			t.Fatalf("ParseIgnoreFile() = %q, want 4 lines", lines)
		}
		if n := len(parseRules(lines)); n != 2 {
			t.Errorf("parseRules() = %d rules, want 2", n)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		lines, err := ParseIgnoreFile(filepath.Join(t.TempDir(), IgnoreFileName))
		if err != nil || lines != nil {
			t.Errorf("ParseIgnoreFile() = %v, %v; want nil, nil", lines, err)
		}
	})
}
