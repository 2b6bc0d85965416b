package fs

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFileName is the per-folder file listing extra ignore patterns.
const IgnoreFileName = ".foldguardignore"

// Restores write through temp files with this prefix; they are never
// snapshotted or reported.
var builtinRules = []string{".foldguard-restore-*"}

// rule is one line of an ignore list.
//
//	*.tmp      basename match anywhere
//	/build     anchored to the walk root
//	logs/      directories only
//	!keep.tmp  re-include something an earlier rule excluded
type rule struct {
	glob     string
	negate   bool
	dirOnly  bool
	anchored bool // match the slash-separated relative path, not the basename
}

func (r rule) matches(rel, base string, isDir bool) bool {
	if r.dirOnly && !isDir {
		return false
	}
	subject := base
	if r.anchored {
		subject = rel
	}
	ok, err := filepath.Match(r.glob, subject)
	return err == nil && ok
}

// IgnoreMatcher decides which files a scan or watch skips. Later rules take
// precedence over earlier ones, so a negated rule can carve an exception out
// of a broad one.
type IgnoreMatcher struct {
	rules []rule
}

// NewIgnoreMatcher builds a matcher from the built-in rules followed by
// lines.
func NewIgnoreMatcher(lines []string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	m.rules = append(parseRules(builtinRules), parseRules(lines)...)
	return m
}

// With returns a copy of m extended by lines, typically a folder's ignore
// file.
func (m *IgnoreMatcher) With(lines []string) *IgnoreMatcher {
	extra := parseRules(lines)
	if len(extra) == 0 {
		return m
	}
	rules := make([]rule, 0, len(m.rules)+len(extra))
	rules = append(rules, m.rules...)
	return &IgnoreMatcher{rules: append(rules, extra...)}
}

func parseRules(lines []string) []rule {
	var rules []rule
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var r rule
		if rest, ok := strings.CutPrefix(line, "!"); ok {
			r.negate = true
			line = rest
		}
		if rest, ok := strings.CutSuffix(line, "/"); ok {
			r.dirOnly = true
			line = rest
		}
		if rest, ok := strings.CutPrefix(line, "/"); ok {
			r.anchored = true
			line = rest
		}
		if strings.Contains(line, "/") {
			r.anchored = true
		}
		if line == "" {
			continue
		}
		r.glob = line
		rules = append(rules, r)
	}
	return rules
}

// Match reports whether rel, a path relative to the walk root, is ignored.
func (m *IgnoreMatcher) Match(rel string, isDir bool) bool {
	rel = filepath.ToSlash(rel)
	base := rel
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		base = rel[i+1:]
	}
	ignored := false
	for _, r := range m.rules {
		if r.matches(rel, base, isDir) {
			ignored = !r.negate
		}
	}
	return ignored
}

// ParseIgnoreFile returns the lines of the ignore file at path, or nil when
// there is none.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file %s: %w", path, err)
	}
	return lines, nil
}
