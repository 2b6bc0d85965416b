package guard

import (
	"path/filepath"
	"strings"
)

// isUnder reports whether p is a strict descendant of dir. Both must be
// clean absolute paths.
func isUnder(p, dir string) bool {
	if p == dir {
		return false
	}
	if dir == string(filepath.Separator) {
		return strings.HasPrefix(p, dir)
	}
	return strings.HasPrefix(p, dir+string(filepath.Separator))
}

func parentDir(p string) string {
	return filepath.Dir(p)
}

// IsWithin reports whether p equals dir or lies beneath it.
func IsWithin(p, dir string) bool {
	return p == dir || isUnder(p, dir)
}

// withAncestors returns p followed by each directory above it.
func withAncestors(p string) []string {
	out := []string{p}
	for {
		parent := parentDir(p)
		if parent == p {
			return out
		}
		out = append(out, parent)
		p = parent
	}
}
