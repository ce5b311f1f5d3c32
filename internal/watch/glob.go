package watch

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Pattern is one glob split into its static base directory and the part
// matched below it, e.g. "src/app/**/*.scss" → ("src/app", "**/*.scss").
type Pattern struct {
	Base  string
	Match string
}

// ParsePatterns splits globs relative to root.
func ParsePatterns(root string, globs []string) []Pattern {
	out := make([]Pattern, 0, len(globs))
	for _, g := range globs {
		base, match := doublestar.SplitPattern(filepath.ToSlash(g))
		out = append(out, Pattern{Base: filepath.Join(root, filepath.FromSlash(base)), Match: match})
	}
	return out
}

// Matches reports whether file is selected by p.
func (p Pattern) Matches(file string) bool {
	rel, err := filepath.Rel(p.Base, file)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	ok, err := doublestar.Match(p.Match, filepath.ToSlash(rel))
	return err == nil && ok
}

// AnyMatch reports whether any pattern selects file.
func AnyMatch(patterns []Pattern, file string) bool {
	for _, p := range patterns {
		if p.Matches(file) {
			return true
		}
	}
	return false
}
