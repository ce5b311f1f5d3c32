// Package lint statically validates source files before they are
// transformed.
package lint

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Severity of a violation. Only errors fail a lint run.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Violation is one finding.
type Violation struct {
	File     string
	Line     int
	Rule     string
	Severity Severity
	Message  string
}

func (v Violation) String() string {
	loc := v.File
	if v.Line > 0 {
		loc = fmt.Sprintf("%s:%d", v.File, v.Line)
	}
	return fmt.Sprintf("%s  %s  %s  (%s)", loc, v.Severity, v.Message, v.Rule)
}

// Linter checks a set of files.
type Linter interface {
	Lint(ctx context.Context, files []string) ([]Violation, error)
}

// Error is returned when a lint run found errors. The message is the full
// human-readable report.
type Error struct {
	Linter     string
	Violations []Violation
}

func (e *Error) Error() string {
	errs := 0
	for _, v := range e.Violations {
		if v.Severity == SeverityError {
			errs++
		}
	}
	return fmt.Sprintf("%s: %d problem(s) found\n%s", e.Linter, errs, Format(e.Violations))
}

// Format renders violations sorted by file and line, one per line.
func Format(vs []Violation) string {
	sorted := make([]Violation, len(vs))
	copy(sorted, vs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].File != sorted[j].File {
			return sorted[i].File < sorted[j].File
		}
		return sorted[i].Line < sorted[j].Line
	})
	var b strings.Builder
	for _, v := range sorted {
		b.WriteString(v.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// Check runs l and converts error-severity findings into an *Error.
// Warnings are returned for reporting but do not fail the check.
func Check(ctx context.Context, name string, l Linter, files []string) ([]Violation, error) {
	vs, err := l.Lint(ctx, files)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	for _, v := range vs {
		if v.Severity == SeverityError {
			return vs, &Error{Linter: name, Violations: vs}
		}
	}
	return vs, nil
}

// lineAt returns the 1-based line of byte offset off in src.
func lineAt(src []byte, off int) int {
	if off > len(src) {
		off = len(src)
	}
	return strings.Count(string(src[:off]), "\n") + 1
}

func readFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return b, nil
}
