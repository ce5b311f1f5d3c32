// Package pipeline implements the per-asset-class lint and transform steps.
// Each pipeline reads its sources from globs under a project root, writes
// to an output directory and talks to the outside world only through Env.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/assetflow/internal/lint"
	"github.com/3cpo-dev/assetflow/internal/report"
)

// Mode selects the output variant.
type Mode int

const (
	Dev Mode = iota
	Build
)

func (m Mode) String() string {
	if m == Build {
		return "build"
	}
	return "dev"
}

// Reloader announces output changes to connected browsers.
type Reloader interface {
	Reload()
	Changed(files []string)
}

// Diagnostics receives compiler output that is not a task failure.
type Diagnostics interface {
	Diagnose(text string)
	MarkFailed()
}

// Env carries the collaborators shared by all pipelines.
type Env struct {
	Notifier    report.Notifier
	Diagnostics Diagnostics
	Reloader    Reloader
	Now         func() time.Time
}

func (e *Env) notify(msg string) {
	if e.Notifier != nil {
		e.Notifier.Notify(msg)
	}
}

func (e *Env) reload() {
	if e.Reloader != nil {
		e.Reloader.Reload()
	}
}

func (e *Env) changed(files []string) {
	if e.Reloader != nil && len(files) > 0 {
		e.Reloader.Changed(files)
	}
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Pipeline is one asset class.
type Pipeline interface {
	Name() string
	// Patterns are the source globs, relative to the project root.
	Patterns() []string
	Lint(ctx context.Context) error
	Transform(ctx context.Context, mode Mode) error
}

// Sources locates the input and output of a pipeline.
type Sources struct {
	Root  string
	Globs []string
	Out   string
}

// Source is one matched input file.
type Source struct {
	Path string
	// Rel is Path relative to the static base of the glob that matched it.
	Rel string
}

// Expand resolves the globs of s into files, sorted by path. Globs whose base
// directory does not exist match nothing.
func (s Sources) Expand() ([]Source, error) {
	seen := make(map[string]bool)
	var out []Source
	for _, g := range s.Globs {
		base, pattern := doublestar.SplitPattern(filepath.ToSlash(g))
		dir := filepath.Join(s.Root, filepath.FromSlash(base))
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			continue
		}
		err := doublestar.GlobWalk(os.DirFS(dir), pattern, func(p string, d fs.DirEntry) error {
			if d.IsDir() {
				return nil
			}
			full := filepath.Join(dir, filepath.FromSlash(p))
			if seen[full] {
				return nil
			}
			seen[full] = true
			out = append(out, Source{Path: full, Rel: filepath.FromSlash(p)})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", g, err)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s Sources) target(rel string) string {
	return filepath.Join(s.Root, s.Out, rel)
}

func paths(srcs []Source) []string {
	out := make([]string, len(srcs))
	for i, s := range srcs {
		out[i] = s.Path
	}
	return out
}

// runLint expands the sources and checks them with l. Warnings are logged.
func runLint(ctx context.Context, name string, s Sources, l lint.Linter) error {
	srcs, err := s.Expand()
	if err != nil {
		return err
	}
	if len(srcs) == 0 {
		log.Debug().Str("linter", name).Msg("no files to lint")
		return nil
	}
	vs, err := lint.Check(ctx, name, l, paths(srcs))
	if err != nil {
		return err
	}
	for _, v := range vs {
		log.Warn().Str("linter", name).Msg(v.String())
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if err := writeDir(path); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	if err := writeDir(dst); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

func writeDir(file string) error {
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	return nil
}
