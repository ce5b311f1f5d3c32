package transform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// CompilationResult is what a bundler run produced.
type CompilationResult struct {
	Success     bool
	Diagnostics string
	Entries     []string
	Outputs     []string
	Errors      int
	Warnings    int
}

// CompilationError is returned by tools that report source problems, as
// opposed to failing to run at all.
type CompilationError struct {
	Tool        string
	Diagnostics string
}

func (e *CompilationError) Error() string {
	if e.Diagnostics == "" {
		return e.Tool + ": compilation failed"
	}
	return fmt.Sprintf("%s: compilation failed\n%s", e.Tool, e.Diagnostics)
}

// BundleOptions is one bundler invocation.
type BundleOptions struct {
	Entries []string
	Outdir  string
	// Dev selects inline source maps and NODE_ENV=development; otherwise the
	// output is minified with NODE_ENV=production.
	Dev     bool
	Engines []api.Engine
	JSX     bool
	// WorkDir resolves relative entries and imports. Defaults to the
	// current directory.
	WorkDir string
}

// Bundler compiles script entries into output files.
type Bundler interface {
	Bundle(ctx context.Context, opts BundleOptions) (*CompilationResult, error)
}

// Esbuild bundles with the esbuild Go API. Nothing is written when the
// build has errors.
type Esbuild struct{}

func (Esbuild) Bundle(ctx context.Context, opts BundleOptions) (*CompilationResult, error) {
	if len(opts.Entries) == 0 {
		return nil, errors.New("bundle: no entry points")
	}
	if opts.Outdir == "" {
		return nil, errors.New("bundle: output path is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wd := opts.WorkDir
	if wd == "" {
		var err error
		if wd, err = os.Getwd(); err != nil {
			return nil, errors.Wrap(err, "bundle: working directory")
		}
	}
	wd, err := filepath.Abs(wd)
	if err != nil {
		return nil, errors.Wrap(err, "bundle: working directory")
	}
	outdir := opts.Outdir
	if !filepath.IsAbs(outdir) {
		outdir = filepath.Join(wd, outdir)
	}

	bo := api.BuildOptions{
		EntryPoints:   opts.Entries,
		Bundle:        true,
		Outdir:        outdir,
		AbsWorkingDir: wd,
		Engines:       opts.Engines,
		LogLevel:      api.LogLevelSilent,
		Write:         false,
	}
	if opts.JSX {
		bo.Loader = map[string]api.Loader{".js": api.LoaderJSX}
	}
	if opts.Dev {
		bo.Sourcemap = api.SourceMapInline
		bo.Define = map[string]string{"process.env.NODE_ENV": `"development"`}
	} else {
		bo.MinifyWhitespace = true
		bo.MinifyIdentifiers = true
		bo.MinifySyntax = true
		bo.Define = map[string]string{"process.env.NODE_ENV": `"production"`}
	}

	res := api.Build(bo)
	out := &CompilationResult{
		Success:  len(res.Errors) == 0,
		Entries:  append([]string(nil), opts.Entries...),
		Errors:   len(res.Errors),
		Warnings: len(res.Warnings),
	}
	diag := formatMessages(res.Errors, api.ErrorMessage) + formatMessages(res.Warnings, api.WarningMessage)
	out.Diagnostics = strings.TrimRight(diag, "\n")
	if !out.Success {
		return out, nil
	}

	for _, f := range res.OutputFiles {
		if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
			return nil, errors.Wrap(err, "bundle: create output dir")
		}
		if err := os.WriteFile(f.Path, f.Contents, 0o644); err != nil {
			return nil, errors.Wrap(err, "bundle: write output")
		}
		out.Outputs = append(out.Outputs, f.Path)
	}
	log.Debug().Strs("outputs", out.Outputs).Int("warnings", out.Warnings).Msg("bundle written")
	return out, nil
}
