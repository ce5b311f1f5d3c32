package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/assetflow/internal/lint"
	"github.com/3cpo-dev/assetflow/internal/transform"
)

// Script bundles the configured entries. Compiler errors inside a finished
// bundler run are diagnostics, not task failures: they are announced, written
// and recorded in the exit status while the task itself succeeds.
type Script struct {
	Env     *Env
	Src     Sources
	Entries []string
	Engines []api.Engine
	JSX     bool
	Linter  lint.Linter
	Bundler transform.Bundler
}

// NewScript creates the script pipeline. Entries are relative to the
// project root; Src.Out is the bundle output directory.
func NewScript(env *Env, src Sources, entries []string, engines []api.Engine, jsx bool, b transform.Bundler) *Script {
	return &Script{
		Env:     env,
		Src:     src,
		Entries: entries,
		Engines: engines,
		JSX:     jsx,
		Linter:  lint.Script{JSX: jsx},
		Bundler: b,
	}
}

func (p *Script) Name() string       { return "script" }
func (p *Script) Patterns() []string { return p.Src.Globs }

func (p *Script) Lint(ctx context.Context) error {
	return runLint(ctx, "script", p.Src, p.Linter)
}

func (p *Script) Transform(ctx context.Context, mode Mode) error {
	if !p.hasEntry() {
		log.Info().Strs("entries", p.Entries).Msg("no script entry found, skipping bundle")
		return nil
	}
	res, err := p.Bundler.Bundle(ctx, transform.BundleOptions{
		Entries: p.Entries,
		Outdir:  p.Src.Out,
		Dev:     mode == Dev,
		Engines: p.Engines,
		JSX:     p.JSX,
		WorkDir: p.Src.Root,
	})
	if err != nil {
		return err
	}
	if !res.Success {
		cerr := &transform.CompilationError{Tool: "script", Diagnostics: res.Diagnostics}
		if p.Env.Notifier != nil {
			p.Env.Notifier.NotifyError(cerr)
		}
		if p.Env.Diagnostics != nil {
			p.Env.Diagnostics.Diagnose(cerr.Error())
			p.Env.Diagnostics.MarkFailed()
		}
		log.Warn().Int("errors", res.Errors).Strs("entries", res.Entries).Msg("bundle has errors")
		return nil
	}
	if res.Warnings > 0 && p.Env.Diagnostics != nil {
		p.Env.Diagnostics.Diagnose(res.Diagnostics)
	}
	if mode == Dev {
		p.Env.changed(res.Outputs)
		p.Env.notify("Scripts are updated.")
		return nil
	}
	p.Env.notify("Scripts are compiled.")
	return nil
}

// hasEntry reports whether at least one entry exists. Missing entries next to
// existing ones are left to the bundler to report.
func (p *Script) hasEntry() bool {
	for _, e := range p.Entries {
		path := e
		if !filepath.IsAbs(path) {
			path = filepath.Join(p.Src.Root, e)
		}
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}
