package pipeline

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/3cpo-dev/assetflow/internal/lint"
	"github.com/3cpo-dev/assetflow/internal/transform"
)

// Style compiles Sass entries to CSS and post-processes them for the target
// browsers. Partials (files starting with "_") are linted but not compiled.
type Style struct {
	Env      *Env
	Src      Sources
	Engines  []api.Engine
	Linter   lint.Linter
	Compiler transform.StyleCompiler
}

// NewStyle creates the style pipeline.
func NewStyle(env *Env, src Sources, engines []api.Engine, c transform.StyleCompiler) *Style {
	return &Style{Env: env, Src: src, Engines: engines, Linter: lint.Style{}, Compiler: c}
}

func (p *Style) Name() string       { return "style" }
func (p *Style) Patterns() []string { return p.Src.Globs }

func (p *Style) Lint(ctx context.Context) error {
	return runLint(ctx, "style", p.Src, p.Linter)
}

func (p *Style) Transform(ctx context.Context, mode Mode) error {
	srcs, err := p.Src.Expand()
	if err != nil {
		return err
	}
	var written []string
	for _, s := range srcs {
		if isPartial(s.Path) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		css, err := p.Compiler.Compile(ctx, s.Path, mode == Dev)
		if err != nil {
			return err
		}
		css, err = transform.ProcessCSS(css, transform.CSSOptions{
			Engines:    p.Engines,
			Minify:     mode == Build,
			SourceMap:  mode == Dev,
			Sourcefile: s.Path,
		})
		if err != nil {
			return err
		}
		dst := p.Src.target(strings.TrimSuffix(s.Rel, filepath.Ext(s.Rel)) + ".css")
		if err := writeFile(dst, css); err != nil {
			return err
		}
		written = append(written, dst)
	}
	if mode == Dev {
		p.Env.changed(written)
		p.Env.notify("Styles are updated.")
		return nil
	}
	p.Env.notify("Styles are compiled.")
	return nil
}

func isPartial(path string) bool {
	return strings.HasPrefix(filepath.Base(path), "_")
}
