package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/3cpo-dev/assetflow/internal/lint"
	"github.com/3cpo-dev/assetflow/internal/transform"
)

// HTML copies documents in dev. In build it versions them, makes their
// stylesheets load progressively and minifies them.
type HTML struct {
	Env          *Env
	Src          Sources
	VersionToken string
	Linter       lint.Linter
	Minifier     *transform.HTMLMinifier
}

// NewHTML creates the html pipeline with its default linter and minifier.
func NewHTML(env *Env, src Sources, token string) *HTML {
	return &HTML{Env: env, Src: src, VersionToken: token, Linter: lint.HTML{}, Minifier: transform.NewHTMLMinifier()}
}

func (p *HTML) Name() string       { return "html" }
func (p *HTML) Patterns() []string { return p.Src.Globs }

func (p *HTML) Lint(ctx context.Context) error {
	return runLint(ctx, "html", p.Src, p.Linter)
}

func (p *HTML) Transform(ctx context.Context, mode Mode) error {
	srcs, err := p.Src.Expand()
	if err != nil {
		return err
	}
	stamp := p.Env.now()
	for _, s := range srcs {
		if err := ctx.Err(); err != nil {
			return err
		}
		dst := p.Src.target(s.Rel)
		if mode == Dev {
			if err := copyFile(s.Path, dst); err != nil {
				return err
			}
			continue
		}
		data, err := os.ReadFile(s.Path)
		if err != nil {
			return err
		}
		data = transform.ReplaceVersion(data, p.VersionToken, stamp)
		if data, err = transform.ProgressiveCSS(data, filepath.Join(p.Src.Root, p.Src.Out)); err != nil {
			return err
		}
		if data, err = p.Minifier.Minify(data); err != nil {
			return err
		}
		if err := writeFile(dst, data); err != nil {
			return err
		}
	}
	if mode == Dev {
		p.Env.reload()
		p.Env.notify("HTML files are updated.")
		return nil
	}
	p.Env.notify("HTML files are compiled.")
	return nil
}
