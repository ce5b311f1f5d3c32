package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/3cpo-dev/assetflow/internal/lint"
	"github.com/3cpo-dev/assetflow/internal/transform"
)

// SrcsetRule selects the output formats of images matching Match. An empty
// Formats list keeps the source format only.
type SrcsetRule struct {
	Match   string   `yaml:"match" toml:"match"`
	Formats []string `yaml:"format" toml:"format"`
}

// DefaultSrcset emits jpg and webp for jpegs and keeps pngs as they are.
func DefaultSrcset() []SrcsetRule {
	return []SrcsetRule{
		{Match: "**/*.jpg", Formats: []string{"jpg", "webp"}},
		{Match: "**/*.png"},
	}
}

// Images writes every source image, plus any extra formats the srcset rules
// ask for, mirrored under the output directory.
type Images struct {
	Env       *Env
	Src       Sources
	Rules     []SrcsetRule
	Linter    lint.Linter
	Converter transform.ImageConverter
}

// NewImages creates the images pipeline.
func NewImages(env *Env, src Sources, rules []SrcsetRule, conv transform.ImageConverter) *Images {
	if rules == nil {
		rules = DefaultSrcset()
	}
	return &Images{Env: env, Src: src, Rules: rules, Linter: lint.Image{}, Converter: conv}
}

func (p *Images) Name() string       { return "images" }
func (p *Images) Patterns() []string { return p.Src.Globs }

func (p *Images) Lint(ctx context.Context) error {
	return runLint(ctx, "images", p.Src, p.Linter)
}

func (p *Images) Transform(ctx context.Context, mode Mode) error {
	srcs, err := p.Src.Expand()
	if err != nil {
		return err
	}
	for _, s := range srcs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.emit(ctx, s); err != nil {
			return err
		}
	}
	if mode == Dev {
		p.Env.reload()
		p.Env.notify("Images are updated.")
		return nil
	}
	p.Env.notify("Images are generated.")
	return nil
}

// Formats returns the output formats for an image at rel. The source format
// is used when no rule matches.
func (p *Images) Formats(rel string) []string {
	own := strings.TrimPrefix(strings.ToLower(filepath.Ext(rel)), ".")
	for _, r := range p.Rules {
		ok, err := doublestar.Match(r.Match, filepath.ToSlash(rel))
		if err != nil || !ok {
			continue
		}
		if len(r.Formats) == 0 {
			return []string{own}
		}
		return r.Formats
	}
	return []string{own}
}

func (p *Images) emit(ctx context.Context, s Source) error {
	ext := filepath.Ext(s.Rel)
	own := strings.TrimPrefix(strings.ToLower(ext), ".")
	stem := strings.TrimSuffix(s.Rel, ext)
	for _, f := range p.Formats(s.Rel) {
		f = strings.ToLower(f)
		switch {
		case f == own:
			if err := copyFile(s.Path, p.Src.target(s.Rel)); err != nil {
				return err
			}
		case f == "webp":
			if p.Converter == nil {
				return fmt.Errorf("%s: no webp converter configured", s.Path)
			}
			dst := p.Src.target(stem + ".webp")
			if err := writeDir(dst); err != nil {
				return err
			}
			if err := p.Converter.Convert(ctx, s.Path, dst); err != nil {
				return fmt.Errorf("convert %s: %w", s.Path, err)
			}
		default:
			return fmt.Errorf("%s: cannot convert %s to %s", s.Path, own, f)
		}
	}
	return nil
}
