package transform

import (
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// CSSOptions configures the post-processing step that runs after Sass.
type CSSOptions struct {
	Engines   []api.Engine
	Minify    bool
	SourceMap bool
	// Sourcefile names the input in diagnostics and source maps.
	Sourcefile string
}

// ProcessCSS lowers and prefixes css for the configured engines and
// optionally minifies it or appends an inline source map.
func ProcessCSS(css []byte, opts CSSOptions) ([]byte, error) {
	to := api.TransformOptions{
		Loader:            api.LoaderCSS,
		Engines:           opts.Engines,
		Sourcefile:        opts.Sourcefile,
		LogLevel:          api.LogLevelSilent,
		MinifyWhitespace:  opts.Minify,
		MinifySyntax:      opts.Minify,
		MinifyIdentifiers: opts.Minify,
	}
	if opts.SourceMap {
		to.Sourcemap = api.SourceMapInline
	}
	res := api.Transform(string(css), to)
	if len(res.Errors) > 0 {
		return nil, &CompilationError{Tool: "css", Diagnostics: formatMessages(res.Errors, api.ErrorMessage)}
	}
	return res.Code, nil
}

func formatMessages(msgs []api.Message, kind api.MessageKind) string {
	if len(msgs) == 0 {
		return ""
	}
	return strings.Join(api.FormatMessages(msgs, api.FormatMessagesOptions{Kind: kind}), "")
}
