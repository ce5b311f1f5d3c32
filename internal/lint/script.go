package lint

import (
	"context"

	"github.com/evanw/esbuild/pkg/api"
)

// Script parses every file with esbuild and reports syntax errors and
// esbuild warnings.
type Script struct {
	JSX bool
}

func (s Script) Lint(ctx context.Context, files []string) ([]Violation, error) {
	loader := api.LoaderJS
	if s.JSX {
		loader = api.LoaderJSX
	}
	var out []Violation
	for _, f := range files {
		src, err := readFile(ctx, f)
		if err != nil {
			return nil, err
		}
		res := api.Transform(string(src), api.TransformOptions{
			Loader:     loader,
			Sourcefile: f,
			LogLevel:   api.LogLevelSilent,
		})
		out = append(out, fromMessages(f, res.Errors, SeverityError)...)
		out = append(out, fromMessages(f, res.Warnings, SeverityWarning)...)
	}
	return out, nil
}

func fromMessages(file string, msgs []api.Message, sev Severity) []Violation {
	out := make([]Violation, 0, len(msgs))
	for _, m := range msgs {
		v := Violation{File: file, Rule: "esbuild", Severity: sev, Message: m.Text}
		if m.ID != "" {
			v.Rule = m.ID
		}
		if m.Location != nil {
			v.Line = m.Location.Line
		}
		out = append(out, v)
	}
	return out
}
