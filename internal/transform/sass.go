package transform

import (
	"context"
)

// StyleCompiler turns one Sass entry file into CSS. With sourceMap set the
// CSS carries an inline map back to the Sass sources.
type StyleCompiler interface {
	Compile(ctx context.Context, path string, sourceMap bool) ([]byte, error)
}

// SassCLI shells out to the dart-sass executable.
type SassCLI struct {
	Bin       string
	LoadPaths []string
}

// NewSassCLI returns a compiler using bin (default "sass") that resolves
// bare imports from loadPaths, or node_modules when none are given.
func NewSassCLI(bin string, loadPaths ...string) *SassCLI {
	if bin == "" {
		bin = "sass"
	}
	if len(loadPaths) == 0 {
		loadPaths = []string{"node_modules"}
	}
	return &SassCLI{Bin: bin, LoadPaths: loadPaths}
}

func (s *SassCLI) Compile(ctx context.Context, path string, sourceMap bool) ([]byte, error) {
	return runTool(ctx, "sass", s.Bin, s.args(path, sourceMap)...)
}

func (s *SassCLI) args(path string, sourceMap bool) []string {
	args := []string{"--no-source-map", "--style=expanded"}
	if sourceMap {
		args = []string{"--embed-source-map", "--embed-sources", "--style=expanded"}
	}
	for _, p := range s.LoadPaths {
		args = append(args, "--load-path", p)
	}
	return append(args, path)
}
