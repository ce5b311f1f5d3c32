package transform

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// runTool executes name with args and returns stdout. A non-zero exit is
// turned into a *CompilationError carrying stderr.
func runTool(ctx context.Context, tool, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	log.Debug().Str("tool", tool).Str("bin", bin).Strs("args", args).Msg("exec")
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &CompilationError{Tool: tool, Diagnostics: strings.TrimSpace(stderr.String())}
		}
		return nil, errors.Wrapf(err, "run %s", bin)
	}
	return stdout.Bytes(), nil
}
