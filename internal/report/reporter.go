package report

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Reporter is the single funnel for task failures. It notifies, writes the
// message and stack to the diagnostic writer and remembers that the process
// must exit with a failure status.
type Reporter struct {
	notifier Notifier
	out      io.Writer

	mu     sync.Mutex
	failed atomic.Bool
}

// NewReporter creates a Reporter writing diagnostics to out.
func NewReporter(n Notifier, out io.Writer) *Reporter {
	if n == nil {
		n = Nop{}
	}
	if out == nil {
		out = io.Discard
	}
	return &Reporter{notifier: n, out: out}
}

// Report handles err. It never panics.
func (r *Reporter) Report(err error) {
	if err == nil {
		return
	}
	r.failed.Store(true)
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("error reporter recovered")
		}
	}()

	r.safeNotify(err)

	msg := withNewline(err.Error())
	var stack string
	var st stackTracer
	if errors.As(err, &st) {
		stack = withNewline(strings.TrimLeft(fmt.Sprintf("%+v", st.StackTrace()), "\n"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = io.WriteString(r.out, msg)
	if stack != "" {
		_, _ = io.WriteString(r.out, stack)
	}
}

func (r *Reporter) safeNotify(err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Warn().Interface("panic", rec).Msg("notifier panicked")
		}
	}()
	r.notifier.NotifyError(err)
}

// Diagnose writes text to the diagnostic stream without notifying.
func (r *Reporter) Diagnose(text string) {
	if text == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = io.WriteString(r.out, withNewline(text))
}

// MarkFailed sets the failure exit status without writing anything.
func (r *Reporter) MarkFailed() { r.failed.Store(true) }

// Failed reports whether any failure was recorded.
func (r *Reporter) Failed() bool { return r.failed.Load() }

// ExitCode is 1 once a failure was recorded, 0 otherwise.
func (r *Reporter) ExitCode() int {
	if r.Failed() {
		return 1
	}
	return 0
}

// withNewline returns s terminated by exactly one newline.
func withNewline(s string) string {
	return strings.TrimRight(s, "\n") + "\n"
}
