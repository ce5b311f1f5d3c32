package taskgraph

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recordingReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingReporter) Report(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

type trace struct {
	mu    sync.Mutex
	steps []string
}

func (t *trace) action(name string, err error) *Node {
	return Do(name, func(ctx context.Context) error {
		t.mu.Lock()
		t.steps = append(t.steps, name)
		t.mu.Unlock()
		return err
	})
}

func (t *trace) has(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.steps {
		if s == name {
			return true
		}
	}
	return false
}

// TestSeriesStopsAtFirstFailure tests that a failed child skips the rest of the series
func TestSeriesStopsAtFirstFailure(t *testing.T) {
	rep := &recordingReporter{}
	g := New(WithReporter(rep))
	tr := &trace{}
	boom := errors.New("boom")
	if err := g.Define("a", tr.action("a", boom)); err != nil {
		t.Fatalf("define: %v", err)
	}
	if err := g.Define("b", tr.action("b", nil)); err != nil {
		t.Fatalf("define: %v", err)
	}
	if err := g.Define("ab", Series(Ref("a"), Ref("b"))); err != nil {
		t.Fatalf("define: %v", err)
	}
	err := g.Run(context.Background(), "ab")
	if err == nil {
		t.Fatalf("expected failure")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	if !IsReported(err) {
		t.Fatalf("expected reported error")
	}
	if tr.has("b") {
		t.Fatalf("b must not run after a failed")
	}
	if rep.count() != 1 {
		t.Fatalf("expected 1 report, got %d", rep.count())
	}
}

// TestParallelRunsSiblingsDespiteFailure tests that one failure does not stop siblings
func TestParallelRunsSiblingsDespiteFailure(t *testing.T) {
	rep := &recordingReporter{}
	g := New(WithReporter(rep))
	var finished atomic.Bool
	_ = g.Define("a", Do("a", func(ctx context.Context) error { return errors.New("a failed") }))
	_ = g.Define("b", Do("b", func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return nil
	}))
	_ = g.Define("ab", Parallel(Ref("a"), Ref("b")))

	err := g.Run(context.Background(), "ab")
	if err == nil {
		t.Fatalf("expected failure to propagate")
	}
	if !finished.Load() {
		t.Fatalf("b should have run to completion")
	}
	if rep.count() != 1 {
		t.Fatalf("expected 1 report, got %d", rep.count())
	}
}

// TestParallelAggregatesFailures tests that every failed child is propagated
func TestParallelAggregatesFailures(t *testing.T) {
	g := New()
	e1, e2 := errors.New("one"), errors.New("two")
	_ = g.Define("p", Parallel(
		Do("x", func(ctx context.Context) error { return e1 }),
		Do("y", func(ctx context.Context) error { return e2 }),
	))
	err := g.Run(context.Background(), "p")
	if !errors.Is(err, e1) || !errors.Is(err, e2) {
		t.Fatalf("expected both errors, got %v", err)
	}
}

// TestSeriesOrder tests strict ordering inside a series
func TestSeriesOrder(t *testing.T) {
	g := New()
	tr := &trace{}
	_ = g.Define("s", Series(tr.action("1", nil), tr.action("2", nil), tr.action("3", nil)))
	if err := g.Run(context.Background(), "s"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.Join(tr.steps, ","); got != "1,2,3" {
		t.Fatalf("unexpected order %s", got)
	}
}

// TestNestedFailureReportedOnce tests that a failure crossing several levels is reported once
func TestNestedFailureReportedOnce(t *testing.T) {
	rep := &recordingReporter{}
	g := New(WithReporter(rep))
	_ = g.Define("leaf", Do("leaf", func(ctx context.Context) error { return errors.New("bad") }))
	_ = g.Define("mid", Series(Ref("leaf")))
	_ = g.Define("top", Parallel(Ref("mid"), Do("ok", func(ctx context.Context) error { return nil })))
	if err := g.Run(context.Background(), "top"); err == nil {
		t.Fatalf("expected error")
	}
	if rep.count() != 1 {
		t.Fatalf("expected 1 report, got %d", rep.count())
	}
}

// TestPanicIsReported tests that a panicking action becomes a reported failure
func TestPanicIsReported(t *testing.T) {
	rep := &recordingReporter{}
	g := New(WithReporter(rep))
	_ = g.Define("p", Do("p", func(ctx context.Context) error { panic("kaboom") }))
	err := g.Run(context.Background(), "p")
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("expected panic error, got %v", err)
	}
	if rep.count() != 1 {
		t.Fatalf("expected 1 report, got %d", rep.count())
	}
}

// TestValidate tests cycle and reference validation
func TestValidate(t *testing.T) {
	noop := func(ctx context.Context) error { return nil }

	g := New()
	_ = g.Define("a", Series(Ref("b")))
	_ = g.Define("b", Parallel(Do("x", noop), Ref("c")))
	_ = g.Define("c", Series(Ref("a")))
	err := g.Validate()
	if !errors.Is(err, ErrCycleFound) {
		t.Fatalf("expected cycle, got %v", err)
	}
	if !strings.Contains(err.Error(), "a -> b -> c -> a") {
		t.Fatalf("unexpected cycle path: %v", err)
	}

	g = New()
	_ = g.Define("self", Series(Ref("self")))
	if err := g.Validate(); !errors.Is(err, ErrCycleFound) {
		t.Fatalf("expected self cycle, got %v", err)
	}

	g = New()
	_ = g.Define("a", Series(Ref("missing")))
	if err := g.Validate(); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("expected unknown task, got %v", err)
	}

	g = New()
	_ = g.Define("a", Do("a", noop))
	if err := g.Define("a", Do("a", noop)); !errors.Is(err, ErrInvalidGraph) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	g = New()
	_ = g.Define("shared", Do("shared", noop))
	_ = g.Define("d", Parallel(Ref("shared"), Series(Ref("shared"))))
	if err := g.Validate(); err != nil {
		t.Fatalf("diamond should be valid: %v", err)
	}
}

// TestRunUnknownTask tests running a name that was never defined
func TestRunUnknownTask(t *testing.T) {
	g := New()
	if err := g.Run(context.Background(), "nope"); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("expected unknown task, got %v", err)
	}
}

// TestCancelledSeries tests that cancellation stops a series without a report
func TestCancelledSeries(t *testing.T) {
	rep := &recordingReporter{}
	g := New(WithReporter(rep))
	tr := &trace{}
	ctx, cancel := context.WithCancel(context.Background())
	_ = g.Define("s", Series(
		Do("cancel", func(context.Context) error { cancel(); return nil }),
		tr.action("after", nil),
	))
	err := g.Run(ctx, "s")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if tr.has("after") {
		t.Fatalf("series continued after cancellation")
	}
	if rep.count() != 0 {
		t.Fatalf("cancellation must not be reported")
	}
}

// TestObserver tests that named tasks are observed with their outcome
func TestObserver(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]error{}
	g := New(WithObserver(func(name string, d time.Duration, err error) {
		mu.Lock()
		seen[name] = err
		mu.Unlock()
	}))
	_ = g.Define("ok", Do("ok", func(context.Context) error { return nil }))
	_ = g.Define("bad", Do("bad", func(context.Context) error { return errors.New("x") }))
	_ = g.Define("all", Parallel(Ref("ok"), Ref("bad")))
	_ = g.Run(context.Background(), "all")
	if len(seen) != 3 {
		t.Fatalf("expected 3 observations, got %d", len(seen))
	}
	if seen["ok"] != nil || seen["bad"] == nil || seen["all"] == nil {
		t.Fatalf("unexpected observations: %v", seen)
	}
}

// TestTolerate tests that reported failures are settled and the series goes on
func TestTolerate(t *testing.T) {
	rep := &recordingReporter{}
	g := New(WithReporter(rep))
	tr := &trace{}
	_ = g.Define("lint", Do("lint", func(context.Context) error { return errors.New("3 problems") }))
	_ = g.Define("s", Series(Tolerate(Ref("lint")), tr.action("after", nil)))
	if err := g.Run(context.Background(), "s"); err != nil {
		t.Fatalf("tolerated failure propagated: %v", err)
	}
	if !tr.has("after") {
		t.Fatalf("series stopped at a tolerated failure")
	}
	if rep.count() != 1 {
		t.Fatalf("tolerated failure must still be reported once, got %d", rep.count())
	}

	// An unreported sibling error is not settled with the reported one.
	g = New(WithReporter(rep))
	_ = g.Define("p", Tolerate(Parallel(
		Do("lint", func(context.Context) error { return errors.New("3 problems") }),
		Do("aborted", func(context.Context) error { return context.Canceled }),
	)))
	if err := g.Run(context.Background(), "p"); !errors.Is(err, context.Canceled) {
		t.Fatalf("unreported error swallowed, got %v", err)
	}

	g = New()
	_ = g.Define("bad", Tolerate(Ref("missing")))
	if err := g.Validate(); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("tolerate must not hide graph errors, got %v", err)
	}
}
