// Package taskgraph composes named tasks into series and parallel groups and
// runs them. A Graph is an explicit value: tasks are defined into it, the
// whole graph is validated (references resolve, no cycles) and only then
// executed.
package taskgraph

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
)

// Kind is the shape of a node.
type Kind int

const (
	KindAction Kind = iota
	KindSeries
	KindParallel
	KindRef
	KindTolerate
)

func (k Kind) String() string {
	switch k {
	case KindAction:
		return "action"
	case KindSeries:
		return "series"
	case KindParallel:
		return "parallel"
	case KindRef:
		return "ref"
	case KindTolerate:
		return "tolerate"
	default:
		return "unknown"
	}
}

// Action is the body of a leaf task.
type Action func(ctx context.Context) error

// Node is one vertex of the graph. Build nodes with Do, Series, Parallel and Ref.
type Node struct {
	kind     Kind
	label    string
	action   Action
	children []*Node
}

// Kind returns the node kind.
func (n *Node) Kind() Kind { return n.kind }

// Do wraps fn as a leaf action. The label names the action in logs and errors.
func Do(label string, fn Action) *Node {
	return &Node{kind: KindAction, label: label, action: fn}
}

// Series runs children one after another, stopping at the first failure.
func Series(children ...*Node) *Node {
	return &Node{kind: KindSeries, children: children}
}

// Parallel runs children concurrently and waits for all of them.
func Parallel(children ...*Node) *Node {
	return &Node{kind: KindParallel, children: children}
}

// Tolerate runs n and turns a failure that was already reported into
// success. Unreported errors and cancellation still propagate.
func Tolerate(n *Node) *Node {
	return &Node{kind: KindTolerate, children: []*Node{n}}
}

// Ref refers to a task defined by name.
func Ref(name string) *Node {
	return &Node{kind: KindRef, label: name}
}

// Reporter receives every leaf failure once.
type Reporter interface {
	Report(err error)
}

// Observer is called when a named task finishes.
type Observer func(name string, d time.Duration, err error)

// Option configures a Graph.
type Option func(*Graph)

// WithReporter routes leaf failures to r.
func WithReporter(r Reporter) Option {
	return func(g *Graph) { g.reporter = r }
}

// WithObserver registers fn to be called after every named task.
func WithObserver(fn Observer) Option {
	return func(g *Graph) { g.observer = fn }
}

// Graph holds named task definitions.
type Graph struct {
	mu       sync.RWMutex
	tasks    map[string]*Node
	order    []string
	reporter Reporter
	observer Observer
}

// New creates an empty graph.
func New(opts ...Option) *Graph {
	g := &Graph{tasks: make(map[string]*Node)}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Define registers a task under name.
func (g *Graph) Define(name string, n *Node) error {
	if name == "" {
		return invalidf("task name is required")
	}
	if n == nil {
		return invalidf("task %q has no body", name)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.tasks[name]; exists {
		return invalidf("duplicate task name: %q", name)
	}
	g.tasks[name] = n
	g.order = append(g.order, name)
	return nil
}

// Names returns task names in definition order.
func (g *Graph) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Has reports whether name is defined.
func (g *Graph) Has(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.tasks[name]
	return ok
}

// Run validates the graph and executes the named task.
func (g *Graph) Run(ctx context.Context, name string) error {
	if err := g.Validate(); err != nil {
		return err
	}
	return g.runNamed(ctx, name)
}

func (g *Graph) lookup(name string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.tasks[name]
	return n, ok
}

func (g *Graph) runNamed(ctx context.Context, name string) error {
	n, ok := g.lookup(name)
	if !ok {
		return unknownf("%q", name)
	}
	start := time.Now()
	log.Info().Str("task", name).Msg("Starting")
	err := g.exec(ctx, name, n)
	d := time.Since(start)
	if err != nil {
		log.Warn().Str("task", name).Dur("took", d).Msg("Failed")
	} else {
		log.Info().Str("task", name).Dur("took", d).Msg("Finished")
	}
	if g.observer != nil {
		g.observer(name, d, err)
	}
	return err
}

// exec runs n. owner is the nearest named task, used to label anonymous actions.
func (g *Graph) exec(ctx context.Context, owner string, n *Node) error {
	switch n.kind {
	case KindRef:
		return g.runNamed(ctx, n.label)
	case KindAction:
		return g.runAction(ctx, owner, n)
	case KindTolerate:
		err := g.exec(ctx, owner, n.children[0])
		if err != nil && allReported(err) && ctx.Err() == nil {
			log.Debug().Str("task", owner).Err(err).Msg("failure tolerated")
			return nil
		}
		return err
	case KindSeries:
		for _, c := range n.children {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := g.exec(ctx, owner, c); err != nil {
				return err
			}
		}
		return nil
	case KindParallel:
		errs := make([]error, len(n.children))
		var wg sync.WaitGroup
		for i, c := range n.children {
			wg.Add(1)
			go func(i int, c *Node) {
				defer wg.Done()
				errs[i] = g.exec(ctx, owner, c)
			}(i, c)
		}
		wg.Wait()
		var result *multierror.Error
		for _, err := range errs {
			if err != nil {
				result = multierror.Append(result, err)
			}
		}
		if result == nil {
			return nil
		}
		if len(result.Errors) == 1 {
			return result.Errors[0]
		}
		return result
	default:
		return invalidf("unknown node kind %d", n.kind)
	}
}

func (g *Graph) runAction(ctx context.Context, owner string, n *Node) (err error) {
	label := n.label
	if label == "" {
		label = owner
	}
	defer func() {
		if r := recover(); r != nil {
			err = g.fail(label, panicError{value: r})
		}
	}()
	if err := n.action(ctx); err != nil {
		if IsReported(err) || errors.Is(err, context.Canceled) {
			return err
		}
		return g.fail(label, err)
	}
	return nil
}

// allReported reports whether err and, for an aggregate, every error in it
// went through the Reporter.
func allReported(err error) bool {
	if merr, ok := err.(*multierror.Error); ok {
		for _, e := range merr.Errors {
			if !allReported(e) {
				return false
			}
		}
		return len(merr.Errors) > 0
	}
	return IsReported(err)
}

func (g *Graph) fail(label string, err error) error {
	if g.reporter != nil {
		g.reporter.Report(err)
	}
	return &TaskError{Task: label, Err: err}
}
