// Package core wires configuration, pipelines, the live-reload bridge and the
// task graph into a runnable project.
package core

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/assetflow/internal/livereload"
	"github.com/3cpo-dev/assetflow/internal/pipeline"
	"github.com/3cpo-dev/assetflow/internal/report"
	"github.com/3cpo-dev/assetflow/internal/taskgraph"
	"github.com/3cpo-dev/assetflow/internal/transform"
	"github.com/3cpo-dev/assetflow/internal/watch"
)

// Options configures an Orchestrator. Zero tool fields select the real
// adapters (sass, cwebp, esbuild).
type Options struct {
	Config      *Config
	Manifest    Manifest
	Notifier    report.Notifier
	Diagnostics io.Writer
	Compiler    transform.StyleCompiler
	Converter   transform.ImageConverter
	Bundler     transform.Bundler
	Now         func() time.Time
}

// Orchestrator owns the task graph of a project and the long-running
// resources (servers, watchers) its tasks start.
type Orchestrator struct {
	cfg       *Config
	reporter  *report.Reporter
	bridge    *livereload.Bridge
	graph     *taskgraph.Graph
	stats     *Stats
	about     map[string]string
	pipelines []pipeline.Pipeline

	mu       sync.Mutex
	watching int
	wg       sync.WaitGroup
}

// NewOrchestrator builds the pipelines and defines every task.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = report.Nop{}
	}
	diag := opts.Diagnostics
	if diag == nil {
		diag = os.Stderr
	}
	o := &Orchestrator{
		cfg:      cfg,
		reporter: report.NewReporter(notifier, diag),
		bridge:   livereload.NewBridge(),
		stats:    NewStats(),
		about:    make(map[string]string),
	}
	o.graph = taskgraph.New(
		taskgraph.WithReporter(o.reporter),
		taskgraph.WithObserver(o.stats.Record),
	)
	env := &pipeline.Env{
		Notifier:    notifier,
		Diagnostics: o.reporter,
		Reloader:    o.bridge,
		Now:         opts.Now,
	}
	o.pipelines = buildPipelines(cfg, opts, env)
	if err := o.defineTasks(); err != nil {
		return nil, err
	}
	if err := o.graph.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

func buildPipelines(cfg *Config, opts Options, env *pipeline.Env) []pipeline.Pipeline {
	compiler := opts.Compiler
	if compiler == nil {
		compiler = transform.NewSassCLI(cfg.Tools.Sass, cfg.Abs("node_modules"))
	}
	converter := opts.Converter
	if converter == nil {
		c := transform.NewCwebp(cfg.Tools.Cwebp)
		if cfg.Tools.WebpQuality > 0 {
			c.Quality = cfg.Tools.WebpQuality
		}
		converter = c
	}
	bundler := opts.Bundler
	if bundler == nil {
		bundler = transform.Esbuild{}
	}
	engines := transform.Engines(opts.Manifest.Browsers)
	src := func(globs Patterns, out string) pipeline.Sources {
		return pipeline.Sources{Root: cfg.Root, Globs: globs, Out: out}
	}
	return []pipeline.Pipeline{
		pipeline.NewHTML(env, src(cfg.HTML.Src, cfg.HTML.Out), cfg.VersionToken),
		pipeline.NewImages(env, src(cfg.Images.Src, cfg.Images.Out), cfg.Images.Srcset, converter),
		pipeline.NewStyle(env, src(cfg.Style.Src, cfg.Style.Out), engines, compiler),
		pipeline.NewScript(env, src(cfg.Script.Src, cfg.Script.Out), cfg.Script.Entry, engines, opts.Manifest.HasPreset("react"), bundler),
	}
}

// Run executes the named task.
func (o *Orchestrator) Run(ctx context.Context, name string) error {
	return o.graph.Run(ctx, name)
}

// RunTasks runs several tasks, one after another when series is set and
// concurrently otherwise. Every task runs in the concurrent case even if
// another fails.
func (o *Orchestrator) RunTasks(ctx context.Context, names []string, series bool) error {
	if series {
		for _, name := range names {
			if err := o.Run(ctx, name); err != nil {
				return err
			}
		}
		return nil
	}
	errs := make([]error, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			errs[i] = o.Run(ctx, name)
		}(i, name)
	}
	wg.Wait()
	var result *multierror.Error
	for _, err := range errs {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Tasks returns every task name in definition order.
func (o *Orchestrator) Tasks() []string { return o.graph.Names() }

// Describe returns a one-line description of a task.
func (o *Orchestrator) Describe(name string) string { return o.about[name] }

// Has reports whether a task is defined.
func (o *Orchestrator) Has(name string) bool { return o.graph.Has(name) }

// Reporter returns the reporter that decides the exit status.
func (o *Orchestrator) Reporter() *report.Reporter { return o.reporter }

// Bridge returns the live-reload bridge.
func (o *Orchestrator) Bridge() *livereload.Bridge { return o.bridge }

// Stats returns the task run statistics.
func (o *Orchestrator) Stats() *Stats { return o.stats }

// LongRunning reports whether a task started a server or watcher that keeps
// working after the task returned.
func (o *Orchestrator) LongRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.watching > 0 || len(o.bridge.Servers()) > 0
}

// Wait blocks until ctx is done, then stops servers and waits for watchers.
func (o *Orchestrator) Wait(ctx context.Context) error {
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return o.Shutdown(shutdownCtx)
}

// Shutdown stops every server and waits for watch loops to exit. Watch loops
// exit when the context they were started with is done.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	if err := o.bridge.Shutdown(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		result = multierror.Append(result, ctx.Err())
	}
	return result.ErrorOrNil()
}

func (o *Orchestrator) startServer(ctx context.Context) error {
	s := o.cfg.Server
	srv, err := o.bridge.StartServer(ctx, livereload.Options{
		Root:       o.cfg.Abs(s.Root),
		Host:       s.Host,
		Port:       s.Port,
		LiveReload: s.LiveReload,
	})
	if err != nil {
		return err
	}
	log.Debug().Str("id", srv.ID).Int("servers", len(o.bridge.Servers())).Msg("server registered")
	return nil
}

// startWatch registers a watcher for p that re-runs task on every batch of
// changes, and returns once the watcher is installed.
func (o *Orchestrator) startWatch(ctx context.Context, p pipeline.Pipeline, task string) error {
	debounce, err := o.cfg.DebounceDuration()
	if err != nil {
		return err
	}
	w, err := watch.New(watch.Config{Root: o.cfg.Root, Patterns: p.Patterns(), Debounce: debounce})
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.watching++
	o.mu.Unlock()
	log.Info().Str("asset", p.Name()).Strs("dirs", w.Dirs()).Msg("Watching")

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			o.watching--
			o.mu.Unlock()
		}()
		err := w.Run(ctx, func(ctx context.Context, files []string) {
			log.Info().Str("asset", p.Name()).Strs("files", o.relative(files)).Msg("Changed")
			if err := o.graph.Run(ctx, task); err != nil && !taskgraph.IsReported(err) && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("task", task).Msg("rebuild failed")
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Str("asset", p.Name()).Msg("watcher stopped")
		}
	}()
	return nil
}

func (o *Orchestrator) relative(files []string) []string {
	out := make([]string, len(files))
	for i, f := range files {
		if rel, err := filepath.Rel(o.cfg.Root, f); err == nil {
			f = rel
		}
		out[i] = f
	}
	return out
}
