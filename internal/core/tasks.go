package core

import (
	"context"

	"github.com/3cpo-dev/assetflow/internal/pipeline"
	tg "github.com/3cpo-dev/assetflow/internal/taskgraph"
)

// Task names composed from the asset classes.
const (
	TaskDefault = "default"
	TaskDev     = "dev"
	TaskBuild   = "build"
	TaskWatch   = "watch"
	TaskServer  = "server"
)

func (o *Orchestrator) defineTasks() error {
	var watches []*tg.Node
	for _, p := range o.pipelines {
		p := p
		name := p.Name()
		defs := []struct {
			name  string
			about string
			node  *tg.Node
		}{
			{name + ":lint", "Lint " + name + " sources", tg.Do(name+":lint", p.Lint)},
			// Lint runs beside the transform in dev and its failure is only
			// reported, so it never holds back the preview.
			{name + ":dev", "Build " + name + " for development", tg.Parallel(
				tg.Tolerate(tg.Ref(name+":lint")),
				tg.Do(name+":dev", func(ctx context.Context) error { return p.Transform(ctx, pipeline.Dev) }),
			)},
			{name + ":build", "Build " + name + " for production", tg.Series(
				tg.Ref(name+":lint"),
				tg.Do(name+":build", func(ctx context.Context) error { return p.Transform(ctx, pipeline.Build) }),
			)},
			{name + ":watch", "Rebuild " + name + " on change", tg.Do(name+":watch", func(ctx context.Context) error {
				return o.startWatch(ctx, p, name+":dev")
			})},
		}
		for _, d := range defs {
			if err := o.graph.Define(d.name, d.node); err != nil {
				return err
			}
			o.about[d.name] = d.about
		}
		watches = append(watches, tg.Ref(name+":watch"))
	}

	top := []struct {
		name  string
		about string
		node  *tg.Node
	}{
		{TaskWatch, "Watch every asset class", tg.Parallel(watches...)},
		{TaskServer, "Serve the output directory with live reload", tg.Do(TaskServer, o.startServer)},
		{TaskDev, "Serve, build for development and watch", tg.Series(
			tg.Ref(TaskServer),
			// A broken source must not keep the watchers from starting.
			tg.Tolerate(tg.Parallel(
				tg.Series(tg.Ref("style:dev"), tg.Ref("html:dev")),
				tg.Ref("images:dev"),
				tg.Ref("script:dev"),
			)),
			tg.Ref(TaskWatch),
		)},
		{TaskBuild, "Build every asset class for production", tg.Parallel(
			tg.Series(tg.Ref("style:build"), tg.Ref("html:build")),
			tg.Ref("images:build"),
			tg.Ref("script:build"),
		)},
		{TaskDefault, "Alias of dev", tg.Series(tg.Ref(TaskDev))},
	}
	for _, d := range top {
		if err := o.graph.Define(d.name, d.node); err != nil {
			return err
		}
		o.about[d.name] = d.about
	}
	return nil
}
