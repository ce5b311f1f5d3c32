package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/3cpo-dev/assetflow/internal/core"
	"github.com/3cpo-dev/assetflow/internal/report"
	"github.com/3cpo-dev/assetflow/internal/taskgraph"
)

// Load the configuration and build the orchestrator
func resolveOrchestrator(cmd *cobra.Command) (*core.Orchestrator, *core.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := core.LoadConfig(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	if file, _ := cmd.Flags().GetString("log-file"); file == "" && cfg.Log.File != "" {
		setupLogger(cmd.ErrOrStderr(), &lumberjack.Logger{
			Filename:   cfg.Abs(cfg.Log.File),
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		})
	}
	manifest, err := core.LoadManifest(cfg.Abs(cfg.Manifest))
	if err != nil {
		return nil, nil, err
	}

	var notifier report.Notifier = report.Nop{}
	if noNotify, _ := cmd.Flags().GetBool("no-notify"); !noNotify && cfg.Notify.Enabled {
		notifier = report.NewDesktop(cfg.Notify.Title)
	}

	o, err := core.NewOrchestrator(core.Options{
		Config:      cfg,
		Manifest:    manifest,
		Notifier:    notifier,
		Diagnostics: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, nil, err
	}
	return o, cfg, nil
}

// Run tasks and keep serving/watching until interrupted
func runTasks(cmd *cobra.Command, names []string) error {
	o, _, err := resolveOrchestrator(cmd)
	if err != nil {
		return err
	}
	for _, name := range names {
		if !o.Has(name) {
			return fmt.Errorf("task %q is not defined, run 'assetflow tasks' to list tasks", name)
		}
	}
	series, _ := cmd.Flags().GetBool("series")
	ctx := cmd.Context()

	runErr := o.RunTasks(ctx, names, series)
	if o.LongRunning() {
		log.Info().Msg("Press Ctrl+C to stop")
		if err := o.Wait(ctx); err != nil {
			log.Warn().Err(err).Msg("shutdown")
		}
	}
	runs, failures, total := o.Stats().Totals()
	log.Debug().Int64("runs", runs).Int64("failures", failures).Dur("took", total).Msg("Summary")

	if errors.Is(runErr, context.Canceled) {
		return exitError{code: 130}
	}
	// Reported failures were already printed; anything else was not.
	if runErr != nil && !taskgraph.IsReported(runErr) {
		return runErr
	}
	if code := o.Reporter().ExitCode(); code != 0 {
		return exitError{code: code}
	}
	return nil
}

// List the tasks
func newTasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List the available tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, _, err := resolveOrchestrator(cmd)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, name := range o.Tasks() {
				fmt.Fprintf(tw, "%s\t%s\n", name, o.Describe(name))
			}
			return tw.Flush()
		},
	}
}

// Print checksums of the generated files
func newDigestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "digest [dir]",
		Short: "Print SHA-256 checksums of the generated files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := core.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			dir := cfg.Abs(cfg.Server.Root)
			if len(args) == 1 {
				dir = args[0]
			}
			files, err := core.Digest(dir)
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %8d  %s\n", f.Checksum, f.Size, f.Path)
			}
			if len(files) == 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "no files under %s\n", strings.TrimSuffix(dir, "/"))
			}
			return nil
		},
	}
}
