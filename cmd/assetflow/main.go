package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	version   = "0.3.0"
	commit    = ""
	buildDate = ""
)

// exitError carries a process exit status for failures that were already
// reported.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// Create the root command
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assetflow [task...]",
		Short: "assetflow: frontend asset pipeline runner",
		Long: "assetflow builds HTML, images, stylesheets and scripts for development (live reload, source maps)\n" +
			"and production (minified, versioned). Without arguments it runs the default task.",
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"default"}
			}
			return runTasks(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("log", "l", "info", "Set log level. Available: trace, debug, info, warn, error")
	cmd.PersistentFlags().String("log-file", "", "also write logs to this file (rotated)")
	cmd.PersistentFlags().StringP("config", "c", "", "config file (default: assetflow.yaml, assetflow.yml or assetflow.toml)")
	cmd.PersistentFlags().Bool("no-notify", false, "disable desktop notifications")
	cmd.Flags().Bool("series", false, "run several tasks one after another instead of concurrently")

	cmd.PersistentPreRun = func(c *cobra.Command, args []string) {
		levelStr, _ := c.Flags().GetString("log")
		switch levelStr {
		case "trace":
			zerolog.SetGlobalLevel(zerolog.TraceLevel)
		case "debug":
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		case "info":
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		case "warn":
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
		case "error":
			zerolog.SetGlobalLevel(zerolog.ErrorLevel)
		default:
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		}
		if file, _ := c.Flags().GetString("log-file"); file != "" {
			setupLogger(c.ErrOrStderr(), &lumberjack.Logger{Filename: file, MaxSize: 10, MaxBackups: 3})
		}
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newTasksCmd())
	cmd.AddCommand(newDigestCmd())
	return cmd
}

// Create the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "assetflow %s (%s) %s\n", version, commit, buildDate)
		},
	}
}

// Setup the logger. Console output goes to out; file, when set, receives the
// same events as JSON.
func setupLogger(out io.Writer, file io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var w io.Writer = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	if file != nil {
		w = zerolog.MultiLevelWriter(w, file)
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// Main entry point
func main() {
	setupLogger(os.Stderr, nil)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	root := newRootCmd()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	root.SetContext(ctx)
	if err := root.Execute(); err != nil {
		var ee exitError
		if errors.As(err, &ee) {
			cancel()
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		cancel()
		os.Exit(1)
	}
}
