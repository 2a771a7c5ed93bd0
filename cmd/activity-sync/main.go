package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"activity-sync/pipeline"
)

type rootOptions struct {
	configPath string
	debug      bool
	logFile    string
	dbPath     string
	dbDriver   string
	dbDSN      string
	timezone   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "activity-sync",
		Short:         "Turn raw life-activity records into day-bounded canonical records",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file path.")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logs.")
	cmd.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "Also write logs to this rotated file.")
	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides config.database.path).")
	cmd.PersistentFlags().StringVar(&opts.dbDriver, "db-driver", "", "Database driver: sqlite or postgres.")
	cmd.PersistentFlags().StringVar(&opts.dbDSN, "db-dsn", "", "Postgres DSN (overrides config.database.dsn).")
	cmd.PersistentFlags().StringVar(&opts.timezone, "timezone", "", "IANA zone that defines local midnight.")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newReconcileCommand(opts))
	cmd.AddCommand(newRawCommand(opts))
	cmd.AddCommand(newShowCommand(opts))
	return cmd
}

// loadConfig reads the config file (when given) and applies the persistent
// flags that were set explicitly.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*pipeline.FileConfig, error) {
	fc := pipeline.DefaultConfig()
	cfg := &fc
	if opts.configPath != "" {
		loaded, err := pipeline.LoadConfig(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("debug") {
		cfg.Debug = opts.debug
	}
	if flags.Changed("log-file") {
		cfg.LogFile = opts.logFile
	}
	if flags.Changed("db") {
		cfg.Database.Path = opts.dbPath
	}
	if flags.Changed("db-driver") {
		cfg.Database.Driver = opts.dbDriver
	}
	if flags.Changed("db-dsn") {
		cfg.Database.DSN = opts.dbDSN
	}
	if flags.Changed("timezone") {
		cfg.Timezone = opts.timezone
	}
	return cfg, nil
}

// openRunner builds a runner from the merged config. The returned closer
// releases the runner and the log file.
func openRunner(cmd *cobra.Command, opts *rootOptions, tweak func(*pipeline.FileConfig)) (*pipeline.Runner, *slog.Logger, io.Closer, error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, nil, nil, err
	}
	if tweak != nil {
		tweak(cfg)
	}
	logger, logCloser := pipeline.NewLogger(cfg.Debug, cfg.LogFile)
	rc, err := pipeline.RunnerConfigFromFile(cfg, logger)
	if err != nil {
		_ = logCloser.Close()
		return nil, nil, nil, err
	}
	runner, err := pipeline.NewRunner(rc)
	if err != nil {
		_ = logCloser.Close()
		return nil, nil, nil, err
	}
	return runner, logger, closerFunc(func() error {
		return errors.Join(runner.Close(), logCloser.Close())
	}), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
