package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"activity-sync/pipeline"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	var workers int
	var metricsTextfile string
	var once bool
	var pollInterval time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Import new files and sync changed raw records",
		Long: `Run one sync pass: import unseen files matched by the configured globs,
reprocess raw records changed since their canonical records were written,
deactivate records of deleted entities and publish the changes.

Example:
  activity-sync run --config /etc/activity-sync.yaml
  activity-sync run --config sync.yaml --once=false --poll-interval 5m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, logger, closer, err := openRunner(cmd, opts, func(cfg *pipeline.FileConfig) {
				flags := cmd.Flags()
				if flags.Changed("timeout") {
					cfg.Timeout = timeout
				}
				if flags.Changed("workers") {
					cfg.Workers = workers
				}
				if flags.Changed("metrics-textfile") {
					cfg.MetricsTextfile = metricsTextfile
				}
			})
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx := cmd.Context()
			for {
				report, err := runner.RunOnce(ctx)
				if err != nil {
					return fmt.Errorf("run: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(),
					"files imported=%d skipped=%d failed=%d raw selected=%d records inserted=%d modified=%d unchanged=%d retired=%d failed=%d deactivated=%d\n",
					report.FilesImported, report.FilesSkipped, report.FilesFailed, report.RawSelected,
					report.Sync.Inserted, report.Sync.Modified, report.Sync.Unchanged, report.Sync.Retired,
					len(report.Sync.Failed), report.Deactivated)
				if once {
					return nil
				}
				logger.Debug("sleeping", "poll_interval", pollInterval)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(pollInterval):
				}
			}
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Overall timeout for one run (e.g. 30s, 2m).")
	cmd.Flags().IntVar(&workers, "workers", 0, "Parallel transform workers.")
	cmd.Flags().StringVar(&metricsTextfile, "metrics-textfile", "", "Write run metrics to this node-exporter textfile.")
	cmd.Flags().BoolVar(&once, "once", true, "Run once and exit (default true for crontab).")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 5*time.Minute, "Polling interval when running with --once=false.")
	return cmd
}
