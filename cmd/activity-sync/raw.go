package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"activity-sync/pipeline"
)

func newRawCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "raw",
		Short: "Manage raw records",
	}
	cmd.AddCommand(newRawLoadCommand(opts))
	return cmd
}

func newRawLoadCommand(opts *rootOptions) *cobra.Command {
	var in pipeline.InputConfig

	cmd := &cobra.Command{
		Use:   "load <file>...",
		Short: "Store raw records from export files for the next run",
		Long: `Parse JSON or CSV exports and store their records in the raw archive the way
an ingestion collaborator would. The next run selects them by modification
time, not by file digest.

Example:
  activity-sync raw load --source calendar --author kim export.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, logger, closer, err := openRunner(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer closer.Close()

			in.Format = strings.ToLower(strings.TrimSpace(in.Format))
			total := 0
			for _, path := range args {
				n, rejected, err := runner.LoadRawFile(cmd.Context(), in, path)
				if err != nil {
					return err
				}
				for _, rerr := range rejected {
					logger.Warn("skip malformed record", "path", path, "err", rerr)
				}
				total += n
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %d raw records\n", total)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Source, "source", "", "Source name for the records (required).")
	cmd.Flags().StringVar(&in.Author, "author", "", "Author for records that do not name one.")
	cmd.Flags().StringVar(&in.Format, "format", "", "json or csv (default: from extension).")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}
