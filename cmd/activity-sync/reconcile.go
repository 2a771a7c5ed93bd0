package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"activity-sync/pipeline"
)

func newReconcileCommand(opts *rootOptions) *cobra.Command {
	var req pipeline.ReconcileRequest
	var from, to, observedPath string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Mark raw records missing from a complete fetch as deleted",
		Long: `Compare a fetch window against the ids the fetch returned. Raw records of the
source (and author) starting inside the window but not observed are marked
deleted and their canonical records deactivated. Only sources configured with
reports_deletions: true are accepted.

Example:
  activity-sync reconcile --source calendar --author kim \
    --from 2024-01-01 --to 2024-02-01 --observed ids.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, _, closer, err := openRunner(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer closer.Close()

			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			if req.From, err = parseWindowTime(from, loc); err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			if req.To, err = parseWindowTime(to, loc); err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			if req.Observed, err = readIDs(observedPath); err != nil {
				return fmt.Errorf("--observed: %w", err)
			}

			rep, err := runner.Reconcile(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "marked deleted=%d deactivated=%d\n", rep.Marked, rep.Deactivated)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Source, "source", "", "Source the fetch came from (required).")
	cmd.Flags().StringVar(&req.Author, "author", "", "Limit to one author.")
	cmd.Flags().StringVar(&from, "from", "", "Window start, inclusive (RFC3339 or 2006-01-02).")
	cmd.Flags().StringVar(&to, "to", "", "Window end, exclusive (RFC3339 or 2006-01-02).")
	cmd.Flags().StringVar(&observedPath, "observed", "", "File with one observed source id per line (required).")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("observed")
	return cmd
}

func parseWindowTime(s string, loc *time.Location) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	return time.ParseInLocation("2006-01-02", s, loc)
}

// readIDs reads one id per line, skipping blanks and # comments.
func readIDs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	return ids, sc.Err()
}
