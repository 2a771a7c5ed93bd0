package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"activity-sync/pipeline"
)

func newShowCommand(opts *rootOptions) *cobra.Command {
	var author string
	var all, asJSON bool

	cmd := &cobra.Command{
		Use:   "show <date>",
		Short: "Print the canonical records of one day",
		Example: `  activity-sync show 2024-01-15
  activity-sync show 2024-01-15 --author kim --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, _, closer, err := openRunner(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer closer.Close()

			records, err := runner.Segments(cmd.Context(), args[0], author, all)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				events := make([]pipeline.ChangeEvent, 0, len(records))
				for _, rec := range records {
					ev, err := pipeline.NewChangeEvent(rec)
					if err != nil {
						return err
					}
					events = append(events, ev)
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(events)
			}
			for _, rec := range records {
				state := ""
				if !rec.Active {
					state = " [inactive]"
				}
				fmt.Fprintf(out, "%s%s\n  %s\n", rec.SegmentKey(), state, rec.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&author, "author", "", "Only this author's records.")
	cmd.Flags().BoolVar(&all, "all", false, "Include inactive records.")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print change events as JSON.")
	return cmd
}
