package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/preschool-etl/internal/model"
	"github.com/sells-group/preschool-etl/internal/pipeline"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent extraction runs from the data_sources log",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		runs, err := st.ListDataSources(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No runs found.")
			return nil
		}
		formatRunsList(out, runs)
		return nil
	},
}

func init() {
	runsCmd.Flags().Int("limit", 20, "max number of runs to display")
	runsCmd.Flags().Bool("json", false, "print as JSON")
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of data source rows to w.
func formatRunsList(out io.Writer, runs []model.DataSource) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tDATE\tSTATUS\tRECORDS")
	_, _ = fmt.Fprintln(w, "--\t------\t----\t------\t-------")

	for _, r := range runs {
		source := r.SourceName
		if len(source) > 30 {
			source = source[:27] + "..."
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", r.ID, source, r.ExtractionDate, r.Status, r.RecordCount)
	}
	_ = w.Flush()
}

// printRunResult writes an orchestrated run summary to w.
func printRunResult(out io.Writer, res *pipeline.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", truncateID(res.RunID))
	_, _ = fmt.Fprintf(w, "State:\t%s\n", res.State)
	_, _ = fmt.Fprintln(w, "STAGE\tSTATUS\tPOLICY\tDURATION\tERROR")
	for _, s := range res.Stages {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%dms\t%s\n", s.Name, s.Status, s.Policy, s.DurationMs, s.Error)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
