package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/preschool-etl/internal/monitoring"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show warehouse counts, geocoding progress and the last run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := monitoring.NewCollector(st, nil).Collect(ctx)
		if err != nil {
			return err
		}
		alerts := monitoring.NewAlerter(cfg.Metrics).Evaluate(snap)

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				*monitoring.Snapshot
				Alerts []monitoring.Alert `json:"alerts,omitempty"`
			}{snap, alerts})
		}

		formatStatus(cmd.OutOrStdout(), snap, alerts)
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "print as JSON")
	rootCmd.AddCommand(statusCmd)
}

// formatStatus writes a warehouse snapshot to w. Failed counts attempted
// addresses with no match; pending counts addresses never attempted.
func formatStatus(out io.Writer, snap *monitoring.Snapshot, alerts []monitoring.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Preschools:\t%d\n", snap.Preschools)
	_, _ = fmt.Fprintf(w, "With address:\t%d\n", snap.Addressable)
	_, _ = fmt.Fprintf(w, "Geocoded:\t%d\n", snap.Geocoded)
	_, _ = fmt.Fprintf(w, "Failed (no match):\t%d\n", snap.Failed)
	_, _ = fmt.Fprintf(w, "Pending:\t%d\n", snap.Pending)

	if r := snap.LastRun; r != nil {
		_, _ = fmt.Fprintf(w, "Last run:\t#%d %s %s (%d records)\n", r.ID, r.ExtractionDate, r.Status, r.RecordCount)
	} else {
		_, _ = fmt.Fprintln(w, "Last run:\tnever")
	}

	if e := snap.Extent; e != nil {
		_, _ = fmt.Fprintf(w, "Extent:\tlat %.4f..%.4f, lng %.4f..%.4f\n", e.MinLat, e.MaxLat, e.MinLng, e.MaxLng)
	}

	for _, a := range alerts {
		_, _ = fmt.Fprintf(w, "ALERT:\t[%s] %s\n", a.Severity, a.Message)
	}
	_ = w.Flush()
}
