package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ampersand-strategies/candidate-tracker/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show candidate counts and recent runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runs, _ := cmd.Flags().GetInt("runs")
		report, err := statusOf(ctx, st, runs, cfg.Monitoring)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		formatStatus(os.Stdout, report)
		return nil
	},
}

func formatStatus(out io.Writer, r *statusReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Unenriched:\t%d\n", r.Enrichment[model.StateUnenriched])
	_, _ = fmt.Fprintf(w, "Sponsor resolved:\t%d\n", r.Enrichment[model.StateSponsorResolved])
	_, _ = fmt.Fprintf(w, "No sponsor:\t%d\n", r.Enrichment[model.StateSponsorNone])

	parties := make([]string, 0, len(r.Parties))
	for p := range r.Parties {
		parties = append(parties, p)
	}
	sort.Strings(parties)
	for _, p := range parties {
		label := p
		if label == "" {
			label = "(none)"
		}
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", label, r.Parties[p])
	}
	_ = w.Flush()

	if len(r.Runs) == 0 {
		_, _ = fmt.Fprintln(out, "\nNo runs recorded.")
		return
	}
	if h := r.Health; h != nil {
		_, _ = fmt.Fprintf(out, "\nLast %dh: %d runs, %d failed, %d per-record errors\n",
			h.LookbackHours, h.Runs, h.Failed, h.UnitErrors)
	}

	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tJOB\tSTATUS\tSTARTED\tDURATION\tFAILURES")
	_, _ = fmt.Fprintln(w, "--\t---\t------\t-------\t--------\t--------")
	for _, run := range r.Runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			truncateID(run.ID),
			run.Job,
			run.Status,
			run.StartedAt.Format("2006-01-02 15:04"),
			run.Duration,
			run.Failures,
		)
	}
	_ = w.Flush()

	for _, a := range r.Alerts {
		_, _ = fmt.Fprintf(out, "\nALERT [%s] %s\n", a.Severity, a.Message)
	}
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	statusCmd.Flags().Int("runs", 10, "number of recent runs to show")
	statusCmd.Flags().Bool("json", false, "print the report as JSON")
	rootCmd.AddCommand(statusCmd)
}
