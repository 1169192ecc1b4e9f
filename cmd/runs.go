package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/charity-directory/internal/model"
	"github.com/sells-group/charity-directory/internal/monitoring"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect import run history",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent import runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("query"); err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runs, err := st.ListImportRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		formatRunsList(os.Stdout, runs)
		return nil
	},
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise recent import runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("query"); err != nil {
			return err
		}
		since, _ := cmd.Flags().GetDuration("since")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := monitoring.NewCollector(st).Collect(ctx, int(since.Hours()))
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}
		formatRunStats(os.Stdout, snap)
		return nil
	},
}

var runsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate alert thresholds over recent runs",
	Long:  "Collects run metrics, prints any alerts and posts them to monitoring.webhook_url. With --watch it repeats every monitoring.check_interval_secs until interrupted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("query"); err != nil {
			return err
		}
		watch, _ := cmd.Flags().GetBool("watch")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		checker := monitoring.NewChecker(monitoring.NewCollector(st), monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		if watch {
			checker.Run(ctx)
			return nil
		}
		alerts := checker.Check(ctx)
		if len(alerts) == 0 {
			fmt.Fprintln(os.Stderr, "No alerts.")
			return nil
		}
		for _, a := range alerts {
			fmt.Fprintf(os.Stdout, "[%s] %s\n", a.Severity, a.Message)
		}
		return nil
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 168h)")
	runsCheckCmd.Flags().Bool("watch", false, "keep checking until interrupted")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsStatsCmd)
	runsCmd.AddCommand(runsCheckCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\t%dh\n", s.LookbackHours)
	_, _ = fmt.Fprintf(w, "Import runs:\t%d\n", s.ImportTotal)
	_, _ = fmt.Fprintf(w, "  Complete:\t%d\n", s.ImportComplete)
	_, _ = fmt.Fprintf(w, "  Aborted:\t%d\n", s.ImportAborted)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", s.ImportFailed)
	_, _ = fmt.Fprintf(w, "  Running:\t%d\n", s.ImportRunning)
	_, _ = fmt.Fprintf(w, "Rows read:\t%d\n", s.RowsRead)
	_, _ = fmt.Fprintf(w, "Records committed:\t%d\n", s.RecordsCommitted)
	if s.GeocodeAttempted > 0 {
		_, _ = fmt.Fprintf(w, "Geocode match rate:\t%.1f%% (%d/%d)\n", s.GeocodeMatchRate*100, s.GeocodeMatched, s.GeocodeAttempted)
	}
	_, _ = fmt.Fprintf(w, "Ungeocoded backlog:\t%d\n", s.UngeocodedBacklog)
	_ = w.Flush()
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.ImportRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tSTATUS\tREAD\tCOMMITTED\tSKIPPED\tSTARTED\tDURATION\tSOURCE")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t----\t---------\t-------\t-------\t--------\t------")

	for _, r := range runs {
		dur := ""
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		source := r.Source
		if len(source) > 40 {
			source = "..." + source[len(source)-37:]
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Kind,
			r.Status,
			r.Attempted,
			r.Committed,
			r.Skipped,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			source,
		)
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
