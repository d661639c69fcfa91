package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/interlockhq/interlock/internal/analytics"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show run outcome and failure aggregates",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, cleanup, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		since, _ := cmd.Flags().GetString("since")
		summary, err := analytics.BuildSummary(store, since)
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return printJSON(cmd, summary)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "runs: %d total, %d active, %d posted, %d interrupted, %d failed closed\n",
			summary.TotalRuns, summary.ActiveRuns, summary.Posted, summary.Interrupted, summary.FailedClosed)
		fmt.Fprintf(w, "escalation rate: %.1f%%\n", summary.EscalationRate*100)
		if len(summary.Failures) > 0 {
			fmt.Fprintln(w, "\nfailures:")
			for _, f := range summary.Failures {
				fmt.Fprintf(w, "  %-24s %-22s x%d (last %s)\n", f.Kind, f.State, f.Count, f.LastSeen)
			}
		}
		if len(summary.StateDurations) > 0 {
			fmt.Fprintln(w, "\nstate durations (seconds):")
			fmt.Fprintf(w, "  %-22s %6s %8s %8s %8s\n", "STATE", "N", "AVG", "P50", "P95")
			for _, d := range summary.StateDurations {
				fmt.Fprintf(w, "  %-22s %6d %8.2f %8.2f %8.2f\n", d.State, d.Count, d.Avg, d.P50, d.P95)
			}
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().String("since", "", "Only include events at or after this RFC3339 timestamp")
	statsCmd.Flags().String("format", "text", "Output format: text or json")
}
