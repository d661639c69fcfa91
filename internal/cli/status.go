package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show run status, or list all runs",
	Args:  cobra.MaximumNArgs(1),
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

		if len(args) == 1 {
			snap, err := store.GetSnapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, snap)
		}

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := store.ListRuns(cmd.Context(), limit)
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return printJSON(cmd, runs)
		}

		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
			return nil
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-38s %-14s %-22s %-14s %s\n", "RUN", "STATUS", "STATE", "TICKET", "CREATED")
		fmt.Fprintf(w, "%-38s %-14s %-22s %-14s %s\n",
			strings.Repeat("-", 38),
			strings.Repeat("-", 14),
			strings.Repeat("-", 22),
			strings.Repeat("-", 14),
			strings.Repeat("-", 7))
		for _, r := range runs {
			fmt.Fprintf(w, "%-38s %-14s %-22s %-14s %s\n",
				r.ID, r.TerminalStatus, r.CurrentState, r.TicketRef,
				r.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().String("format", "text", "Output format: text or json")
	statusCmd.Flags().Int("limit", 0, "Limit number of runs listed (0 = all)")
}
