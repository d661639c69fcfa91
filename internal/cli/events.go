package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events <run-id>",
	Short: "Print a run's append-only event log",
	Args:  cobra.ExactArgs(1),
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

		if _, err := store.GetRun(cmd.Context(), args[0]); err != nil {
			return err
		}
		events, err := store.Events(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return printJSON(cmd, events)
		}

		w := cmd.OutOrStdout()
		for _, ev := range events {
			mark := "ok"
			if !ev.Validation.OK {
				mark = "FAIL"
			}
			line := fmt.Sprintf("%4d  %-22s %-4s %s", ev.Seq, ev.State, mark, ev.Delta.Partition())
			if ev.ErrorSignature != "" {
				line += "  " + ev.ErrorSignature
			}
			fmt.Fprintln(w, line)
		}
		return nil
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay <run-id>",
	Short: "Rebuild a run's snapshot from events and verify it against the stored one",
	Args:  cobra.ExactArgs(1),
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

		snap, err := store.Replay(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := store.VerifyReplay(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "replay verified at seq %d\n", snap.Seq)
		return printJSON(cmd, snap)
	},
}

var reportCmd = &cobra.Command{
	Use:   "report <run-id>",
	Short: "Print the structured terminal report for a run",
	Args:  cobra.ExactArgs(1),
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

		snap, err := store.GetSnapshot(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if snap.Working.Report == nil {
			return fmt.Errorf("run %s has not terminated yet (state %s)", args[0], snap.State)
		}
		return printJSON(cmd, snap.Working.Report)
	},
}

func init() {
	eventsCmd.Flags().String("format", "text", "Output format: text or json")
}
