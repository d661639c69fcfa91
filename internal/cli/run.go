package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var beginCmd = &cobra.Command{
	Use:   "begin <ticket-ref>",
	Short: "Create a run for a ticket reference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		runID, _ := cmd.Flags().GetString("run-id")
		r, err := eng.Begin(cmd.Context(), runID, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "run %s created for %s\n", r.ID, r.TicketRef)
		return nil
	},
}

var advanceCmd = &cobra.Command{
	Use:   "advance <run-id>",
	Short: "Drive a run one transition forward",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()
		eng.SetProgress(cmd.ErrOrStderr())

		res, err := eng.Step(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

var runCmd = &cobra.Command{
	Use:   "run <ticket-ref>",
	Short: "Create a run and drive it to termination",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()
		eng.SetProgress(cmd.ErrOrStderr())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		runID, _ := cmd.Flags().GetString("run-id")
		r, err := eng.Begin(ctx, runID, args[0])
		if err != nil {
			return err
		}
		res, err := eng.Run(ctx, r.ID)
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume an interrupted run from its last committed snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()
		eng.SetProgress(cmd.ErrOrStderr())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		res, err := eng.Resume(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func init() {
	beginCmd.Flags().String("run-id", "", "explicit run id (generated if absent)")
	runCmd.Flags().String("run-id", "", "explicit run id (generated if absent)")
}
