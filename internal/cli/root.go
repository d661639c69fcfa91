// Package cli wires the interlock commands. The engine core never prints;
// everything operator-facing goes through here or the web server.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/interlockhq/interlock/internal/connector"
)

var version = "dev"

// SetVersion sets the build version reported by the version command.
func SetVersion(v string) {
	version = v
}

// Registered collaborators. The core only knows the connector interfaces;
// an embedding binary supplies concrete tracker/wiki/model implementations
// before Execute. Commands that need them fail cleanly when absent.
var (
	registeredConnector connector.Connector
	registeredModel     connector.Model
	registeredWriteback connector.Writeback
)

// RegisterCollaborators installs the connector, model runtime, and
// write-back implementations used by run-driving commands.
func RegisterCollaborators(conn connector.Connector, model connector.Model, wb connector.Writeback) {
	registeredConnector = conn
	registeredModel = model
	registeredWriteback = wb
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "interlock",
	Short: "Deterministic ticket-resolution orchestration",
	Long: `interlock drives ticket resolution through a fixed finite-state pipeline:
parse intent, pin requirements, gather budgeted evidence, plan, validate
grounding and coverage, then post the result or escalate.

Every run is an append-only event log in SQLite (or Postgres); the snapshot
is a pure fold of the log, so any historical state is reproducible by replay.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to interlock.yaml (default: ./interlock.yaml, ~/.interlock/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(beginCmd)
	rootCmd.AddCommand(advanceCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(serveCmd)
}
