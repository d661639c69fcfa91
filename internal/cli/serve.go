package cli

import (
	"github.com/spf13/cobra"

	"github.com/interlockhq/interlock/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only operator API",
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

		port := cfg.Web.Port
		if flagPort, _ := cmd.Flags().GetInt("port"); flagPort != 0 {
			port = flagPort
		}
		return web.NewServer(store, port).Start()
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "listen port (overrides config)")
}
