package main

import (
	"github.com/spf13/cobra"

	"marai-studio/internal/app"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the studio API server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if servePort != "" {
			cfg.Server.Port = servePort
		}
		return app.Serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "listen address (overrides MARAI_SERVER_PORT)")
	rootCmd.AddCommand(serveCmd)
}
