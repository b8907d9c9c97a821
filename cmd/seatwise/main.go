package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/lexpilot/seatwise/config"
	srv "github.com/lexpilot/seatwise/internal/server"
)

func main() {
	var root = &cobra.Command{Use: "seatwise"}

	var configPath string
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")

	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(configPath)
			if serveAddr == "" {
				serveAddr = os.Getenv("SEATWISE_HTTP_ADDR")
			}
			return srv.Run(cfg, serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (defaults to server.address)")

	var direction string
	var steps int
	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Run embedded database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return srv.Migrate(os.Getenv("DATABASE_URL"), direction, steps)
		},
	}
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	root.AddCommand(serve, migrate)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
