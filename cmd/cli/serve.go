package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sevigo/pr-warden/internal/wire"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server",
	Long: `Run the webhook server.

A "/review" comment on a pull request queues a review of that pull request.
Reviews run one at a time against the configured working tree.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.ValidateForServer(); err != nil {
			return err
		}
		app, err := wire.InitializeApp(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize app: %w", err)
		}
		return app.Run(ctx)
	},
}

func init() { //nolint:gochecknoinits // Cobra command registration
	rootCmd.AddCommand(serveCmd)
}
