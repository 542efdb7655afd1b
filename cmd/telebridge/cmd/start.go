package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telepair/telebridge/internal/server"
)

func newStartCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the telemetry bridge",
		Long:  "Connect to the device platform, start the collectors and deliver reports until a shutdown signal arrives",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			ctx := cmd.Context()
			srv, err := server.NewServer(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			if err := srv.Start(ctx); err != nil {
				return errors.Join(fmt.Errorf("failed to start server: %w", err), srv.Stop())
			}

			if err := srv.Wait(ctx); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
}
