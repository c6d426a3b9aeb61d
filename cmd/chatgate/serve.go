package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"chatgate/internal/app"
	"chatgate/internal/version"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Server.Port = port
			}

			slog.Info("starting chatgate",
				"version", version.Version,
				"commit", version.Commit,
				"build_date", version.Date,
			)

			ctx := cmd.Context()
			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- a.Start(":" + cfg.Server.Port)
			}()

			select {
			case err := <-errCh:
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = a.Shutdown(shutdownCtx)
				return err
			case <-ctx.Done():
				slog.Info("shutting down server...")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := a.Shutdown(shutdownCtx); err != nil {
				return err
			}
			return <-errCh
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides config)")
	return cmd
}
