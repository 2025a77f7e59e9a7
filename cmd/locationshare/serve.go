package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"locationshare/internal/app"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and WebSocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, c)
		},
	}

	flags := cmd.Flags()
	flags.String("host", "0.0.0.0", "listen host")
	flags.Int("port", 8080, "listen port")
	flags.String("broadcast", "local", "broadcast backend (local, redis or nats)")
	flags.String("public-base-url", "", "base URL used in share links")

	_ = c.v.BindPFlag("http.host", flags.Lookup("host"))
	_ = c.v.BindPFlag("http.port", flags.Lookup("port"))
	_ = c.v.BindPFlag("broadcast.backend", flags.Lookup("broadcast"))
	_ = c.v.BindPFlag("http.public_base_url", flags.Lookup("public-base-url"))
	return cmd
}

// serve runs until ctx is cancelled, then shuts down within shutdownTimeout.
func serve(ctx context.Context, c *cli) error {
	application, err := app.NewApplication(c.cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-ctx.Done()
	log.Info().Str("module", "cmd").Msg("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return application.Stop(shutdownCtx)
}
