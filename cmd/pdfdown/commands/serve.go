package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spherical/pdfdown/internal/api"
	"github.com/spherical/pdfdown/pkg/converter"
)

func newServeCommand(global *globalOptions) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP conversion API",
		Long: `Serve exposes POST /api/v1/convert (multipart field "file"), GET /api/v1/runs
and GET /health.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if err := cfg.ValidateForConversion(); err != nil {
				return err
			}

			logger := newLogger(cfg, cmd.ErrOrStderr())

			client, err := converter.NewClientWithConfig(cfg, converter.WithLogger(logger))
			if err != nil {
				return err
			}
			defer client.Close()

			var runs api.HistoryReader
			if store := client.History(); store != nil {
				runs = store
			}

			router := api.NewRouter(logger, client, runs, api.RouterConfig{
				RequestTimeout: cfg.Server.WriteTimeout,
				MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
				Version:        global.version,
			})

			srv := &http.Server{
				Addr:         cfg.Server.Addr(),
				Handler:      router,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
				IdleTimeout:  cfg.Server.IdleTimeout,
			}

			serverErrors := make(chan error, 1)
			go func() {
				logger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
				serverErrors <- srv.ListenAndServe()
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			select {
			case err := <-serverErrors:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
				logger.Info().Msg("Shutdown signal received")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("Graceful shutdown failed")
				if err := srv.Close(); err != nil {
					logger.Error().Err(err).Msg("Forced shutdown failed")
				}
			}

			logger.Info().Msg("Server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "listen host")
	cmd.Flags().IntVar(&port, "port", 8086, "listen port")

	return cmd
}
