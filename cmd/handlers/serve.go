package handlers

import (
	"context"
	"fmt"
	"time"

	"podpipe/internal/config"
	"podpipe/internal/logger"
	"podpipe/internal/server"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

// NewServeCmd creates the serve command for starting the HTTP server
func NewServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the read-only JSON API",
		Long: `Start the read-only JSON API over the pipeline database.

Endpoints:
  GET /health
  GET /metrics                 Prometheus metrics
  GET /api/stats
  GET /api/episodes?status=
  GET /api/episodes/{id}       episode with transcript and summary
  GET /api/summaries?limit=
  GET /api/topics?refresh=

The server never runs pipeline stages; use 'podpipe run' (e.g. from cron).

Examples:
  podpipe serve
  podpipe serve --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port, host)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (default from config: 8080)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP server host (default from config: 127.0.0.1)")

	return cmd
}

func runServe(ctx context.Context, port int, host string) error {
	log := logger.Get()
	cfg := config.Get()

	serverCfg := cfg.Server
	if port != 0 {
		serverCfg.Port = port
	}
	if host != "" {
		serverCfg.Host = host
	}

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	if err := backend.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("Database connection successful", "backend", backend.Kind())

	analyzer, closeCache := newAnalyzer(ctx, cfg, backend)
	defer closeCache()

	srv := server.New(backend, analyzer, serverCfg)

	serverErrors := make(chan error, 1)
	go func() {
		log.Info(fmt.Sprintf("Server listening on http://%s:%d", serverCfg.Host, serverCfg.Port))
		log.Info("Press Ctrl+C to stop")
		serverErrors <- srv.Start()
	}()

	select {
	case err := <-serverErrors:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case <-ctx.Done():
		log.Info("Server shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Server shutdown failed", "error", err)
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		log.Info("Server stopped successfully")
	}
	return nil
}
