package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/opportunity-crawler/internal/api"
)

func newServeCmd() *cobra.Command {
	var withSchedule bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the operator HTTP server",
		Long: `Serves health, readiness, and Prometheus metrics, and accepts run requests
under /v1. With --schedule the cron scheduler runs in the same process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), a, withSchedule)
		},
	}
	cmd.Flags().BoolVar(&withSchedule, "schedule", false, "also run the cron scheduler")
	return cmd
}

func serve(ctx context.Context, a App, withSchedule bool) error {
	cfg := a.GetConfig()
	logger := a.GetLogger()

	apiServer := api.NewServer(a.GetCrawler(), a.GetStore(), api.Options{
		APIKey: cfg.Server.APIKey,
		Ready:  a.Ready,
	}, logger.Named("api"))

	if withSchedule {
		s, err := newScheduler(a)
		if err != nil {
			return err
		}
		s.Start(ctx)
		defer func() { <-s.Stop().Done() }()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	logger.Info("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("runs still in progress at shutdown", zap.Error(err))
	}
	return nil
}
