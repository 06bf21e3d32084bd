package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tender-ingest/internal/api"
	"github.com/JakeFAU/tender-ingest/internal/metrics"
	"github.com/JakeFAU/tender-ingest/internal/scheduler"
	"github.com/JakeFAU/tender-ingest/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var runNow bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the ingestion schedule and the ops HTTP server until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			logger := a.Logger

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			tp, err := telemetry.InitTracerProvider(ctx, "tenderingest", Version)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					logger.Warn("tracer shutdown error", zap.Error(err))
				}
			}()
			metrics.Init()

			sched, err := scheduler.New(a.Config.Schedule.Cron, a, logger)
			if err != nil {
				return err
			}
			// Runs inherit the command context so an active run can drain after a signal.
			if err := sched.Start(cmd.Context()); err != nil {
				return err
			}
			if runNow {
				if err := sched.Trigger(); err != nil {
					logger.Warn("initial run not started", zap.Error(err))
				}
			}

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", a.Config.Server.Port),
				Handler:           api.NewServer(sched, a.Ledger, logger).Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				logger.Info("http server started", zap.Int("port", a.Config.Server.Port))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server error", zap.Error(err))
					stop()
				}
			}()

			<-ctx.Done()
			logger.Info("shutdown initiated")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown error", zap.Error(err))
			}
			if err := sched.Stop(shutdownCtx); err != nil {
				logger.Warn("scheduler did not drain before the deadline", zap.Error(err))
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&runNow, "run-now", false, "start a run immediately instead of waiting for the schedule")
	return cmd
}
