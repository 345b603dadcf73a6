// Command ingestd runs the ingestion pipeline on a schedule and serves the
// operational HTTP endpoints. For deployments that prefer a daemon over cron.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"

	httpadapter "github.com/meteolab/station-ingest/internal/adapter/http"
	"github.com/meteolab/station-ingest/internal/app"
	"github.com/meteolab/station-ingest/internal/config"
	"github.com/meteolab/station-ingest/internal/observability"
	"github.com/meteolab/station-ingest/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(2)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	runner, st, err := app.Build(cfg, logger, metrics)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(2)
	}
	defer st.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := httpadapter.NewServer(cfg.HTTPAddr, runner, st, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()
	_, err = scheduler.Every(cfg.IngestInterval).Do(func() {
		if _, err := runner.Run(ctx); err != nil {
			if errors.Is(err, pipeline.ErrAlreadyRunning) {
				logger.Info("skipping run, lock is held")
				return
			}
			logger.Error("ingest run failed", "error", err)
		}
	})
	if err != nil {
		logger.Error("failed to schedule ingest job", "error", err)
		os.Exit(2)
	}

	logger.Info("daemon started", "interval", cfg.IngestInterval, "http_addr", cfg.HTTPAddr)
	scheduler.StartAsync()

	<-ctx.Done()
	logger.Info("shutting down")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
