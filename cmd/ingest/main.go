// Command ingest runs one ingestion cycle and exits. Intended for cron.
//
// Exit codes:
//
//	0 - run succeeded
//	1 - run failed
//	2 - configuration error
//	3 - another run holds the lock
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/meteolab/station-ingest/internal/app"
	"github.com/meteolab/station-ingest/internal/config"
	"github.com/meteolab/station-ingest/internal/observability"
	"github.com/meteolab/station-ingest/internal/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 2
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	runner, st, err := app.Build(cfg, logger, metrics)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		return 2
	}
	defer st.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := runner.Run(ctx)
	if err != nil {
		if errors.Is(err, pipeline.ErrAlreadyRunning) {
			logger.Info("skipping run, lock is held")
			return 3
		}
		logger.Error("ingest run failed", "error", err)
		return 1
	}

	for _, src := range report.Sources {
		if src.Err != nil {
			logger.Warn("source failed", "source", src.Source, "error", src.Err)
		}
	}
	return 0
}
