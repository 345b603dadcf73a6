// Command backfill repairs gaps by fetching station history day by day and
// re-aggregating the repaired span.
//
// Exit codes match the ingest command: 0 success, 1 failure, 2 configuration
// error, 3 lock held.
package main

import (
	"context"
	"errors"
	"flag"
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
	days := flag.Int("days", 0, "days of history to backfill (overrides BACKFILL_DAYS)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 2
	}
	if *days > 0 {
		cfg.BackfillDays = *days
	}
	if cfg.BackfillDays <= 0 {
		slog.Error("no backfill range: pass -days or set BACKFILL_DAYS")
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

	report, err := runner.Backfill(ctx, cfg.BackfillDays)
	if err != nil {
		if errors.Is(err, pipeline.ErrAlreadyRunning) {
			logger.Info("skipping backfill, lock is held")
			return 3
		}
		logger.Error("backfill failed", "error", err)
		return 1
	}

	for _, src := range report.Sources {
		logger.Info("backfill source done", "source", src.Source, "rows", src.Rows)
	}
	logger.Info("backfill done", "days", cfg.BackfillDays, "buckets", report.Buckets)
	return 0
}
