// Package app wires configuration into a ready-to-run ingestion pipeline.
// Shared by the one-shot, daemon, and backfill binaries.
package app

import (
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/meteolab/station-ingest/internal/config"
	"github.com/meteolab/station-ingest/internal/lock"
	"github.com/meteolab/station-ingest/internal/observability"
	"github.com/meteolab/station-ingest/internal/pipeline"
	"github.com/meteolab/station-ingest/internal/source/ecowitt"
	"github.com/meteolab/station-ingest/internal/source/openweather"
	"github.com/meteolab/station-ingest/internal/source/stationcsv"
	"github.com/meteolab/station-ingest/internal/store"
)

// Build opens the store and assembles the runner with every configured
// source. The caller owns the returned store and must close it.
func Build(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*pipeline.Runner, *store.Store, error) {
	st, err := store.Open(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	var stations []pipeline.StationSource
	if cfg.HasEcowitt() {
		stations = append(stations, ecowitt.NewClient(cfg, logger))
	}
	if cfg.HasStationCSV() {
		reader, err := stationcsv.New(cfg, logger)
		if err != nil {
			st.Close() //nolint:errcheck
			return nil, nil, err
		}
		stations = append(stations, reader)
	}

	var forecast pipeline.ForecastSource
	if cfg.HasForecast() {
		forecast = openweather.NewClient(cfg, logger)
	}

	lk := lock.NewFileLock(cfg.LockPath, cfg.LockStaleAfter, clockwork.NewRealClock())
	runner := pipeline.New(lk, st, stations, forecast, cfg.BucketWidth, cfg.AggLookback, logger, metrics)
	return runner, st, nil
}
