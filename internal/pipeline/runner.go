// Package pipeline orchestrates one ingestion run: acquire the run lock,
// fetch from each configured source, normalize, upsert, re-aggregate the
// recent window, and record the high-water mark.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/meteolab/station-ingest/internal/domain"
	"github.com/meteolab/station-ingest/internal/lock"
	"github.com/meteolab/station-ingest/internal/observability"
)

// LastIngestKey is the metadata key holding the RFC 3339 time of the last
// successful run.
const LastIngestKey = "last_ingest"

// ErrAlreadyRunning reports that another process holds the run lock. Callers
// treat it as a clean no-op, not a failure.
var ErrAlreadyRunning = errors.New("another ingest run holds the lock")

// StationSource fetches raw station observations.
type StationSource interface {
	Name() string
	Fetch(ctx context.Context) ([]domain.Observation, error)
}

// HistorySource is a station source that can also fetch bounded past ranges,
// used for backfill.
type HistorySource interface {
	StationSource
	FetchRange(ctx context.Context, start, end time.Time) ([]domain.Observation, error)
}

// ForecastSource fetches forecast points.
type ForecastSource interface {
	Name() string
	Fetch(ctx context.Context) ([]domain.ForecastPoint, error)
}

// Storage is the persistence surface the runner needs.
type Storage interface {
	EnsureSchema(ctx context.Context) error
	UpsertRaw(ctx context.Context, obs []domain.Observation) (int, error)
	UpsertBuckets(ctx context.Context, buckets []domain.Bucket) (int, error)
	UpsertForecast(ctx context.Context, points []domain.ForecastPoint) (int, error)
	RawSince(ctx context.Context, from time.Time) ([]domain.Observation, error)
	TouchMeta(ctx context.Context, key, value string) error
}

// SourceResult is the per-source outcome of a run.
type SourceResult struct {
	Source string
	Rows   int
	Err    error
}

// Report summarizes a completed run.
type Report struct {
	Sources []SourceResult
	Buckets int
}

// Failed reports whether every source in the run failed.
func (r Report) Failed() bool {
	if len(r.Sources) == 0 {
		return false
	}
	for _, s := range r.Sources {
		if s.Err == nil {
			return false
		}
	}
	return true
}

// Runner coordinates sources, storage and the lock for ingestion runs.
type Runner struct {
	lock     lock.Lock
	store    Storage
	stations []StationSource
	forecast ForecastSource // nil when not configured

	bucketWidth time.Duration
	lookback    time.Duration

	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock
	ready   atomic.Bool
}

// New creates a Runner. forecast may be nil.
func New(lk lock.Lock, store Storage, stations []StationSource, forecast ForecastSource,
	bucketWidth, lookback time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	return &Runner{
		lock:        lk,
		store:       store,
		stations:    stations,
		forecast:    forecast,
		bucketWidth: bucketWidth,
		lookback:    lookback,
		logger:      logger,
		metrics:     metrics,
		clock:       clockwork.NewRealClock(),
	}
}

// SetClock swaps the runner's clock. Used by tests.
func (r *Runner) SetClock(c clockwork.Clock) { r.clock = c }

// CheckReadiness returns nil once at least one run has succeeded.
func (r *Runner) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("no successful ingest run yet")
	}
	return nil
}

// Run executes one full ingestion cycle. Source failures are isolated and
// reported in the Report; storage failures abort the run before the
// high-water mark moves. Returns ErrAlreadyRunning when the lock is held.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	if err := r.lock.Acquire(); err != nil {
		if errors.Is(err, lock.ErrHeld) {
			r.metrics.RunsTotal.WithLabelValues("locked").Inc()
			return Report{}, fmt.Errorf("%w: %v", ErrAlreadyRunning, err)
		}
		return Report{}, fmt.Errorf("acquire run lock: %w", err)
	}
	defer func() {
		if err := r.lock.Release(); err != nil {
			r.logger.Warn("release run lock failed", "error", err)
		}
	}()

	start := r.clock.Now()
	report, err := r.run(ctx)
	r.metrics.RunDuration.Observe(r.clock.Since(start).Seconds())

	switch {
	case err != nil:
		r.metrics.RunsTotal.WithLabelValues("failure").Inc()
		return report, err
	case report.Failed():
		r.metrics.RunsTotal.WithLabelValues("failure").Inc()
		return report, errors.New("all sources failed")
	default:
		r.metrics.RunsTotal.WithLabelValues("success").Inc()
		r.ready.Store(true)
		return report, nil
	}
}

func (r *Runner) run(ctx context.Context) (Report, error) {
	var report Report

	if err := r.store.EnsureSchema(ctx); err != nil {
		return report, fmt.Errorf("ensure schema: %w", err)
	}

	stationOK := false
	for _, src := range r.stations {
		res := r.ingestStation(ctx, src)
		report.Sources = append(report.Sources, res)
		if res.Err == nil {
			stationOK = true
		} else if ctx.Err() != nil {
			return report, ctx.Err()
		} else if isStorageErr(res.Err) {
			return report, res.Err
		}
	}

	if stationOK {
		n, err := r.aggregateRecent(ctx)
		if err != nil {
			return report, err
		}
		report.Buckets = n
	}

	if r.forecast != nil {
		res := r.ingestForecast(ctx)
		report.Sources = append(report.Sources, res)
		if res.Err != nil && isStorageErr(res.Err) {
			return report, res.Err
		}
	}

	if report.Failed() {
		return report, nil
	}

	now := r.clock.Now().UTC()
	if err := r.store.TouchMeta(ctx, LastIngestKey, now.Format(time.RFC3339)); err != nil {
		return report, fmt.Errorf("record high-water mark: %w", err)
	}
	r.metrics.LastSuccess.Set(float64(now.Unix()))

	r.logger.Info("ingest run complete",
		"sources", len(report.Sources), "buckets", report.Buckets)
	return report, nil
}

func (r *Runner) ingestStation(ctx context.Context, src StationSource) SourceResult {
	obs, err := src.Fetch(ctx)
	if err != nil {
		r.logger.Error("station fetch failed", "source", src.Name(), "error", err)
		r.metrics.SourceErrors.WithLabelValues(src.Name()).Inc()
		return SourceResult{Source: src.Name(), Err: err}
	}

	domain.ReclassifyKelvin(obs)

	n, err := r.store.UpsertRaw(ctx, obs)
	if err != nil {
		return SourceResult{Source: src.Name(), Err: storageErr{err}}
	}
	r.metrics.RowsUpserted.WithLabelValues("station_raw").Add(float64(n))
	r.logger.Info("station ingested", "source", src.Name(), "rows", n)
	return SourceResult{Source: src.Name(), Rows: n}
}

func (r *Runner) ingestForecast(ctx context.Context) SourceResult {
	name := r.forecast.Name()
	points, err := r.forecast.Fetch(ctx)
	if err != nil {
		r.logger.Error("forecast fetch failed", "source", name, "error", err)
		r.metrics.SourceErrors.WithLabelValues(name).Inc()
		return SourceResult{Source: name, Err: err}
	}

	n, err := r.store.UpsertForecast(ctx, points)
	if err != nil {
		return SourceResult{Source: name, Err: storageErr{err}}
	}
	r.metrics.RowsUpserted.WithLabelValues("forecast_ow").Add(float64(n))
	r.logger.Info("forecast ingested", "source", name, "rows", n)
	return SourceResult{Source: name, Rows: n}
}

// aggregateRecent recomputes every bucket the lookback window touches. The
// upsert makes recomputation idempotent, so late raw rows simply refresh
// their bucket on the next run.
func (r *Runner) aggregateRecent(ctx context.Context) (int, error) {
	from := r.clock.Now().UTC().Add(-r.lookback).Truncate(r.bucketWidth)
	obs, err := r.store.RawSince(ctx, from)
	if err != nil {
		return 0, fmt.Errorf("load window: %w", err)
	}

	buckets := domain.Aggregate(obs, r.bucketWidth)
	n, err := r.store.UpsertBuckets(ctx, buckets)
	if err != nil {
		return 0, fmt.Errorf("upsert buckets: %w", err)
	}
	r.metrics.RowsUpserted.WithLabelValues("station_3h").Add(float64(n))
	return n, nil
}

// storageErr marks persistence failures so the run loop can tell them apart
// from source failures, which are isolated rather than fatal.
type storageErr struct{ err error }

func (e storageErr) Error() string { return e.err.Error() }
func (e storageErr) Unwrap() error { return e.err }

func isStorageErr(err error) bool {
	var se storageErr
	return errors.As(err, &se)
}
