package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meteolab/station-ingest/internal/domain"
	"github.com/meteolab/station-ingest/internal/lock"
)

// Backfill fetches station history for the past number of days, one day per
// request because the vendor history endpoint caps range length. Runs under
// the same lock as Run; failed days are skipped and the rest continue. The
// high-water mark is not advanced, backfill repairs the past rather than
// observing the present.
func (r *Runner) Backfill(ctx context.Context, days int) (Report, error) {
	if days <= 0 {
		return Report{}, errors.New("backfill days must be positive")
	}

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

	if err := r.store.EnsureSchema(ctx); err != nil {
		return Report{}, fmt.Errorf("ensure schema: %w", err)
	}

	histories := make([]HistorySource, 0, len(r.stations))
	for _, src := range r.stations {
		if h, ok := src.(HistorySource); ok {
			histories = append(histories, h)
		}
	}
	if len(histories) == 0 {
		return Report{}, errors.New("no source supports history fetches")
	}

	var report Report
	start := r.clock.Now().UTC().AddDate(0, 0, -days).Truncate(24 * time.Hour)
	failedDays := 0

	for _, src := range histories {
		total := 0
		var lastErr error
		for day := 0; day < days; day++ {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			from := start.AddDate(0, 0, day)
			to := from.AddDate(0, 0, 1)

			obs, err := src.FetchRange(ctx, from, to)
			if err != nil {
				r.logger.Warn("backfill day failed",
					"source", src.Name(), "from", from, "error", err)
				r.metrics.SourceErrors.WithLabelValues(src.Name()).Inc()
				failedDays++
				lastErr = err
				continue
			}
			domain.ReclassifyKelvin(obs)

			n, err := r.store.UpsertRaw(ctx, obs)
			if err != nil {
				return report, fmt.Errorf("upsert backfill rows: %w", err)
			}
			r.metrics.RowsUpserted.WithLabelValues("station_raw").Add(float64(n))
			total += n
		}

		res := SourceResult{Source: src.Name(), Rows: total}
		if total == 0 && lastErr != nil {
			res.Err = lastErr
		}
		report.Sources = append(report.Sources, res)
	}

	if report.Failed() {
		return report, errors.New("backfill failed for every source")
	}

	// One aggregation pass over the whole repaired span.
	obs, err := r.store.RawSince(ctx, start)
	if err != nil {
		return report, fmt.Errorf("load backfill window: %w", err)
	}
	n, err := r.store.UpsertBuckets(ctx, domain.Aggregate(obs, r.bucketWidth))
	if err != nil {
		return report, fmt.Errorf("upsert buckets: %w", err)
	}
	r.metrics.RowsUpserted.WithLabelValues("station_3h").Add(float64(n))
	report.Buckets = n

	r.logger.Info("backfill complete", "days", days, "failed_days", failedDays, "buckets", n)
	return report, nil
}
