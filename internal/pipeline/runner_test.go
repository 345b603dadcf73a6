package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meteolab/station-ingest/internal/domain"
	"github.com/meteolab/station-ingest/internal/lock"
	"github.com/meteolab/station-ingest/internal/observability"
)

type fakeStation struct {
	name string
	obs  []domain.Observation
	err  error

	history map[time.Time][]domain.Observation // keyed by range start; nil disables FetchRange
	histErr error
	calls   int
}

func (f *fakeStation) Name() string { return f.name }

func (f *fakeStation) Fetch(context.Context) ([]domain.Observation, error) {
	f.calls++
	return f.obs, f.err
}

type fakeHistory struct{ fakeStation }

func (f *fakeHistory) FetchRange(_ context.Context, start, _ time.Time) ([]domain.Observation, error) {
	f.calls++
	if f.histErr != nil {
		return nil, f.histErr
	}
	return f.history[start], nil
}

type fakeForecast struct {
	points []domain.ForecastPoint
	err    error
}

func (f *fakeForecast) Name() string { return "openweather" }

func (f *fakeForecast) Fetch(context.Context) ([]domain.ForecastPoint, error) {
	return f.points, f.err
}

// memStore keeps everything in maps, mirroring the upsert semantics of the
// real store.
type memStore struct {
	raw      map[time.Time]domain.Observation
	buckets  map[time.Time]domain.Bucket
	forecast map[time.Time]domain.ForecastPoint
	meta     map[string]string

	schemaErr error
	rawErr    error
	bucketErr error
}

func newMemStore() *memStore {
	return &memStore{
		raw:      map[time.Time]domain.Observation{},
		buckets:  map[time.Time]domain.Bucket{},
		forecast: map[time.Time]domain.ForecastPoint{},
		meta:     map[string]string{},
	}
}

func (m *memStore) EnsureSchema(context.Context) error { return m.schemaErr }

func (m *memStore) UpsertRaw(_ context.Context, obs []domain.Observation) (int, error) {
	if m.rawErr != nil {
		return 0, m.rawErr
	}
	for _, o := range obs {
		m.raw[o.Timestamp] = o
	}
	return len(obs), nil
}

func (m *memStore) UpsertBuckets(_ context.Context, buckets []domain.Bucket) (int, error) {
	if m.bucketErr != nil {
		return 0, m.bucketErr
	}
	for _, b := range buckets {
		m.buckets[b.Start] = b
	}
	return len(buckets), nil
}

func (m *memStore) UpsertForecast(_ context.Context, points []domain.ForecastPoint) (int, error) {
	for _, p := range points {
		m.forecast[p.Timestamp] = p
	}
	return len(points), nil
}

func (m *memStore) RawSince(_ context.Context, from time.Time) ([]domain.Observation, error) {
	var out []domain.Observation
	for _, o := range m.raw {
		if !o.Timestamp.Before(from) {
			out = append(out, o)
		}
	}
	return domain.DedupeSort(out), nil
}

func (m *memStore) TouchMeta(_ context.Context, key, value string) error {
	m.meta[key] = value
	return nil
}

func obsAt(ts time.Time, temp float64) domain.Observation {
	return domain.Observation{Timestamp: ts, TempC: domain.Float(temp)}
}

func newRunner(store Storage, stations []StationSource, forecast ForecastSource, c clockwork.Clock) *Runner {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(lock.NewMemoryLock(), store, stations, forecast,
		domain.DefaultBucketWidth, 48*time.Hour, logger, observability.NewMetricsForTesting())
	if c != nil {
		r.SetClock(c)
	}
	return r
}

func TestRunnerRun(t *testing.T) {
	now := time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)

	t.Run("ingests, aggregates and records the high-water mark", func(t *testing.T) {
		store := newMemStore()
		station := &fakeStation{name: "ecowitt", obs: []domain.Observation{
			obsAt(now.Add(-20*time.Minute), 21.0),
			obsAt(now.Add(-10*time.Minute), 22.0),
		}}
		forecast := &fakeForecast{points: []domain.ForecastPoint{
			{Timestamp: now.Add(3 * time.Hour), TempC: domain.Float(24.0)},
		}}
		r := newRunner(store, []StationSource{station}, forecast, clockwork.NewFakeClockAt(now))

		report, err := r.Run(context.Background())
		require.NoError(t, err)

		require.Len(t, report.Sources, 2)
		assert.Equal(t, 2, report.Sources[0].Rows)
		assert.Equal(t, 1, report.Sources[1].Rows)
		assert.Len(t, store.raw, 2)
		assert.Len(t, store.forecast, 1)
		assert.NotEmpty(t, store.buckets)
		assert.Equal(t, now.Format(time.RFC3339), store.meta[LastIngestKey])
		assert.NoError(t, r.CheckReadiness(context.Background()))
	})

	t.Run("kelvin batches are reclassified before storage", func(t *testing.T) {
		store := newMemStore()
		ts := now.Add(-10 * time.Minute)
		station := &fakeStation{name: "ecowitt", obs: []domain.Observation{
			obsAt(ts, 294.15),
		}}
		r := newRunner(store, []StationSource{station}, nil, clockwork.NewFakeClockAt(now))

		_, err := r.Run(context.Background())
		require.NoError(t, err)
		require.NotNil(t, store.raw[ts].TempC)
		assert.InDelta(t, 21.0, *store.raw[ts].TempC, 1e-9)
	})

	t.Run("one failing source does not stop the others", func(t *testing.T) {
		store := newMemStore()
		bad := &fakeStation{name: "ecowitt", err: errors.New("api down")}
		good := &fakeStation{name: "station_csv", obs: []domain.Observation{
			obsAt(now.Add(-5*time.Minute), 20.0),
		}}
		r := newRunner(store, []StationSource{bad, good}, nil, clockwork.NewFakeClockAt(now))

		report, err := r.Run(context.Background())
		require.NoError(t, err)
		require.Len(t, report.Sources, 2)
		assert.Error(t, report.Sources[0].Err)
		assert.Equal(t, 1, report.Sources[1].Rows)
		assert.Len(t, store.raw, 1)
		assert.Equal(t, now.Format(time.RFC3339), store.meta[LastIngestKey])
	})

	t.Run("all sources failing fails the run without touching metadata", func(t *testing.T) {
		store := newMemStore()
		bad := &fakeStation{name: "ecowitt", err: errors.New("api down")}
		r := newRunner(store, []StationSource{bad}, nil, clockwork.NewFakeClockAt(now))

		_, err := r.Run(context.Background())
		require.Error(t, err)
		assert.Empty(t, store.meta)
		assert.Error(t, r.CheckReadiness(context.Background()))
	})

	t.Run("storage failure aborts before the high-water mark moves", func(t *testing.T) {
		store := newMemStore()
		store.rawErr = errors.New("disk full")
		station := &fakeStation{name: "ecowitt", obs: []domain.Observation{
			obsAt(now.Add(-5*time.Minute), 20.0),
		}}
		r := newRunner(store, []StationSource{station}, nil, clockwork.NewFakeClockAt(now))

		_, err := r.Run(context.Background())
		require.Error(t, err)
		assert.Empty(t, store.meta)
	})

	t.Run("schema failure is fatal", func(t *testing.T) {
		store := newMemStore()
		store.schemaErr = errors.New("permission denied")
		r := newRunner(store, nil, nil, clockwork.NewFakeClockAt(now))

		_, err := r.Run(context.Background())
		require.Error(t, err)
	})

	t.Run("held lock returns ErrAlreadyRunning", func(t *testing.T) {
		lk := lock.NewMemoryLock()
		require.NoError(t, lk.Acquire())

		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		r := New(lk, newMemStore(), nil, nil,
			domain.DefaultBucketWidth, 48*time.Hour, logger, observability.NewMetricsForTesting())

		_, err := r.Run(context.Background())
		require.ErrorIs(t, err, ErrAlreadyRunning)
	})

	t.Run("lock is released after a failed run", func(t *testing.T) {
		store := newMemStore()
		store.schemaErr = errors.New("boom")
		lk := lock.NewMemoryLock()
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		r := New(lk, store, nil, nil,
			domain.DefaultBucketWidth, 48*time.Hour, logger, observability.NewMetricsForTesting())

		_, err := r.Run(context.Background())
		require.Error(t, err)
		assert.NoError(t, lk.Acquire())
	})

	t.Run("forecast-only configuration works without stations", func(t *testing.T) {
		store := newMemStore()
		forecast := &fakeForecast{points: []domain.ForecastPoint{
			{Timestamp: now.Add(3 * time.Hour), TempC: domain.Float(24.0)},
		}}
		r := newRunner(store, nil, forecast, clockwork.NewFakeClockAt(now))

		report, err := r.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, report.Buckets)
		assert.Len(t, store.forecast, 1)
	})
}

func TestRunnerBackfill(t *testing.T) {
	now := time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)
	dayStart := func(daysAgo int) time.Time {
		return now.AddDate(0, 0, -daysAgo).Truncate(24 * time.Hour)
	}

	t.Run("fetches each day and aggregates the span", func(t *testing.T) {
		store := newMemStore()
		src := &fakeHistory{fakeStation: fakeStation{name: "ecowitt"}}
		src.history = map[time.Time][]domain.Observation{
			dayStart(2): {obsAt(dayStart(2).Add(1*time.Hour), 18.0)},
			dayStart(1): {obsAt(dayStart(1).Add(2*time.Hour), 19.0)},
		}
		r := newRunner(store, []StationSource{src}, nil, clockwork.NewFakeClockAt(now))

		report, err := r.Backfill(context.Background(), 2)
		require.NoError(t, err)
		assert.Equal(t, 2, src.calls)
		require.Len(t, report.Sources, 1)
		assert.Equal(t, 2, report.Sources[0].Rows)
		assert.Len(t, store.raw, 2)
		assert.Equal(t, 2, report.Buckets)
		assert.Empty(t, store.meta, "backfill must not advance the high-water mark")
	})

	t.Run("rejects when no source supports history", func(t *testing.T) {
		src := &fakeStation{name: "station_csv"}
		r := newRunner(newMemStore(), []StationSource{src}, nil, clockwork.NewFakeClockAt(now))

		_, err := r.Backfill(context.Background(), 3)
		require.Error(t, err)
	})

	t.Run("fails when every day fails", func(t *testing.T) {
		src := &fakeHistory{fakeStation: fakeStation{name: "ecowitt", histErr: errors.New("api down")}}
		r := newRunner(newMemStore(), []StationSource{src}, nil, clockwork.NewFakeClockAt(now))

		_, err := r.Backfill(context.Background(), 2)
		require.Error(t, err)
	})

	t.Run("rejects non-positive day counts", func(t *testing.T) {
		r := newRunner(newMemStore(), nil, nil, clockwork.NewFakeClockAt(now))
		_, err := r.Backfill(context.Background(), 0)
		require.Error(t, err)
	})
}
