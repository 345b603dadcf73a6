// Package store persists raw observations, aggregated buckets, forecast
// rows, and ingest metadata in a relational database shared with the
// dashboard's read path.
//
// Two backends are supported behind the same database/sql surface: Postgres
// (DATABASE_URL, via the pgx stdlib driver) and a local SQLite file
// (SQLITE_PATH, pure-Go driver). Timestamps are stored as RFC 3339 TEXT and
// the upsert SQL uses ON CONFLICT ... DO UPDATE with excluded references,
// which both backends accept verbatim.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver: pgx
	_ "modernc.org/sqlite"             // database/sql driver: sqlite

	"github.com/meteolab/station-ingest/internal/config"
	"github.com/meteolab/station-ingest/internal/domain"
)

// TimeFormat is how instants are stored; UTC, second precision, sortable.
const TimeFormat = "2006-01-02T15:04:05Z"

// chunkSize bounds the rows per transaction so large backfills do not hold
// the writer lock for the whole batch.
const chunkSize = 2000

// Store is the idempotent writer (and read-back reader) for the pipeline's
// tables. It is handed to components explicitly; nothing holds it as a
// package-level singleton.
type Store struct {
	db      *sql.DB
	backend string // "postgres" or "sqlite"
	logger  *slog.Logger
}

// Open connects to the backend selected by the configuration: DATABASE_URL
// when set, otherwise a local SQLite file whose parent directory is created
// on demand.
func Open(cfg *config.Config, logger *slog.Logger) (*Store, error) {
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		return &Store{db: db, backend: "postgres", logger: logger}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	// WAL keeps the store readable by the dashboard between our commits;
	// the busy timeout rides out its read transactions.
	dsn := cfg.SQLitePath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db, backend: "sqlite", logger: logger}, nil
}

// Ping verifies the connection. A failure here is a fatal run error, not a
// per-source one.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store unavailable: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// rebind converts ?-style placeholders to the $N form Postgres requires.
func (s *Store) rebind(query string) string {
	if s.backend != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const upsertRawSQL = `
INSERT INTO station_raw (time_utc, temp_c, humidity, pressure_hpa, wind_kmh, wind_gust_kmh, wind_dir_deg, rain_mm)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (time_utc) DO UPDATE SET
  temp_c=excluded.temp_c,
  humidity=excluded.humidity,
  pressure_hpa=excluded.pressure_hpa,
  wind_kmh=excluded.wind_kmh,
  wind_gust_kmh=excluded.wind_gust_kmh,
  wind_dir_deg=excluded.wind_dir_deg,
  rain_mm=excluded.rain_mm`

// UpsertRaw writes observations keyed by timestamp. Conflicts overwrite
// every non-key column with the new value, nulls included: the last ingest
// is authoritative, there is no field-level merge. Returns the number of
// rows written.
func (s *Store) UpsertRaw(ctx context.Context, obs []domain.Observation) (int, error) {
	return s.upsertChunked(ctx, len(obs), upsertRawSQL, func(i int) []any {
		o := obs[i]
		return []any{
			o.Timestamp.UTC().Format(TimeFormat),
			nullable(o.TempC), nullable(o.Humidity), nullable(o.PressureHPa),
			nullable(o.WindKmh), nullable(o.WindGustKmh), nullable(o.WindDirDeg),
			nullable(o.RainMm),
		}
	})
}

const upsertBucketSQL = `
INSERT INTO station_3h (bucket_start, temp_c, humidity, pressure_hpa, wind_kmh, wind_gust_kmh, rain_mm)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (bucket_start) DO UPDATE SET
  temp_c=excluded.temp_c,
  humidity=excluded.humidity,
  pressure_hpa=excluded.pressure_hpa,
  wind_kmh=excluded.wind_kmh,
  wind_gust_kmh=excluded.wind_gust_kmh,
  rain_mm=excluded.rain_mm`

// UpsertBuckets writes aggregated buckets keyed by bucket start, same
// conflict policy as UpsertRaw.
func (s *Store) UpsertBuckets(ctx context.Context, buckets []domain.Bucket) (int, error) {
	return s.upsertChunked(ctx, len(buckets), upsertBucketSQL, func(i int) []any {
		b := buckets[i]
		return []any{
			b.Start.UTC().Format(TimeFormat),
			nullable(b.TempC), nullable(b.Humidity), nullable(b.PressureHPa),
			nullable(b.WindKmh), nullable(b.WindGustKmh), nullable(b.RainMm),
		}
	})
}

const upsertForecastSQL = `
INSERT INTO forecast_ow (time_utc, temp_c, humidity, pressure_hpa, clouds_pct, wind_kmh, wind_dir_deg, rain_mm, snow_mm)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (time_utc) DO UPDATE SET
  temp_c=excluded.temp_c,
  humidity=excluded.humidity,
  pressure_hpa=excluded.pressure_hpa,
  clouds_pct=excluded.clouds_pct,
  wind_kmh=excluded.wind_kmh,
  wind_dir_deg=excluded.wind_dir_deg,
  rain_mm=excluded.rain_mm,
  snow_mm=excluded.snow_mm`

// UpsertForecast writes provider forecast rows keyed by forecast timestamp.
func (s *Store) UpsertForecast(ctx context.Context, points []domain.ForecastPoint) (int, error) {
	return s.upsertChunked(ctx, len(points), upsertForecastSQL, func(i int) []any {
		p := points[i]
		return []any{
			p.Timestamp.UTC().Format(TimeFormat),
			nullable(p.TempC), nullable(p.Humidity), nullable(p.PressureHPa),
			nullable(p.CloudsPct), nullable(p.WindKmh), nullable(p.WindDirDeg),
			nullable(p.RainMm), nullable(p.SnowMm),
		}
	})
}

// upsertChunked executes the statement for n rows in transactions of at most
// chunkSize rows each. A chunk commits atomically or not at all.
func (s *Store) upsertChunked(ctx context.Context, n int, query string, args func(int) []any) (int, error) {
	if n == 0 {
		return 0, nil
	}
	query = s.rebind(query)

	written := 0
	for lo := 0; lo < n; lo += chunkSize {
		hi := lo + chunkSize
		if hi > n {
			hi = n
		}
		if err := s.upsertChunk(ctx, query, lo, hi, args); err != nil {
			return written, err
		}
		written += hi - lo
	}
	return written, nil
}

func (s *Store) upsertChunk(ctx context.Context, query string, lo, hi int, args func(int) []any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for i := lo; i < hi; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return fmt.Errorf("upsert row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert tx: %w", err)
	}
	return nil
}

// TouchMeta unconditionally upserts a metadata key.
func (s *Store) TouchMeta(ctx context.Context, key, value string) error {
	q := s.rebind(`INSERT INTO meta (k, v) VALUES (?, ?) ON CONFLICT (k) DO UPDATE SET v=excluded.v`)
	if _, err := s.db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("touch meta %q: %w", key, err)
	}
	return nil
}

// GetMeta reads a metadata key. The second return is false when the key has
// never been written.
func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	q := s.rebind(`SELECT v FROM meta WHERE k = ?`)
	var v string
	err := s.db.QueryRowContext(ctx, q, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get meta %q: %w", key, err)
	}
	return v, true, nil
}

// RawSince reads observations at or after the given instant, ascending.
// Used to recompute the buckets covering a freshly written window.
func (s *Store) RawSince(ctx context.Context, from time.Time) ([]domain.Observation, error) {
	q := s.rebind(`
		SELECT time_utc, temp_c, humidity, pressure_hpa, wind_kmh, wind_gust_kmh, wind_dir_deg, rain_mm
		FROM station_raw WHERE time_utc >= ? ORDER BY time_utc`)

	rows, err := s.db.QueryContext(ctx, q, from.UTC().Format(TimeFormat))
	if err != nil {
		return nil, fmt.Errorf("query raw since %s: %w", from.Format(TimeFormat), err)
	}
	defer rows.Close()

	var out []domain.Observation
	for rows.Next() {
		var ts string
		var temp, hum, press, wind, gust, dir, rain sql.NullFloat64
		if err := rows.Scan(&ts, &temp, &hum, &press, &wind, &gust, &dir, &rain); err != nil {
			return nil, fmt.Errorf("scan raw row: %w", err)
		}
		t, err := time.Parse(TimeFormat, ts)
		if err != nil {
			s.logger.Warn("skipping raw row with unparseable timestamp", "time_utc", ts)
			continue
		}
		out = append(out, domain.Observation{
			Timestamp:   t,
			TempC:       floatPtr(temp),
			Humidity:    floatPtr(hum),
			PressureHPa: floatPtr(press),
			WindKmh:     floatPtr(wind),
			WindGustKmh: floatPtr(gust),
			WindDirDeg:  floatPtr(dir),
			RainMm:      floatPtr(rain),
		})
	}
	return out, rows.Err()
}

// Count returns the row count of one of the pipeline's tables.
func (s *Store) Count(ctx context.Context, table string) (int, error) {
	if !knownTable(table) {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// TimeRange returns the oldest and newest stored instants of a table, or
// ok=false when it is empty.
func (s *Store) TimeRange(ctx context.Context, table string) (oldest, newest time.Time, ok bool, err error) {
	if !knownTable(table) {
		return time.Time{}, time.Time{}, false, fmt.Errorf("unknown table %q", table)
	}
	col := "time_utc"
	if table == "station_3h" {
		col = "bucket_start"
	}

	var lo, hi sql.NullString
	err = s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT MIN(%s), MAX(%s) FROM %s", col, col, table)).Scan(&lo, &hi)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("time range of %s: %w", table, err)
	}
	if !lo.Valid || !hi.Valid {
		return time.Time{}, time.Time{}, false, nil
	}

	oldest, err = time.Parse(TimeFormat, lo.String)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	newest, err = time.Parse(TimeFormat, hi.String)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	return oldest, newest, true, nil
}

func knownTable(table string) bool {
	switch table {
	case "station_raw", "station_3h", "forecast_ow", "meta":
		return true
	}
	return false
}

func nullable(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
