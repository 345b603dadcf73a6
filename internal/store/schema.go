package store

import (
	"context"
	"fmt"
)

// schema uses the type names both backends accept. Timestamps are RFC 3339
// TEXT so the same DDL and comparison semantics work on SQLite and Postgres.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS station_raw (
		time_utc      TEXT PRIMARY KEY,
		temp_c        DOUBLE PRECISION,
		humidity      DOUBLE PRECISION,
		pressure_hpa  DOUBLE PRECISION,
		wind_kmh      DOUBLE PRECISION,
		wind_gust_kmh DOUBLE PRECISION,
		wind_dir_deg  DOUBLE PRECISION,
		rain_mm       DOUBLE PRECISION
	)`,
	`CREATE TABLE IF NOT EXISTS station_3h (
		bucket_start  TEXT PRIMARY KEY,
		temp_c        DOUBLE PRECISION,
		humidity      DOUBLE PRECISION,
		pressure_hpa  DOUBLE PRECISION,
		wind_kmh      DOUBLE PRECISION,
		wind_gust_kmh DOUBLE PRECISION,
		rain_mm       DOUBLE PRECISION
	)`,
	`CREATE TABLE IF NOT EXISTS forecast_ow (
		time_utc     TEXT PRIMARY KEY,
		temp_c       DOUBLE PRECISION,
		humidity     DOUBLE PRECISION,
		pressure_hpa DOUBLE PRECISION,
		clouds_pct   DOUBLE PRECISION,
		wind_kmh     DOUBLE PRECISION,
		wind_dir_deg DOUBLE PRECISION,
		rain_mm      DOUBLE PRECISION,
		snow_mm      DOUBLE PRECISION
	)`,
	`CREATE TABLE IF NOT EXISTS meta (
		k TEXT PRIMARY KEY,
		v TEXT
	)`,
}

// EnsureSchema creates the pipeline's tables when missing. Idempotent and
// called on every process start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schema {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
