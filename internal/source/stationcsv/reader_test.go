package stationcsv

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meteolab/station-ingest/internal/config"
)

func testConfig(pattern string) *config.Config {
	return &config.Config{
		StationCSV:      pattern,
		StationTZ:       "UTC",
		StationWindUnit: "km/h",
		CSVColumns: config.CSVColumns{
			Time: "time", Temp: "temp", Humidity: "humidity",
			Pressure: "pressure", Wind: "wind", Gust: "gust", Rain: "rain",
		},
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newReader(t *testing.T, cfg *config.Config) *Reader {
	t.Helper()
	r, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return r
}

func TestReaderFetch(t *testing.T) {
	t.Run("reads aliased headers and locale decimals", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "export.csv",
			"DateTime,Temperature,Hum,Barometer,WindSpeed,WindGust,Rainfall\n"+
				"2026-08-20 12:00:00,\"21,5\",60,\"1.013,2\",12,18,0\n"+
				"2026-08-20 12:10:00,21.7,61,1013.4,10,,\"0,4\"\n")

		r := newReader(t, testConfig(filepath.Join(dir, "export.csv")))
		obs, err := r.Fetch(context.Background())
		require.NoError(t, err)
		require.Len(t, obs, 2)

		first := obs[0]
		assert.Equal(t, time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC), first.Timestamp)
		require.NotNil(t, first.TempC)
		assert.InDelta(t, 21.5, *first.TempC, 1e-9)
		require.NotNil(t, first.PressureHPa)
		assert.InDelta(t, 1013.2, *first.PressureHPa, 1e-9)
		require.NotNil(t, first.WindGustKmh)
		assert.InDelta(t, 18.0, *first.WindGustKmh, 1e-9)

		// Empty cells stay absent instead of becoming zero.
		assert.Nil(t, obs[1].WindGustKmh)
		require.NotNil(t, obs[1].RainMm)
		assert.InDelta(t, 0.4, *obs[1].RainMm, 1e-9)
	})

	t.Run("applies configured column overrides", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "weird.csv",
			"zeit,aussen_temp\n2026-08-20 06:00:00,18.2\n")

		cfg := testConfig(filepath.Join(dir, "weird.csv"))
		cfg.CSVColumns.Time = "zeit"
		cfg.CSVColumns.Temp = "aussen_temp"

		obs, err := newReader(t, cfg).Fetch(context.Background())
		require.NoError(t, err)
		require.Len(t, obs, 1)
		require.NotNil(t, obs[0].TempC)
		assert.InDelta(t, 18.2, *obs[0].TempC, 1e-9)
	})

	t.Run("converts station timezone to UTC", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "local.csv",
			"time,temp\n2026-01-15 12:00:00,5\n")

		cfg := testConfig(filepath.Join(dir, "local.csv"))
		cfg.StationTZ = "Europe/Rome" // UTC+1 in January

		obs, err := newReader(t, cfg).Fetch(context.Background())
		require.NoError(t, err)
		require.Len(t, obs, 1)
		assert.Equal(t, time.Date(2026, 1, 15, 11, 0, 0, 0, time.UTC), obs[0].Timestamp)
	})

	t.Run("converts the configured wind unit", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "wind.csv",
			"time,wind\n2026-08-20 12:00:00,5\n")

		cfg := testConfig(filepath.Join(dir, "wind.csv"))
		cfg.StationWindUnit = "m/s"

		obs, err := newReader(t, cfg).Fetch(context.Background())
		require.NoError(t, err)
		require.Len(t, obs, 1)
		require.NotNil(t, obs[0].WindKmh)
		assert.InDelta(t, 18.0, *obs[0].WindKmh, 1e-9)
	})

	t.Run("skips rows with unusable timestamps", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "dirty.csv",
			"time,temp\nnot-a-time,20\n2026-08-20 12:00:00,21\n,22\n")

		obs, err := newReader(t, testConfig(filepath.Join(dir, "dirty.csv"))).Fetch(context.Background())
		require.NoError(t, err)
		require.Len(t, obs, 1)
		require.NotNil(t, obs[0].TempC)
		assert.InDelta(t, 21.0, *obs[0].TempC, 1e-9)
	})

	t.Run("merges and dedupes across globbed files", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "a.csv",
			"time,temp\n2026-08-20 12:00:00,21\n2026-08-20 12:10:00,22\n")
		writeFile(t, dir, "b.csv",
			"time,temp\n2026-08-20 12:10:00,23\n2026-08-20 12:20:00,24\n")

		obs, err := newReader(t, testConfig(filepath.Join(dir, "*.csv"))).Fetch(context.Background())
		require.NoError(t, err)
		require.Len(t, obs, 3)
		for i := 1; i < len(obs); i++ {
			assert.True(t, obs[i-1].Timestamp.Before(obs[i].Timestamp))
		}
	})

	t.Run("errors when nothing matches", func(t *testing.T) {
		r := newReader(t, testConfig(filepath.Join(t.TempDir(), "missing.csv")))
		_, err := r.Fetch(context.Background())
		require.Error(t, err)
	})
}

func TestNewRejectsBadTimezone(t *testing.T) {
	cfg := testConfig("whatever.csv")
	cfg.StationTZ = "Mars/Olympus"
	_, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}
