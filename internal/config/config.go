package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for everything tunable.
const (
	DefaultSQLitePath     = "./data/weather.db"
	DefaultLockPath       = "./data/ingest.lock"
	DefaultBucketWidth    = 3 * time.Hour
	DefaultAggLookback    = 48 * time.Hour
	DefaultLockStaleAfter = 15 * time.Minute
	DefaultFetchTimeout   = 20 * time.Second
	DefaultIngestInterval = 10 * time.Minute
)

// CSVColumns holds the vendor column names for local CSV ingestion,
// overridable per deployment because station export formats differ.
type CSVColumns struct {
	Time     string
	Temp     string
	Humidity string
	Pressure string
	Wind     string
	Gust     string
	Rain     string
}

// Config holds all pipeline settings, populated from environment variables.
type Config struct {
	DatabaseURL string // Postgres DSN; empty means local SQLite
	SQLitePath  string

	Lat float64
	Lon float64

	EcowittAppKey string
	EcowittAPIKey string
	EcowittMAC    string
	EcowittTZ     string

	OpenWeatherKey string

	StationCSV      string // path or glob; empty disables CSV ingestion
	StationTZ       string
	StationWindUnit string
	CSVColumns      CSVColumns

	BucketWidth    time.Duration
	AggLookback    time.Duration
	BackfillDays   int
	LockPath       string
	LockStaleAfter time.Duration
	FetchTimeout   time.Duration

	// Daemon-only settings.
	IngestInterval time.Duration
	HTTPAddr       string

	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment (and a .env file when
// present), applying defaults where unset. Validation failures here are
// fatal configuration errors, distinct from lock contention.
func Load() (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SQLitePath:  envOrDefault("SQLITE_PATH", DefaultSQLitePath),

		EcowittAppKey: firstEnv("ECOWITT_APP_KEY", "ECOWITT_APPLICATION_KEY"),
		EcowittAPIKey: strings.TrimSpace(os.Getenv("ECOWITT_API_KEY")),
		EcowittMAC:    normalizeMAC(os.Getenv("ECOWITT_MAC")),
		EcowittTZ:     envOrDefault("ECOWITT_TZ", "UTC"),

		OpenWeatherKey: firstEnv("OW_API_KEY", "OWM_API_KEY", "OPENWEATHER_API_KEY"),

		StationCSV:      strings.TrimSpace(os.Getenv("STATION_CSV")),
		StationTZ:       envOrDefault("STATION_TZ", "UTC"),
		StationWindUnit: envOrDefault("STATION_WIND_UNIT", "km/h"),
		CSVColumns: CSVColumns{
			Time:     envOrDefault("STATION_TIME_COL", "time"),
			Temp:     envOrDefault("STATION_TEMP_COL", "temp"),
			Humidity: envOrDefault("STATION_HUM_COL", "humidity"),
			Pressure: envOrDefault("STATION_PRESS_COL", "pressure"),
			Wind:     envOrDefault("STATION_WIND_COL", "wind"),
			Gust:     envOrDefault("STATION_GUST_COL", "gust"),
			Rain:     envOrDefault("STATION_RAIN_COL", "rain"),
		},

		LockPath:  envOrDefault("LOCK_PATH", DefaultLockPath),
		HTTPAddr:  envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:  envOrDefault("LOG_LEVEL", "info"),
		LogFormat: envOrDefault("LOG_FORMAT", "json"),
	}

	var err error
	if cfg.Lat, err = envFloat("LAT", 41.89); err != nil {
		return nil, err
	}
	if cfg.Lon, err = envFloat("LON", 12.49); err != nil {
		return nil, err
	}
	if cfg.BucketWidth, err = envDuration("BUCKET_WIDTH", DefaultBucketWidth); err != nil {
		return nil, err
	}
	if cfg.AggLookback, err = envDuration("AGG_LOOKBACK", DefaultAggLookback); err != nil {
		return nil, err
	}
	if cfg.LockStaleAfter, err = envDuration("LOCK_STALE_AFTER", DefaultLockStaleAfter); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = envDuration("FETCH_TIMEOUT", DefaultFetchTimeout); err != nil {
		return nil, err
	}
	if cfg.IngestInterval, err = envDuration("INGEST_INTERVAL", DefaultIngestInterval); err != nil {
		return nil, err
	}
	if cfg.BackfillDays, err = envInt("BACKFILL_DAYS", 0); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HasEcowitt reports whether the Ecowitt cloud source is fully configured.
func (c *Config) HasEcowitt() bool {
	return c.EcowittAppKey != "" && c.EcowittAPIKey != "" && c.EcowittMAC != ""
}

// HasForecast reports whether the forecast provider is configured.
func (c *Config) HasForecast() bool { return c.OpenWeatherKey != "" }

// HasStationCSV reports whether local CSV ingestion is configured.
func (c *Config) HasStationCSV() bool { return c.StationCSV != "" }

func (c *Config) validate() error {
	anyEcowitt := c.EcowittAppKey != "" || c.EcowittAPIKey != "" || c.EcowittMAC != ""
	if anyEcowitt && !c.HasEcowitt() {
		return errors.New("ECOWITT_APP_KEY, ECOWITT_API_KEY and ECOWITT_MAC must be set together")
	}
	if !c.HasEcowitt() && !c.HasStationCSV() && !c.HasForecast() {
		return errors.New("no data source configured: set ECOWITT_* keys, STATION_CSV, or OW_API_KEY")
	}
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		return errors.New("either DATABASE_URL or SQLITE_PATH is required")
	}
	if c.BackfillDays < 0 {
		return errors.New("BACKFILL_DAYS must not be negative")
	}
	return nil
}

// normalizeMAC accepts colon or dash separated MAC addresses and lowercases
// them; the vendor API is picky about the form it echoes back.
func normalizeMAC(mac string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(mac), "-", ":"))
}

func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func envFloat(key string, def float64) (float64, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envInt(key string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return v, nil
}
