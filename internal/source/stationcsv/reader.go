// Package stationcsv ingests station exports from local CSV files. Column
// names vary by firmware and export tool, so headers are matched against a
// configurable set of aliases before decoding.
package stationcsv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jszwec/csvutil"

	"github.com/meteolab/station-ingest/internal/config"
	"github.com/meteolab/station-ingest/internal/domain"
)

// builtinAliases maps canonical column tags to header names seen in the wild.
// Configured overrides take precedence.
var builtinAliases = map[string][]string{
	"time":     {"time", "datetime", "date_time", "date", "timestamp"},
	"temp":     {"temp", "temperature", "temp_c", "tempout", "outdoor_temperature"},
	"humidity": {"humidity", "hum", "humidityout", "outdoor_humidity"},
	"pressure": {"pressure", "pressure_hpa", "barometer", "rel_pressure", "baromrel"},
	"wind":     {"wind", "wind_kmh", "windspeed", "wind_speed", "wind_avg"},
	"gust":     {"gust", "gust_kmh", "windgust", "wind_gust", "wind_max"},
	"rain":     {"rain", "rain_mm", "rainfall", "precip", "rain_rate"},
}

// timeLayouts are tried in order when parsing the time column.
var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.RFC3339,
	"02/01/2006 15:04",
	"2006-01-02",
}

// row is the decode target; everything is a string because station exports
// use locale-dependent number formats.
type row struct {
	Time     string `csv:"time"`
	Temp     string `csv:"temp"`
	Humidity string `csv:"humidity"`
	Pressure string `csv:"pressure"`
	Wind     string `csv:"wind"`
	Gust     string `csv:"gust"`
	Rain     string `csv:"rain"`
}

// Reader ingests one path or glob of station CSV exports.
type Reader struct {
	pattern  string
	loc      *time.Location
	cols     config.CSVColumns
	windUnit string
	logger   *slog.Logger
}

// New builds a reader from the station CSV settings in cfg. The configured
// timezone is resolved here so a bad name fails at startup, not mid-run.
func New(cfg *config.Config, logger *slog.Logger) (*Reader, error) {
	loc, err := time.LoadLocation(cfg.StationTZ)
	if err != nil {
		return nil, fmt.Errorf("station csv: invalid timezone %q: %w", cfg.StationTZ, err)
	}
	return &Reader{
		pattern:  cfg.StationCSV,
		loc:      loc,
		cols:     cfg.CSVColumns,
		windUnit: cfg.StationWindUnit,
		logger:   logger.With("source", "station_csv"),
	}, nil
}

// Name identifies the source in logs, metrics and run results.
func (r *Reader) Name() string { return "station_csv" }

// Fetch reads every file matching the configured pattern and returns the
// combined observations, de-duplicated by timestamp and sorted ascending.
// A pattern matching no files is an error; individual bad rows are skipped.
func (r *Reader) Fetch(ctx context.Context) ([]domain.Observation, error) {
	files, err := filepath.Glob(r.pattern)
	if err != nil {
		return nil, fmt.Errorf("station csv: bad pattern %q: %w", r.pattern, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("station csv: no files match %q", r.pattern)
	}

	var all []domain.Observation
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		obs, err := r.readFile(path)
		if err != nil {
			return nil, err
		}
		all = append(all, obs...)
	}
	return domain.DedupeSort(all), nil
}

func (r *Reader) readFile(path string) ([]domain.Observation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("station csv: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.TrimLeadingSpace = true

	rawHeader, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("station csv: read header of %s: %w", path, err)
	}

	dec, err := csvutil.NewDecoder(cr, r.canonicalHeader(rawHeader)...)
	if err != nil {
		return nil, fmt.Errorf("station csv: %s: %w", path, err)
	}

	var obs []domain.Observation
	skipped := 0
	for {
		var rec row
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			skipped++
			continue
		}
		o, ok := r.toObservation(rec)
		if !ok {
			skipped++
			continue
		}
		obs = append(obs, o)
	}
	if skipped > 0 {
		r.logger.Warn("skipped unreadable csv rows", "file", path, "skipped", skipped)
	}
	return obs, nil
}

// canonicalHeader rewrites the file's header into canonical tags so decoding
// is independent of the export format. Unrecognized columns keep their name
// and are ignored by the decoder.
func (r *Reader) canonicalHeader(raw []string) []string {
	overrides := map[string]string{
		strings.ToLower(r.cols.Time):     "time",
		strings.ToLower(r.cols.Temp):     "temp",
		strings.ToLower(r.cols.Humidity): "humidity",
		strings.ToLower(r.cols.Pressure): "pressure",
		strings.ToLower(r.cols.Wind):     "wind",
		strings.ToLower(r.cols.Gust):     "gust",
		strings.ToLower(r.cols.Rain):     "rain",
	}

	out := make([]string, len(raw))
	for i, cell := range raw {
		name := strings.ToLower(strings.TrimSpace(cell))
		if tag, ok := overrides[name]; ok {
			out[i] = tag
			continue
		}
		out[i] = cell
		for tag, aliases := range builtinAliases {
			for _, alias := range aliases {
				if name == alias {
					out[i] = tag
				}
			}
		}
	}
	return out
}

func (r *Reader) toObservation(rec row) (domain.Observation, bool) {
	ts, ok := r.parseTime(rec.Time)
	if !ok {
		return domain.Observation{}, false
	}

	o := domain.Observation{
		Timestamp:   ts,
		TempC:       normalized(rec.Temp, "", domain.NormalizeTemperature),
		Humidity:    normalized(rec.Humidity, "", passthrough),
		PressureHPa: normalized(rec.Pressure, "", domain.NormalizePressure),
		WindKmh:     normalized(rec.Wind, r.windUnit, domain.NormalizeWindSpeed),
		WindGustKmh: normalized(rec.Gust, r.windUnit, domain.NormalizeWindSpeed),
		RainMm:      normalized(rec.Rain, "", domain.NormalizePrecipitation),
	}
	if o.TempC == nil && o.Humidity == nil && o.PressureHPa == nil &&
		o.WindKmh == nil && o.WindGustKmh == nil && o.RainMm == nil {
		return domain.Observation{}, false
	}
	return o, true
}

// parseTime interprets naive timestamps in the configured station timezone
// and converts to UTC.
func (r *Reader) parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if ts, err := time.ParseInLocation(layout, s, r.loc); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func passthrough(v float64, _ string) (float64, bool) { return v, true }

func normalized(s, unit string, norm func(float64, string) (float64, bool)) *float64 {
	v, ok := domain.ParseDecimal(s)
	if !ok {
		return nil
	}
	out, ok := norm(v, unit)
	if !ok {
		return nil
	}
	return &out
}
