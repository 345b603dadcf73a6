// Package openweather fetches the 5-day/3-hour forecast from the OpenWeather
// API and converts it to canonical units.
package openweather

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/meteolab/station-ingest/internal/config"
	"github.com/meteolab/station-ingest/internal/domain"
	"github.com/meteolab/station-ingest/internal/source/vendorhttp"
)

const defaultBaseURL = "https://api.openweathermap.org"

// Client talks to the OpenWeather forecast endpoint for one location.
type Client struct {
	baseURL string
	apiKey  string
	lat     float64
	lon     float64

	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewClient builds a client from the forecast settings in cfg.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		apiKey:  cfg.OpenWeatherKey,
		lat:     cfg.Lat,
		lon:     cfg.Lon,
		http:    &http.Client{Timeout: cfg.FetchTimeout},
		breaker: vendorhttp.NewBreaker("openweather"),
		logger:  logger.With("source", "openweather"),
	}
}

// SetBaseURL points the client at a different server. Used by tests.
func (c *Client) SetBaseURL(base string) { c.baseURL = base }

// Name identifies the source in logs, metrics and run results.
func (c *Client) Name() string { return "openweather" }

// forecastResponse mirrors the slice of the API we consume. Pointer fields
// keep "absent" distinct from zero; rain and snow arrive as objects keyed by
// accumulation window and are simply missing on dry slots.
type forecastResponse struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp     *float64 `json:"temp"`
			Humidity *float64 `json:"humidity"`
			Pressure *float64 `json:"pressure"`
		} `json:"main"`
		Wind struct {
			Speed *float64 `json:"speed"`
			Deg   *float64 `json:"deg"`
		} `json:"wind"`
		Clouds struct {
			All *float64 `json:"all"`
		} `json:"clouds"`
		Rain map[string]float64 `json:"rain"`
		Snow map[string]float64 `json:"snow"`
	} `json:"list"`
}

// Fetch returns the forecast points, at most 40 slots of 3 hours each.
// Temperatures come back in Celsius via units=metric; wind arrives in m/s
// and is converted here.
func (c *Client) Fetch(ctx context.Context) ([]domain.ForecastPoint, error) {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(c.lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(c.lon, 'f', -1, 64))
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/data/2.5/forecast?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	body, err := vendorhttp.Get(c.http, c.breaker, req)
	if err != nil {
		return nil, err
	}

	var payload forecastResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("openweather: decode forecast: %w", err)
	}

	points := make([]domain.ForecastPoint, 0, len(payload.List))
	for _, slot := range payload.List {
		p := domain.ForecastPoint{
			Timestamp:   time.Unix(slot.Dt, 0).UTC(),
			TempC:       slot.Main.Temp,
			Humidity:    slot.Main.Humidity,
			PressureHPa: slot.Main.Pressure,
			CloudsPct:   slot.Clouds.All,
			WindDirDeg:  slot.Wind.Deg,
		}
		if slot.Wind.Speed != nil {
			if kmh, ok := domain.NormalizeWindSpeed(*slot.Wind.Speed, "m/s"); ok {
				p.WindKmh = domain.Float(kmh)
			}
		}
		if mm, ok := slot.Rain["3h"]; ok {
			p.RainMm = domain.Float(mm)
		}
		if mm, ok := slot.Snow["3h"]; ok {
			p.SnowMm = domain.Float(mm)
		}
		points = append(points, p)
	}

	c.logger.Debug("forecast fetched", "points", len(points))
	return points, nil
}
