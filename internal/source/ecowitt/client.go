// Package ecowitt fetches observations from the Ecowitt cloud API, both the
// current reading and bounded history ranges for backfill.
package ecowitt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/meteolab/station-ingest/internal/config"
	"github.com/meteolab/station-ingest/internal/domain"
	"github.com/meteolab/station-ingest/internal/source/vendorhttp"
)

const (
	defaultBaseURL = "https://api.ecowitt.net/api/v3"

	// callBack selects the sensor groups returned by the API.
	callBack = "outdoor,wind,pressure,rainfall"

	historyTimeFormat = "2006-01-02 15:04:05"
)

// Client talks to the Ecowitt v3 cloud API for one station, identified by its
// MAC address.
type Client struct {
	baseURL  string
	appKey   string
	apiKey   string
	mac      string
	deviceTZ *time.Location

	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewClient builds a client from the Ecowitt credentials in cfg. An
// unresolvable ECOWITT_TZ falls back to UTC with a warning; history bounds
// would be off by the zone offset but current readings are unaffected.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	logger = logger.With("source", "ecowitt")
	tz, err := time.LoadLocation(cfg.EcowittTZ)
	if err != nil {
		logger.Warn("invalid ECOWITT_TZ, using UTC", "tz", cfg.EcowittTZ)
		tz = time.UTC
	}
	return &Client{
		baseURL:  defaultBaseURL,
		appKey:   cfg.EcowittAppKey,
		apiKey:   cfg.EcowittAPIKey,
		mac:      cfg.EcowittMAC,
		deviceTZ: tz,
		http:     &http.Client{Timeout: cfg.FetchTimeout},
		breaker:  vendorhttp.NewBreaker("ecowitt"),
		logger:   logger,
	}
}

// SetBaseURL points the client at a different server. Used by tests.
func (c *Client) SetBaseURL(base string) { c.baseURL = base }

// Name identifies the source in logs, metrics and run results.
func (c *Client) Name() string { return "ecowitt" }

// Fetch returns the station's current reading via the real_time endpoint.
// The API reports a single snapshot, so the slice holds at most one record.
func (c *Client) Fetch(ctx context.Context) ([]domain.Observation, error) {
	params := url.Values{}
	params.Set("call_back", callBack)
	return c.get(ctx, "/device/real_time", params)
}

// FetchRange returns observations between start and end via the history
// endpoint. The API caps a single request at roughly one day of 5-minute
// data, so callers paginate by day. Bounds are rendered in the device
// timezone, which is how the endpoint interprets them.
func (c *Client) FetchRange(ctx context.Context, start, end time.Time) ([]domain.Observation, error) {
	params := url.Values{}
	params.Set("call_back", callBack)
	params.Set("cycle_type", "5min")
	params.Set("start_date", start.In(c.deviceTZ).Format(historyTimeFormat))
	params.Set("end_date", end.In(c.deviceTZ).Format(historyTimeFormat))
	return c.get(ctx, "/device/history", params)
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]domain.Observation, error) {
	params.Set("application_key", c.appKey)
	params.Set("api_key", c.apiKey)
	params.Set("mac", c.mac)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	body, err := vendorhttp.Get(c.http, c.breaker, req)
	if err != nil {
		return nil, err
	}

	// The API signals failures inside a 200 response.
	var envelope struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("ecowitt: decode envelope: %w", err)
	}
	if envelope.Code != 0 {
		return nil, fmt.Errorf("ecowitt: api error %d: %s", envelope.Code, envelope.Msg)
	}

	obs, err := domain.ParseObservations(body, c.logger)
	if err != nil {
		return nil, fmt.Errorf("ecowitt: %w", err)
	}
	return obs, nil
}
