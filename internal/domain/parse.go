package domain

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// timestampKeys are tried in order when resolving an item's observation time.
var timestampKeys = []string{"time", "last_update_time", "update_time", "date", "timestamp"}

// fieldPath is one candidate location for a quantity. unitHint applies when
// the node itself carries no unit, covering keys whose suffix encodes the
// unit (wind.avg_mps, rainfall.rainrate_in).
type fieldPath struct {
	path     string
	unitHint string
}

var (
	tempPaths = []fieldPath{
		{path: "outdoor.temperature"}, {path: "outdoor.temp_c", unitHint: "c"},
		{path: "temperature"}, {path: "temp"},
	}
	humidityPaths = []fieldPath{
		{path: "outdoor.humidity"}, {path: "humidity"}, {path: "hum"},
	}
	pressurePaths = []fieldPath{
		{path: "pressure.rel"}, {path: "pressure.relative"},
		// The *_hpa keys still go through magnitude inference: some firmware
		// reports hPa×10 or Pa under them regardless of the suffix.
		{path: "pressure.rel_hpa"}, {path: "pressure.relative_hpa"},
		{path: "pressure.abs_hpa"}, {path: "pressure.absolute"},
		{path: "pressure"}, {path: "barometer"},
	}
	windPaths = []fieldPath{
		{path: "wind.speed"}, {path: "wind.speed_avg"}, {path: "wind.windspeed"},
		{path: "wind.avg"}, {path: "wind.avg_mps", unitHint: "m/s"},
	}
	gustPaths = []fieldPath{
		{path: "wind.gust"}, {path: "wind.max"}, {path: "wind.gust_mps", unitHint: "m/s"},
	}
	windDirPaths = []fieldPath{
		{path: "wind.direction"}, {path: "wind.dir_deg"}, {path: "wind.dir"},
	}
	rainPaths = []fieldPath{
		{path: "rainfall.rate"}, {path: "rainfall.rain_rate"},
		{path: "rainfall.rainrate_mm", unitHint: "mm"}, {path: "rainfall.rainrate"},
		{path: "rainfall.rain_3h"}, {path: "rainfall.rain_1h"}, {path: "rainfall.daily"},
		{path: "rainfall.rainrate_in", unitHint: "in"},
	}
)

// ParseObservations extracts normalized observations from a vendor JSON
// payload. The envelope's "data" may be a single object, a list, or an
// object holding a "list" array. Malformed items are skipped and logged,
// never fatal; only an unparseable envelope returns an error. Output is
// de-duplicated by timestamp (last occurrence wins) and sorted ascending.
func ParseObservations(payload []byte, logger *slog.Logger) ([]Observation, error) {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("parse payload envelope: %w", err)
	}

	items := enumerateItems(envelope.Data)
	obs := make([]Observation, 0, len(items))
	for i, item := range items {
		rec, ok := parseItem(item)
		if !ok {
			logger.Warn("skipping malformed observation item", "index", i)
			continue
		}
		obs = append(obs, rec)
	}

	return DedupeSort(obs), nil
}

// enumerateItems flattens the vendor envelope variants into a list of items.
func enumerateItems(data json.RawMessage) []map[string]any {
	if len(data) == 0 {
		return nil
	}

	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err == nil {
		return decodeItems(list)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil
	}
	if inner, ok := obj["list"]; ok {
		if err := json.Unmarshal(inner, &list); err == nil {
			return decodeItems(list)
		}
	}

	var single map[string]any
	if err := json.Unmarshal(data, &single); err != nil {
		return nil
	}
	return []map[string]any{single}
}

func decodeItems(raws []json.RawMessage) []map[string]any {
	items := make([]map[string]any, 0, len(raws))
	for _, r := range raws {
		var m map[string]any
		if err := json.Unmarshal(r, &m); err != nil {
			items = append(items, nil) // preserved so the caller logs the skip
			continue
		}
		items = append(items, m)
	}
	return items
}

// parseItem builds one observation from a vendor item. Returns false when the
// item is not an object or carries no recognizable quantity at all.
func parseItem(item map[string]any) (Observation, bool) {
	if item == nil {
		return Observation{}, false
	}

	rec := Observation{
		Timestamp:   resolveTimestamp(item),
		TempC:       resolveQuantity(item, tempPaths, NormalizeTemperature),
		Humidity:    resolveQuantity(item, humidityPaths, passthrough),
		PressureHPa: resolveQuantity(item, pressurePaths, NormalizePressure),
		WindKmh:     resolveQuantity(item, windPaths, NormalizeWindSpeed),
		WindGustKmh: resolveQuantity(item, gustPaths, NormalizeWindSpeed),
		WindDirDeg:  resolveQuantity(item, windDirPaths, passthrough),
		RainMm:      resolveQuantity(item, rainPaths, NormalizePrecipitation),
	}

	if rec.TempC == nil && rec.Humidity == nil && rec.PressureHPa == nil &&
		rec.WindKmh == nil && rec.WindGustKmh == nil && rec.WindDirDeg == nil && rec.RainMm == nil {
		return Observation{}, false
	}
	return rec, true
}

func passthrough(v float64, _ string) (float64, bool) { return v, true }

// resolveQuantity walks the candidate paths in order and normalizes the first
// node that yields a value. Unconvertible values resolve to nil, never an
// error.
func resolveQuantity(item map[string]any, paths []fieldPath, norm func(float64, string) (float64, bool)) *float64 {
	for _, p := range paths {
		node, ok := lookupPath(item, p.path)
		if !ok {
			continue
		}
		v, unit, ok := scalarOrTagged(node)
		if !ok {
			continue
		}
		if unit == "" {
			unit = p.unitHint
		}
		if out, ok := norm(v, unit); ok {
			return &out
		}
	}
	return nil
}

// lookupPath resolves a dotted path ("wind.speed") through nested objects.
func lookupPath(item map[string]any, path string) (any, bool) {
	node := any(item)
	start := 0
	for i := 0; i <= len(path); i++ {
		if i < len(path) && path[i] != '.' {
			continue
		}
		key := path[start:i]
		start = i + 1
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// scalarOrTagged resolves the two vendor node shapes: a bare scalar (number
// or locale-formatted string), or a {value, unit} object.
func scalarOrTagged(node any) (float64, string, bool) {
	switch n := node.(type) {
	case float64:
		return n, "", true
	case string:
		v, ok := ParseDecimal(n)
		return v, "", ok
	case map[string]any:
		inner, ok := n["value"]
		if !ok {
			return 0, "", false
		}
		v, _, ok := scalarOrTagged(inner)
		if !ok {
			return 0, "", false
		}
		unit, _ := n["unit"].(string)
		return v, unit, true
	default:
		return 0, "", false
	}
}

// resolveTimestamp tries the candidate timestamp keys in order, accepting
// unix seconds, "2006-01-02 15:04:05", or RFC 3339. Falls back to "now"
// rather than failing the item.
func resolveTimestamp(item map[string]any) time.Time {
	for _, key := range timestampKeys {
		raw, ok := item[key]
		if !ok {
			continue
		}
		if ts, ok := parseTimestamp(raw); ok {
			return ts
		}
	}
	return clock.Now().UTC()
}

func parseTimestamp(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case float64:
		return time.Unix(int64(v), 0).UTC(), true
	case string:
		for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339, "2006-01-02"} {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts.UTC(), true
			}
		}
		if secs, ok := ParseDecimal(v); ok && secs > 1e8 {
			return time.Unix(int64(secs), 0).UTC(), true
		}
	}
	return time.Time{}, false
}

// DedupeSort drops duplicate timestamps keeping the last occurrence and
// returns the records in ascending time order.
func DedupeSort(obs []Observation) []Observation {
	byTime := make(map[time.Time]Observation, len(obs))
	for _, o := range obs {
		byTime[o.Timestamp] = o
	}
	out := make([]Observation, 0, len(byTime))
	for _, o := range byTime {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
