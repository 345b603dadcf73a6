package domain

import (
	"math"
	"sort"
	"strings"
)

// Conversion factors to canonical units.
const (
	inHgPerHPa  = 33.8638866667
	kmhPerMps   = 3.6
	kmhPerMph   = 1.60934
	kmhPerKnot  = 1.852
	mmPerInch   = 25.4
	kelvinZeroC = 273.15
)

// beaufortKmh maps a Beaufort force number to a representative wind speed in
// km/h (upper bound of each band, matching the station firmware's table).
var beaufortKmh = []float64{0, 1, 5, 11, 19, 28, 38, 49, 61, 74, 88, 102, 117}

// NormalizeTemperature converts a temperature to °C using the unit hint.
// Unknown or empty hints pass the value through unchanged. The Kelvin
// correction for unhinted batches lives in ReclassifyKelvin, not here: a
// single sample cannot distinguish Kelvin from Fahrenheit.
func NormalizeTemperature(v float64, unit string) (float64, bool) {
	switch canonicalUnit(unit) {
	case "f", "°f", "fahrenheit", "degf":
		return (v - 32) * 5 / 9, true
	case "k", "kelvin":
		return v - kelvinZeroC, true
	default:
		return v, true
	}
}

// ReclassifyKelvin applies the batch-level Kelvin heuristic: when the median
// of the batch's temperatures exceeds 200 the whole batch is assumed to be in
// Kelvin and shifted to °C in place. Applied once per ingest batch.
func ReclassifyKelvin(obs []Observation) {
	temps := make([]float64, 0, len(obs))
	for _, o := range obs {
		if o.TempC != nil {
			temps = append(temps, *o.TempC)
		}
	}
	if len(temps) == 0 || median(temps) <= 200 {
		return
	}
	for i := range obs {
		if obs[i].TempC != nil {
			*obs[i].TempC -= kelvinZeroC
		}
	}
}

func median(vs []float64) float64 {
	sorted := append([]float64(nil), vs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// NormalizePressure converts a pressure to hPa. An explicit unit hint wins;
// without one the unit is inferred from magnitude, and implausible values are
// scaled by powers of ten toward the [800,1100] hPa range for at most three
// steps before being reported unconvertible.
func NormalizePressure(v float64, unit string) (float64, bool) {
	switch canonicalUnit(unit) {
	case "inhg", "in_hg", "in":
		return v * inHgPerHPa, true
	case "pa":
		return v / 100, true
	case "kpa":
		return v * 10, true
	case "hpa", "mbar", "mb", "millibar":
		return v, true
	}

	switch {
	case v >= 800 && v <= 1100:
		return v, true
	case v >= 8000 && v <= 11000:
		return v / 10, true
	case v >= 80000 && v <= 110000:
		return v / 100, true
	case v >= 50 && v <= 200:
		return v * 10, true
	case v >= 25 && v <= 35:
		// Barometric pressure in inHg sits in a band no power-of-ten scaling
		// can reach; US firmware reports it without a unit.
		return v * inHgPerHPa, true
	}

	for i := 0; i < 3; i++ {
		switch {
		case v > 1100:
			v /= 10
		case v < 800 && v > 0:
			v *= 10
		}
		if v >= 800 && v <= 1100 {
			return v, true
		}
	}
	return 0, false
}

// NormalizeWindSpeed converts a wind speed to km/h. Unknown or empty hints
// assume the value is already km/h.
func NormalizeWindSpeed(v float64, unit string) (float64, bool) {
	switch canonicalUnit(unit) {
	case "m/s", "mps", "ms":
		return v * kmhPerMps, true
	case "mph", "mi/h":
		return v * kmhPerMph, true
	case "kt", "kts", "kn", "knot", "knots":
		return v * kmhPerKnot, true
	case "bft", "beaufort":
		idx := int(math.Round(v))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(beaufortKmh) {
			idx = len(beaufortKmh) - 1
		}
		return beaufortKmh[idx], true
	default:
		return v, true
	}
}

// NormalizePrecipitation converts a precipitation amount to mm. Unknown or
// empty hints assume mm.
func NormalizePrecipitation(v float64, unit string) (float64, bool) {
	switch canonicalUnit(unit) {
	case "in", "inch", "inches":
		return v * mmPerInch, true
	default:
		return v, true
	}
}

// canonicalUnit lowercases and strips the punctuation variance seen in
// station firmware unit strings ("Km/h", "KM H", "km-h").
func canonicalUnit(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	u = strings.ReplaceAll(u, " ", "")
	u = strings.ReplaceAll(u, "-", "/")
	switch u {
	case "km/h", "kmh", "kph":
		return "km/h"
	}
	return u
}
