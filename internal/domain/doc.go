// Package domain models personal weather station observations and the
// normalization rules that turn vendor payloads into canonical records.
//
// # Canonical units
//
// Every stored quantity uses exactly one unit: temperature in °C, pressure in
// hPa, wind speed and gust in km/h, precipitation in mm, humidity in percent,
// wind direction in degrees. Normalization happens before anything is
// persisted; downstream consumers never branch on the source.
//
// # Vendor payload conventions
//
// The Ecowitt cloud API nests quantities under outdoor/wind/pressure/rainfall
// groups and is inconsistent about both key names and node shapes. A quantity
// node is either a bare scalar (number, or a locale-formatted string such as
// "1.013,2") or a tagged object:
//
//	"temperature": 21.4
//	"temperature": {"value": "70.5", "unit": "F"}
//
// Both shapes resolve through one path: extract (value, unit hint), then
// normalize. Key aliases are tried in order, e.g. wind speed under
// wind.speed, wind.speed_avg, wind.windspeed, wind.avg, wind.avg_mps.
//
// Timestamps arrive as unix seconds, "2006-01-02 15:04:05", or RFC 3339,
// under one of time/last_update_time/update_time/date/timestamp. A record
// whose timestamp cannot be parsed gets "now" rather than an error.
//
// # Unit inference
//
// Bare pressure values carry no unit and are classified by magnitude:
// [800,1100] is already hPa, [8000,11000] is hPa×10, [80000,110000] is Pa,
// [50,200] is kPa, [25,35] is inHg. Anything else is scaled by powers of ten
// toward the plausible hPa range, giving up after three steps. See
// [NormalizePressure].
//
// Temperatures in Kelvin cannot be told apart from Fahrenheit sample by
// sample, so the Kelvin correction is a batch decision: if the median of a
// batch exceeds 200 the whole batch is shifted by -273.15. See
// [ReclassifyKelvin].
//
// # Aggregation
//
// Raw observations are resampled into fixed-width buckets (3 hours by
// default) with a fixed reducer per field: mean for temperature, humidity,
// pressure and wind speed; max for gust; sum for rain. Aggregation is a pure
// function of its input rows, so recomputing a window is idempotent and
// overwriting previously stored buckets is safe. See [Aggregate].
package domain
