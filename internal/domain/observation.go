package domain

import "time"

// Observation is one station sample in canonical units. Quantities are
// pointers because any of them may be absent from a vendor record; an absent
// value stays NULL all the way to the store.
type Observation struct {
	Timestamp   time.Time
	TempC       *float64
	Humidity    *float64
	PressureHPa *float64
	WindKmh     *float64
	WindGustKmh *float64
	WindDirDeg  *float64
	RainMm      *float64
}

// Bucket summarizes the observations falling in one fixed-width time window.
// Start is aligned to the window boundary in UTC. Reducers per field: mean
// for TempC/Humidity/PressureHPa/WindKmh, max for WindGustKmh, sum for
// RainMm.
type Bucket struct {
	Start       time.Time
	TempC       *float64
	Humidity    *float64
	PressureHPa *float64
	WindKmh     *float64
	WindGustKmh *float64
	RainMm      *float64
}

// ForecastPoint is one provider forecast row. Values arrive already metric
// from the provider except wind speed, which is converted from m/s.
type ForecastPoint struct {
	Timestamp   time.Time
	TempC       *float64
	Humidity    *float64
	PressureHPa *float64
	CloudsPct   *float64
	WindKmh     *float64
	WindDirDeg  *float64
	RainMm      *float64
	SnowMm      *float64
}

// Float returns a pointer to v. Convenience for building records and test
// fixtures.
func Float(v float64) *float64 { return &v }
