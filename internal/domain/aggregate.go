package domain

import (
	"sort"
	"time"
)

// DefaultBucketWidth is the canonical aggregation window.
const DefaultBucketWidth = 3 * time.Hour

// Aggregate resamples observations into boundary-aligned buckets of the given
// width. Reducers are fixed per field: mean for temperature, humidity,
// pressure and wind speed; max for gust; sum for rain. A sample without a
// gust contributes its wind speed to the gust reducer instead, so a bucket's
// gust never under-reports its average speed. Buckets with no contributing
// samples are omitted. Pure function of its inputs: re-running over the same
// rows yields identical buckets.
func Aggregate(obs []Observation, width time.Duration) []Bucket {
	if width <= 0 {
		width = DefaultBucketWidth
	}

	groups := make(map[time.Time][]Observation)
	for _, o := range obs {
		start := o.Timestamp.UTC().Truncate(width)
		groups[start] = append(groups[start], o)
	}

	buckets := make([]Bucket, 0, len(groups))
	for start, members := range groups {
		b := Bucket{
			Start:       start,
			TempC:       meanOf(members, func(o Observation) *float64 { return o.TempC }),
			Humidity:    meanOf(members, func(o Observation) *float64 { return o.Humidity }),
			PressureHPa: meanOf(members, func(o Observation) *float64 { return o.PressureHPa }),
			WindKmh:     meanOf(members, func(o Observation) *float64 { return o.WindKmh }),
			WindGustKmh: maxOf(members, gustOrSpeed),
			RainMm:      sumOf(members, func(o Observation) *float64 { return o.RainMm }),
		}
		buckets = append(buckets, b)
	}

	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Start.Before(buckets[j].Start) })
	return buckets
}

// gustOrSpeed is the per-sample gust fallback policy.
func gustOrSpeed(o Observation) *float64 {
	if o.WindGustKmh != nil {
		return o.WindGustKmh
	}
	return o.WindKmh
}

func meanOf(obs []Observation, field func(Observation) *float64) *float64 {
	var sum float64
	var n int
	for _, o := range obs {
		if v := field(o); v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	m := sum / float64(n)
	return &m
}

func maxOf(obs []Observation, field func(Observation) *float64) *float64 {
	var best *float64
	for _, o := range obs {
		v := field(o)
		if v == nil {
			continue
		}
		if best == nil || *v > *best {
			val := *v
			best = &val
		}
	}
	return best
}

func sumOf(obs []Observation, field func(Observation) *float64) *float64 {
	var sum float64
	var n int
	for _, o := range obs {
		if v := field(o); v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return &sum
}
