package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTemperature(t *testing.T) {
	t.Run("fahrenheit hint", func(t *testing.T) {
		v, ok := NormalizeTemperature(70.5, "F")
		require.True(t, ok)
		assert.InDelta(t, 21.39, v, 0.01)
	})

	t.Run("kelvin hint", func(t *testing.T) {
		v, ok := NormalizeTemperature(293.15, "K")
		require.True(t, ok)
		assert.InDelta(t, 20.0, v, 1e-9)
	})

	t.Run("no hint passes through", func(t *testing.T) {
		v, ok := NormalizeTemperature(21.4, "")
		require.True(t, ok)
		assert.Equal(t, 21.4, v)
	})
}

func TestReclassifyKelvin(t *testing.T) {
	t.Run("kelvin-like batch is shifted", func(t *testing.T) {
		obs := []Observation{
			{TempC: Float(283.15)},
			{TempC: Float(285.15)},
			{TempC: Float(287.15)},
		}
		ReclassifyKelvin(obs)
		assert.InDelta(t, 10.0, *obs[0].TempC, 1e-9)
		assert.InDelta(t, 14.0, *obs[2].TempC, 1e-9)
	})

	t.Run("celsius batch untouched", func(t *testing.T) {
		obs := []Observation{{TempC: Float(18.5)}, {TempC: Float(21.0)}}
		ReclassifyKelvin(obs)
		assert.Equal(t, 18.5, *obs[0].TempC)
	})

	t.Run("nil temperatures ignored", func(t *testing.T) {
		obs := []Observation{{}, {TempC: Float(290.0)}, {TempC: Float(292.0)}}
		ReclassifyKelvin(obs)
		assert.Nil(t, obs[0].TempC)
		assert.InDelta(t, 16.85, *obs[1].TempC, 1e-9)
	})
}

func TestNormalizePressure(t *testing.T) {
	t.Run("explicit hints", func(t *testing.T) {
		cases := []struct {
			name string
			v    float64
			unit string
			want float64
		}{
			{name: "inHg", v: 29.92, unit: "inHg", want: 29.92 * 33.8638866667},
			{name: "Pa", v: 101300, unit: "Pa", want: 1013},
			{name: "kPa", v: 101.3, unit: "kPa", want: 1013},
			{name: "hPa", v: 1013, unit: "hPa", want: 1013},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				v, ok := NormalizePressure(tc.v, tc.unit)
				require.True(t, ok)
				assert.InDelta(t, tc.want, v, 1e-6)
			})
		}
	})

	t.Run("hintless inference converges to plausible hPa", func(t *testing.T) {
		for _, raw := range []float64{930, 9300, 93000, 101.3, 30} {
			v, ok := NormalizePressure(raw, "")
			require.True(t, ok, "input %v", raw)
			assert.GreaterOrEqual(t, v, 800.0, "input %v", raw)
			assert.LessOrEqual(t, v, 1100.0, "input %v", raw)
		}
	})

	t.Run("hintless inHg-band values convert by factor", func(t *testing.T) {
		for _, tc := range []struct{ raw, want float64 }{
			{raw: 29.92, want: 29.92 * 33.8638866667},
			{raw: 30, want: 30 * 33.8638866667},
		} {
			v, ok := NormalizePressure(tc.raw, "")
			require.True(t, ok, "input %v", tc.raw)
			assert.InDelta(t, tc.want, v, 1e-6, "input %v", tc.raw)
		}
	})

	t.Run("hopeless value is unconvertible", func(t *testing.T) {
		_, ok := NormalizePressure(3, "")
		assert.False(t, ok)
	})
}

func TestNormalizeWindSpeed(t *testing.T) {
	t.Run("m/s", func(t *testing.T) {
		v, ok := NormalizeWindSpeed(10, "m/s")
		require.True(t, ok)
		assert.Equal(t, 36.0, v)
	})

	t.Run("mph", func(t *testing.T) {
		v, ok := NormalizeWindSpeed(10, "mph")
		require.True(t, ok)
		assert.InDelta(t, 16.0934, v, 1e-6)
	})

	t.Run("knots", func(t *testing.T) {
		v, ok := NormalizeWindSpeed(10, "kts")
		require.True(t, ok)
		assert.InDelta(t, 18.52, v, 1e-6)
	})

	t.Run("beaufort lookup", func(t *testing.T) {
		v, ok := NormalizeWindSpeed(4, "bft")
		require.True(t, ok)
		assert.Equal(t, 19.0, v)

		v, ok = NormalizeWindSpeed(99, "bft")
		require.True(t, ok)
		assert.Equal(t, 117.0, v) // clamped to the top of the scale
	})

	t.Run("no hint assumes km/h", func(t *testing.T) {
		v, ok := NormalizeWindSpeed(22.5, "")
		require.True(t, ok)
		assert.Equal(t, 22.5, v)
	})
}

func TestNormalizePrecipitation(t *testing.T) {
	v, ok := NormalizePrecipitation(0.5, "in")
	require.True(t, ok)
	assert.Equal(t, 12.7, v)

	v, ok = NormalizePrecipitation(3.2, "")
	require.True(t, ok)
	assert.Equal(t, 3.2, v)
}

func TestParseDecimal(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{in: "1234.5", want: 1234.5, ok: true},
		{in: "1.234,5", want: 1234.5, ok: true},
		{in: "1,234.5", want: 1234.5, ok: true},
		{in: "1,5", want: 1.5, ok: true},
		{in: "1.234.567", want: 1234567, ok: true},
		{in: "1,234,567", want: 1234567, ok: true},
		{in: " 12 ", want: 12, ok: true},
		{in: "", ok: false},
		{in: "n/a", ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			v, ok := ParseDecimal(tc.in)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, v)
			}
		})
	}
}
