package calibration

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func abs(v float64) *float64 { return &v }

func standards(pairs ...[2]float64) []Standard {
	out := make([]Standard, len(pairs))
	for i, p := range pairs {
		out[i] = Standard{Concentration: p[0], Absorbance: abs(p[1])}
	}
	return out
}

func TestFitFiveStandards(t *testing.T) {
	curve := Fit(standards(
		[2]float64{0, 0.00},
		[2]float64{1, 0.10},
		[2]float64{2, 0.20},
		[2]float64{3, 0.31},
		[2]float64{4, 0.39},
	))
	require.NotNil(t, curve)

	assert.InDelta(t, 0.099, curve.Slope, 1e-12)
	assert.InDelta(t, 0.002, curve.Intercept, 1e-12)
	assert.Greater(t, curve.R2, 0.998)
	assert.InDelta(t, 1-0.00019/0.0982, curve.R2, 1e-9)
	assert.InDelta(t, math.Sqrt(0.00019/3), curve.SEE, 1e-12)
	assert.Equal(t, 5, curve.N)
	assert.InDelta(t, 2.0, curve.XMean, 0)

	require.NotNil(t, curve.SM)
	require.NotNil(t, curve.SB)
	assert.InDelta(t, curve.SEE/math.Sqrt(10), *curve.SM, 1e-12)
	assert.InDelta(t, curve.SEE*math.Sqrt(30.0/50.0), *curve.SB, 1e-12)

	require.NotNil(t, curve.LOD)
	require.NotNil(t, curve.LOQ)
	assert.InDelta(t, 3*curve.SEE/0.099, *curve.LOD, 1e-12)
	assert.InDelta(t, 10*curve.SEE/0.099, *curve.LOQ, 1e-12)

	require.NotNil(t, curve.ValidRange)
	assert.Equal(t, Range{Min: 0, Max: 4}, *curve.ValidRange)
}

func TestFitRecoversNoiselessLine(t *testing.T) {
	tests := []struct {
		name string
		m, b float64
	}{
		{"positive slope", 0.25, 0.01},
		{"negative slope", -0.8, 1.2},
		{"zero intercept", 1.5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var in []Standard
			for _, c := range []float64{0.5, 1, 2, 4, 8} {
				in = append(in, Standard{Concentration: c, Absorbance: abs(tt.m*c + tt.b)})
			}
			curve := Fit(in)
			require.NotNil(t, curve)
			assert.InDelta(t, tt.m, curve.Slope, 1e-12)
			assert.InDelta(t, tt.b, curve.Intercept, 1e-12)
			assert.InDelta(t, 1.0, curve.R2, 1e-12)
			assert.InDelta(t, 0.0, curve.SEE, 1e-9)
		})
	}
}

func TestFitDegenerateInputs(t *testing.T) {
	tests := []struct {
		name string
		in   []Standard
	}{
		{"no standards", nil},
		{"one standard", standards([2]float64{1, 0.1})},
		{"identical concentrations", standards([2]float64{2, 0.1}, [2]float64{2, 0.2}, [2]float64{2, 0.3})},
		{"only one valid absorbance", []Standard{
			{Concentration: 1, Absorbance: abs(0.1)},
			{Concentration: 2},
			{Concentration: 3, Absorbance: abs(math.NaN())},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, Fit(tt.in))
		})
	}
}

func TestFitSkipsInvalidStandards(t *testing.T) {
	in := standards([2]float64{0, 0}, [2]float64{1, 0.1}, [2]float64{2, 0.2})
	in = append(in, Standard{Concentration: 10})

	curve := Fit(in)
	require.NotNil(t, curve)
	assert.Equal(t, 3, curve.N)
	assert.Equal(t, Range{Min: 0, Max: 2}, *curve.ValidRange)
}

func TestFitTwoPointsUsesSEEFloor(t *testing.T) {
	curve := Fit(standards([2]float64{1, 0.1}, [2]float64{3, 0.3}))
	require.NotNil(t, curve)
	assert.InDelta(t, 0.0, curve.SEE, 1e-15)
	assert.InDelta(t, 1.0, curve.R2, 1e-12)
}

func TestFitFlatResponse(t *testing.T) {
	curve := Fit(standards([2]float64{1, 0.25}, [2]float64{2, 0.25}, [2]float64{3, 0.25}))
	require.NotNil(t, curve)

	assert.InDelta(t, 0.0, curve.Slope, 0)
	assert.InDelta(t, 1.0, curve.R2, 0, "R² is 1 when all absorbances are identical")
	assert.Nil(t, curve.LOD)
	assert.Nil(t, curve.LOQ)
	assert.False(t, curve.Invertible())

	_, ok := curve.Invert(0.25)
	assert.False(t, ok)
}

func TestFitIsDeterministic(t *testing.T) {
	in := standards([2]float64{0.1, 0.013}, [2]float64{0.7, 0.071}, [2]float64{1.3, 0.129}, [2]float64{2.9, 0.297})
	a := Fit(in)
	b := Fit(in)
	require.NotNil(t, a)
	assert.Equal(t, *a, *b)
}

func TestPredictAndInvert(t *testing.T) {
	curve := Fit(standards([2]float64{0, 0.002}, [2]float64{1, 0.101}, [2]float64{2, 0.2}))
	require.NotNil(t, curve)

	for _, c0 := range []float64{0.3, 1.7, 5} {
		c, ok := curve.Invert(curve.Predict(c0))
		require.True(t, ok)
		assert.InDelta(t, c0, c, 1e-9)
	}
}

func TestCheck(t *testing.T) {
	curve := &Curve{Slope: 0.1, R2: 0.95, N: 2}

	notes := curve.Check(0.99, 3)
	require.Len(t, notes, 2)
	assert.Contains(t, notes[0], "0.9500")
	assert.Contains(t, notes[1], "2 standards")

	good := &Curve{Slope: 0.1, R2: 0.999, N: 5}
	assert.Empty(t, good.Check(0.99, 3))
}

func TestRangeContainsIsInclusive(t *testing.T) {
	r := Range{Min: 1, Max: 4}
	assert.True(t, r.Contains(1))
	assert.True(t, r.Contains(4))
	assert.True(t, r.Contains(2.5))
	assert.False(t, r.Contains(0.999))
	assert.False(t, r.Contains(4.001))
}
