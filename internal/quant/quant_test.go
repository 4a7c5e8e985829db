package quant

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specphone/specphone/internal/absorbance"
	"github.com/specphone/specphone/internal/calibration"
	"github.com/specphone/specphone/internal/device"
	"github.com/specphone/specphone/internal/spectrum"
)

func ptr(v float64) *float64 { return &v }

func fitCurve(t *testing.T, pairs ...[2]float64) *calibration.Curve {
	t.Helper()
	in := make([]calibration.Standard, len(pairs))
	for i, p := range pairs {
		in[i] = calibration.Standard{Concentration: p[0], Absorbance: ptr(p[1])}
	}
	curve := calibration.Fit(in)
	require.NotNil(t, curve)
	return curve
}

func noisyCurve(t *testing.T) *calibration.Curve {
	return fitCurve(t,
		[2]float64{0, 0.00},
		[2]float64{1, 0.10},
		[2]float64{2, 0.20},
		[2]float64{3, 0.31},
		[2]float64{4, 0.39},
	)
}

func TestTQuantile975(t *testing.T) {
	tests := []struct {
		df   int
		want float64
	}{
		{1, 12.706},
		{3, 3.182},
		{30, 2.042},
		{35, 2.042},
		{40, 2.021},
		{120, 1.980},
		{121, 1.96},
		{10000, 1.96},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, TQuantile975(tt.df), 0, "df=%d", tt.df)
	}
	assert.True(t, math.IsNaN(TQuantile975(0)))
}

func TestConfidenceIntervalMatchesClassicalFormula(t *testing.T) {
	curve := noisyCurve(t)
	c0 := 2.7
	replicates := 4

	ci := ConfidenceInterval(c0, curve.SEE, replicates, curve)
	require.NotNil(t, ci)

	// s_C = SEE/|m| * sqrt(1/k + 1/n + (C-xmean)^2/Sxx), Sxx = 10 for 0..4.
	sC := curve.SEE / math.Abs(curve.Slope) * math.Sqrt(1.0/4+1.0/5+(c0-2)*(c0-2)/10)
	half := 3.182 * sC

	assert.InDelta(t, c0-half, ci.Low, 1e-12)
	assert.InDelta(t, c0+half, ci.High, 1e-12)
}

func TestConfidenceIntervalOmitted(t *testing.T) {
	twoPoint := fitCurve(t, [2]float64{1, 0.1}, [2]float64{2, 0.2})
	assert.Nil(t, ConfidenceInterval(1.5, 0.01, 1, twoPoint), "no degrees of freedom")

	curve := noisyCurve(t)
	assert.Nil(t, ConfidenceInterval(1.5, math.NaN(), 1, curve))
	assert.Nil(t, ConfidenceInterval(1.5, 0.01, 1, nil))

	noSM := *curve
	noSM.SM = nil
	assert.Nil(t, ConfidenceInterval(1.5, 0.01, 1, &noSM))
}

func TestSaturated(t *testing.T) {
	ok := spectrum.Matrix{{100, 120}, {150, 200}}
	low := spectrum.Matrix{{100, 20}}
	high := spectrum.Matrix{{240, 100}}

	assert.False(t, Saturated([]spectrum.Matrix{ok}, 12, 90, 255))
	assert.True(t, Saturated([]spectrum.Matrix{ok, low}, 12, 90, 255))
	assert.True(t, Saturated([]spectrum.Matrix{high}, 12, 90, 255))
	assert.False(t, Saturated(nil, 12, 90, 255))
}

func TestDrifted(t *testing.T) {
	ref := []float64{100, 100, 100}
	assert.False(t, Drifted(ref, []float64{101, 101}, 2))
	assert.True(t, Drifted(ref, []float64{103}, 2))
	assert.True(t, Drifted(ref, []float64{97}, 2))
	assert.False(t, Drifted(ref, nil, 2))
	assert.False(t, Drifted(nil, ref, 2))
}

func TestCountOutliers(t *testing.T) {
	values := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 5}
	assert.Equal(t, 1, CountOutliers(values, 2.5))
	assert.Equal(t, 0, CountOutliers(values, 3))
	assert.Equal(t, 0, CountOutliers([]float64{1, 1, 1, 1}, 2.5))
	assert.Equal(t, 0, CountOutliers([]float64{1, 9}, 0.1))
}

func TestQuantifyInvertsReading(t *testing.T) {
	curve := noisyCurve(t)
	c0 := 2.5
	reading := absorbance.Reading{
		Mean:   curve.Predict(c0),
		SD:     0.002,
		CV:     ptr(1),
		N:      11,
		Frames: 10,
		Valid:  true,
	}

	res := Quantify(reading, curve, DefaultParams(), Evidence{})

	require.NotNil(t, res.C)
	assert.InDelta(t, c0, *res.C, 1e-9)
	assert.True(t, res.QA.InRange)
	assert.False(t, res.QA.Saturation)
	assert.False(t, res.QA.Drift)
	assert.Zero(t, res.QA.Outliers)

	require.NotNil(t, res.CI95)
	assert.Less(t, res.CI95.Low, c0)
	assert.Greater(t, res.CI95.High, c0)
	assert.InDelta(t, c0-res.CI95.Low, res.CI95.High-c0, 1e-12)
	assert.Equal(t, 11, res.N)
}

func TestQuantifyOutsideCalibratedRange(t *testing.T) {
	curve := noisyCurve(t)
	reading := absorbance.Reading{Mean: curve.Predict(6), SD: 0.001, N: 5, Valid: true}

	res := Quantify(reading, curve, DefaultParams(), Evidence{})
	require.NotNil(t, res.C)
	assert.InDelta(t, 6, *res.C, 1e-9)
	assert.False(t, res.QA.InRange)
	assert.Contains(t, res.QA.Notes, "concentration outside calibrated range")
}

func TestQuantifyZeroSlope(t *testing.T) {
	flat := fitCurve(t, [2]float64{1, 0.25}, [2]float64{2, 0.25}, [2]float64{3, 0.25})
	reading := absorbance.Reading{Mean: 0.25, SD: 0.001, N: 5, Valid: true}

	res := Quantify(reading, flat, DefaultParams(), Evidence{})
	assert.Nil(t, res.C)
	assert.Nil(t, res.CI95)
	assert.False(t, res.QA.InRange)
	assert.Contains(t, res.QA.Notes, "curve slope is zero")
}

func TestQuantifyInvalidReading(t *testing.T) {
	reading := absorbance.Reading{Mean: math.NaN(), SD: math.NaN(), N: 5, Rejected: 2}

	res := Quantify(reading, noisyCurve(t), DefaultParams(), Evidence{})
	assert.False(t, res.Valid)
	assert.Nil(t, res.C)
	require.NotEmpty(t, res.QA.Notes)
	assert.Contains(t, res.QA.Notes[len(res.QA.Notes)-1], "2 point(s)")
}

func TestQuantifyWithoutCurve(t *testing.T) {
	reading := absorbance.Reading{Mean: 0.3, SD: 0.001, N: 5, Valid: true}

	res := Quantify(reading, nil, DefaultParams(), Evidence{})
	assert.Nil(t, res.C)
	assert.InDelta(t, 0.3, res.AMean, 0)
	assert.Contains(t, res.QA.Notes, "no calibration curve")
}

func TestQuantifyFlagsAreIndependent(t *testing.T) {
	curve := noisyCurve(t)
	reading := absorbance.Reading{Mean: curve.Predict(2), SD: 0.01, N: 5, Frames: 10, Valid: true}
	ev := Evidence{
		Frames:     []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 5},
		Raw:        []spectrum.Matrix{{{250, 100}}},
		Reference:  []float64{100},
		Reference2: []float64{110},
	}

	res := Quantify(reading, curve, DefaultParams(), ev)
	assert.True(t, res.QA.Saturation)
	assert.True(t, res.QA.Drift)
	assert.Equal(t, 1, res.QA.Outliers)
	require.NotNil(t, res.C, "flags never suppress the concentration")
	assert.True(t, res.QA.InRange)
	assert.ElementsMatch(t, []string{"saturation", "drift", "outliers"}, res.QA.Flags())
}

func TestQuantifyLinearRangeNote(t *testing.T) {
	curve := noisyCurve(t)
	reading := absorbance.Reading{Mean: 0.02, SD: 0.001, N: 5, Valid: true}

	res := Quantify(reading, curve, DefaultParams(), Evidence{})
	require.NotEmpty(t, res.QA.Notes)
	assert.Contains(t, res.QA.Notes[0], "outside linear range")
}

func TestResultMarshalJSONNulls(t *testing.T) {
	res := Result{AMean: math.NaN(), ASD: math.Inf(1), N: 3}

	data, err := json.Marshal(res)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Nil(t, raw["a_mean"])
	assert.Nil(t, raw["a_sd"])
	assert.Nil(t, raw["c"])
	assert.Nil(t, raw["ci95"])
	assert.Equal(t, []any{}, raw["qa"].(map[string]any)["notes"])

	var back Result
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, math.IsNaN(back.AMean))
	assert.Equal(t, 3, back.N)
}

func TestResultScaled(t *testing.T) {
	res := Result{C: ptr(2), CI95: &Interval{Low: 1.5, High: 2.5}}

	scaled := res.Scaled(10)
	assert.InDelta(t, 20, *scaled.C, 0)
	assert.Equal(t, Interval{Low: 15, High: 25}, *scaled.CI95)
	assert.InDelta(t, 2, *res.C, 0, "original untouched")

	assert.Equal(t, res, res.Scaled(0))
	assert.Equal(t, res, res.Scaled(math.NaN()))
}

// burst returns n frames of width columns, each filled with fill(frame).
func burst(n, width int, fill func(frame int) float64) spectrum.Matrix {
	m := make(spectrum.Matrix, n)
	for k := range m {
		row := make([]float64, width)
		v := fill(k)
		for j := range row {
			row[j] = v
		}
		m[k] = row
	}
	return m
}

// analyzeBursts prepares the references of b and measures its sample.
func analyzeBursts(b Bursts, p2w device.PixelToWavelength, curve *calibration.Curve, p Params) (*Analysis, error) {
	refs, err := PrepareReferences(b, p2w, p.ResamplePoints)
	if err != nil {
		return nil, err
	}
	return AnalyzeSample(refs, b.Sample, curve, p)
}

func TestAnalyzeEndToEnd(t *testing.T) {
	const width = 301
	p2w := device.PixelToWavelength{A0: 500, A1: 0.25}
	params := DefaultParams()
	params.ResamplePoints = width

	const dark, ref = 10.0, 200.0
	target := []float64{0.198, 0.202}
	b := Bursts{
		Dark:      burst(10, width, func(int) float64 { return dark }),
		Reference: burst(10, width, func(int) float64 { return ref }),
		Sample: burst(10, width, func(k int) float64 {
			return dark + (ref-dark)*math.Pow(10, -target[k%2])
		}),
	}
	curve := fitCurve(t, [2]float64{0, 0}, [2]float64{1, 0.1}, [2]float64{2, 0.2}, [2]float64{3, 0.3}, [2]float64{4, 0.4})

	out, err := analyzeBursts(b, p2w, curve, params)
	require.NoError(t, err)

	assert.Len(t, out.Points, width)
	assert.Len(t, out.Frames, 10)
	assert.True(t, out.Reading.Valid)
	assert.Equal(t, 41, out.Reading.N, "535-545 nm at 0.25 nm steps")
	assert.InDelta(t, 0.2, out.Result.AMean, 1e-3)
	assert.InDelta(t, 0.002, out.Result.ASD, 2e-4)

	require.NotNil(t, out.Result.C)
	assert.InDelta(t, 2.0, *out.Result.C, 0.01)
	assert.True(t, out.Result.QA.InRange)
	assert.False(t, out.Result.QA.Saturation)
	assert.False(t, out.Result.QA.Drift)
}

func TestAnalyzeDetectsDrift(t *testing.T) {
	const width = 64
	p2w := device.PixelToWavelength{A0: 500, A1: 1}
	params := DefaultParams()
	params.ResamplePoints = width

	b := Bursts{
		Dark:       burst(3, width, func(int) float64 { return 10 }),
		Reference:  burst(3, width, func(int) float64 { return 200 }),
		Sample:     burst(3, width, func(int) float64 { return 130 }),
		Reference2: burst(3, width, func(int) float64 { return 215 }),
	}

	out, err := analyzeBursts(b, p2w, nil, params)
	require.NoError(t, err)
	assert.True(t, out.Result.QA.Drift)
	assert.Nil(t, out.Result.C)
}

func TestAnalyzeRequiresBursts(t *testing.T) {
	p2w := device.PixelToWavelength{A0: 500, A1: 1}

	_, err := analyzeBursts(Bursts{Sample: burst(1, 4, func(int) float64 { return 1 })}, p2w, nil, DefaultParams())
	require.Error(t, err)

	refs := &References{Lambda: []float64{1}, Dark: []float64{0}, Reference: []float64{1}}
	_, err = AnalyzeSample(refs, nil, nil, DefaultParams())
	require.Error(t, err)

	_, err = AnalyzeSample(nil, burst(1, 1, func(int) float64 { return 1 }), nil, DefaultParams())
	require.Error(t, err)
}

func TestSingleClippedReferenceFrameIsSaturation(t *testing.T) {
	const width = 64
	p2w := device.PixelToWavelength{A0: 500, A1: 1}
	params := DefaultParams()
	params.ResamplePoints = width

	ref := burst(10, width, func(int) float64 { return 200 })
	ref[4][40] = 250
	b := Bursts{
		Dark:      burst(10, width, func(int) float64 { return 40 }),
		Reference: ref,
		Sample:    burst(10, width, func(int) float64 { return 120 }),
	}

	refs, err := PrepareReferences(b, p2w, width)
	require.NoError(t, err)
	assert.InDelta(t, 205, refs.Reference[40], 1e-9, "the clipped frame is averaged away")
	require.Len(t, refs.RawRef, 2)
	assert.InDelta(t, 250, refs.RawRef[1][40], 0)

	out, err := AnalyzeSample(refs, b.Sample, nil, params)
	require.NoError(t, err)
	assert.True(t, out.Result.QA.Saturation)

	ref[4][40] = 200
	out, err = analyzeBursts(b, p2w, nil, params)
	require.NoError(t, err)
	assert.False(t, out.Result.QA.Saturation)
}

func TestParamsMerge(t *testing.T) {
	base := DefaultParams()
	merged := base.Merge(Params{DriftTolerancePct: 50, SaturationHighPct: 95, ResamplePoints: 512})

	assert.InDelta(t, 50, merged.DriftTolerancePct, 0)
	assert.Equal(t, 512, merged.ResamplePoints)
	assert.InDelta(t, 0, merged.SaturationLowPct, 0, "saturation guards travel as a pair")
	assert.InDelta(t, 95, merged.SaturationHighPct, 0)
	assert.InDelta(t, base.TargetWavelength, merged.TargetWavelength, 0)
	assert.InDelta(t, base.OutlierSigma, merged.OutlierSigma, 0)
	assert.Equal(t, base, base.Merge(Params{}))
}

func TestParamsWithDefaults(t *testing.T) {
	p := Params{TargetWavelength: 620}.WithDefaults()
	assert.InDelta(t, 620, p.TargetWavelength, 0)
	assert.Equal(t, DefaultParams().Frames, p.Frames)
	assert.InDelta(t, DefaultParams().OutlierSigma, p.OutlierSigma, 0)
}
