package quant

import (
	"math"

	"github.com/specphone/specphone/internal/absorbance"
	"github.com/specphone/specphone/internal/calibration"
	"github.com/specphone/specphone/internal/spectrum"
)

// tTable holds two-sided 95% Student t quantiles by degrees of freedom.
var tTable = []struct {
	df int
	t  float64
}{
	{1, 12.706}, {2, 4.303}, {3, 3.182}, {4, 2.776}, {5, 2.571},
	{6, 2.447}, {7, 2.365}, {8, 2.306}, {9, 2.262}, {10, 2.228},
	{11, 2.201}, {12, 2.179}, {13, 2.160}, {14, 2.145}, {15, 2.131},
	{16, 2.120}, {17, 2.110}, {18, 2.101}, {19, 2.093}, {20, 2.086},
	{21, 2.080}, {22, 2.074}, {23, 2.069}, {24, 2.064}, {25, 2.060},
	{26, 2.056}, {27, 2.052}, {28, 2.048}, {29, 2.045}, {30, 2.042},
	{40, 2.021}, {60, 2.000}, {120, 1.980},
}

// TQuantile975 returns t(0.975, df). Between table rows the smaller df is
// used, which widens the interval. Beyond 120 it is 1.96. df < 1 returns NaN.
func TQuantile975(df int) float64 {
	if df < 1 {
		return math.NaN()
	}
	t := 1.96
	for i := len(tTable) - 1; i >= 0; i-- {
		if df >= tTable[i].df {
			if i == len(tTable)-1 && df > tTable[i].df {
				return t
			}
			return tTable[i].t
		}
	}
	return t
}

// ConfidenceInterval returns the 95% interval for a concentration inverted
// from the curve. The variance follows first-order propagation through
// C = (y0 - b)/m:
//
//	s_C^2 = (s_y0^2 + s_b^2 + C^2*s_m^2 + 2*C*cov(b,m)) / m^2
//
// with cov(b,m) = -xmean*s_m^2 and s_y0 = aSD/sqrt(replicates). It returns
// nil when s_m, s_b or aSD are missing, or when the curve has fewer than
// three standards.
func ConfidenceInterval(c, aSD float64, replicates int, curve *calibration.Curve) *Interval {
	if curve == nil || curve.SM == nil || curve.SB == nil || !curve.Invertible() {
		return nil
	}
	if math.IsNaN(aSD) || math.IsInf(aSD, 0) || aSD < 0 || math.IsNaN(c) {
		return nil
	}
	t := TQuantile975(curve.N - 2)
	if math.IsNaN(t) {
		return nil
	}
	if replicates < 1 {
		replicates = 1
	}

	sy0 := aSD / math.Sqrt(float64(replicates))
	sm, sb, m := *curve.SM, *curve.SB, curve.Slope
	cov := -curve.XMean * sm * sm

	variance := (sy0*sy0 + sb*sb + c*c*sm*sm + 2*c*cov) / (m * m)
	if variance < 0 {
		// Only reachable through rounding; the exact expression is a sum of squares.
		variance = 0
	}
	half := t * math.Sqrt(variance)
	return &Interval{Low: c - half, High: c + half}
}

// Saturated reports whether any raw intensity lies below lowPct or above
// highPct of fullScale.
func Saturated(raw []spectrum.Matrix, lowPct, highPct, fullScale float64) bool {
	lo := lowPct / 100 * fullScale
	hi := highPct / 100 * fullScale
	for _, m := range raw {
		for _, row := range m {
			for _, v := range row {
				if v < lo || v > hi {
					return true
				}
			}
		}
	}
	return false
}

// Drifted reports whether the mean of ref2 differs from the mean of ref by
// more than tolerancePct percent. Empty inputs never drift.
func Drifted(ref, ref2 []float64, tolerancePct float64) bool {
	if len(ref) == 0 || len(ref2) == 0 {
		return false
	}
	m1, _ := absorbance.Stats(ref)
	m2, _ := absorbance.Stats(ref2)
	if math.Abs(m1) < 1e-12 {
		return math.Abs(m2-m1) > 1e-12
	}
	return math.Abs(m2-m1)/math.Abs(m1)*100 > tolerancePct
}

// CountOutliers counts values further than sigma standard deviations from
// the mean. Fewer than three values, or zero spread, yields zero.
func CountOutliers(values []float64, sigma float64) int {
	if len(values) < 3 {
		return 0
	}
	mean, sd := absorbance.Stats(values)
	if sd == 0 || math.IsNaN(sd) {
		return 0
	}
	n := 0
	for _, v := range values {
		if math.Abs(v-mean) > sigma*sd {
			n++
		}
	}
	return n
}
