// Package calibration fits linear absorbance-concentration calibration curves
// by ordinary least squares and stores accepted curves.
package calibration

import (
	"fmt"
	"math"
)

const componentName = "calibration"

const (
	// degenerateEpsilon bounds |n*Sxx - Sx^2| below which the fit is undefined.
	degenerateEpsilon = 1e-12
	// slopeEpsilon bounds |m| below which a curve cannot be inverted.
	slopeEpsilon = 1e-12
)

// Standard is one calibration point. A nil absorbance marks a standard whose
// reading was invalid; it is excluded from the fit.
type Standard struct {
	Concentration float64  `json:"concentration"`
	Absorbance    *float64 `json:"absorbance"`
}

// Range is an inclusive concentration interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether c lies in [Min, Max].
func (r Range) Contains(c float64) bool {
	return c >= r.Min && c <= r.Max
}

// Curve is the OLS line A = Slope*C + Intercept with its uncertainty.
type Curve struct {
	Slope      float64  `json:"slope"`
	Intercept  float64  `json:"intercept"`
	R2         float64  `json:"r2"`
	SEE        float64  `json:"see"`
	SM         *float64 `json:"s_m,omitempty"`
	SB         *float64 `json:"s_b,omitempty"`
	LOD        *float64 `json:"lod,omitempty"`
	LOQ        *float64 `json:"loq,omitempty"`
	ValidRange *Range   `json:"valid_range,omitempty"`
	N          int      `json:"n"`
	XMean      float64  `json:"x_mean"`
}

// Clone returns a deep copy of c.
func (c *Curve) Clone() Curve {
	out := *c
	out.SM = clonePtr(c.SM)
	out.SB = clonePtr(c.SB)
	out.LOD = clonePtr(c.LOD)
	out.LOQ = clonePtr(c.LOQ)
	out.ValidRange = clonePtr(c.ValidRange)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Predict returns the absorbance expected at concentration c.
func (c *Curve) Predict(conc float64) float64 {
	return c.Slope*conc + c.Intercept
}

// Invertible reports whether the slope is large enough to solve for C.
func (c *Curve) Invertible() bool {
	return c != nil && math.Abs(c.Slope) >= slopeEpsilon
}

// Invert returns the concentration for absorbance a. ok is false when the
// slope is approximately zero.
func (c *Curve) Invert(a float64) (conc float64, ok bool) {
	if !c.Invertible() {
		return math.NaN(), false
	}
	return (a - c.Intercept) / c.Slope, true
}

// Check returns acceptance notes for the curve. An empty result means the
// curve meets both thresholds.
func (c *Curve) Check(minR2 float64, minStandards int) []string {
	var notes []string
	if c.R2 < minR2 {
		notes = append(notes, fmt.Sprintf("curve R² %.4f below minimum %.4f", c.R2, minR2))
	}
	if c.N < minStandards {
		notes = append(notes, fmt.Sprintf("curve built from %d standards, minimum is %d", c.N, minStandards))
	}
	if !c.Invertible() {
		notes = append(notes, "curve slope is zero")
	}
	return notes
}

// Fit computes the OLS calibration curve. It returns nil when fewer than two
// standards carry a finite absorbance or when the concentrations are
// degenerate (|n*Sxx - Sx^2| < 1e-12). Fit is pure and deterministic.
func Fit(standards []Standard) *Curve {
	xs := make([]float64, 0, len(standards))
	ys := make([]float64, 0, len(standards))
	for _, s := range standards {
		if s.Absorbance == nil || !finite(*s.Absorbance) || !finite(s.Concentration) {
			continue
		}
		xs = append(xs, s.Concentration)
		ys = append(ys, *s.Absorbance)
	}

	n := len(xs)
	if n < 2 {
		return nil
	}
	nf := float64(n)

	var sx, sy, sxx, sxy float64
	for i := range xs {
		sx += xs[i]
		sy += ys[i]
		sxx += xs[i] * xs[i]
		sxy += xs[i] * ys[i]
	}

	denom := nf*sxx - sx*sx
	if math.Abs(denom) < degenerateEpsilon {
		return nil
	}

	m := (nf*sxy - sx*sy) / denom
	b := (sy - m*sx) / nf
	yMean := sy / nf
	xMean := sx / nf

	var ssRes, ssTot float64
	for i := range xs {
		r := ys[i] - (m*xs[i] + b)
		ssRes += r * r
		d := ys[i] - yMean
		ssTot += d * d
	}

	r2 := 1.0
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}
	see := math.Sqrt(ssRes / math.Max(1, nf-2))

	// Centered sum of squares; equals denom/n.
	sxxc := denom / nf
	sm := see / math.Sqrt(sxxc)
	sb := see * math.Sqrt(sxx/(nf*sxxc))

	curve := &Curve{
		Slope:     m,
		Intercept: b,
		R2:        r2,
		SEE:       see,
		SM:        &sm,
		SB:        &sb,
		N:         n,
		XMean:     xMean,
		ValidRange: &Range{
			Min: minOf(xs),
			Max: maxOf(xs),
		},
	}
	if m != 0 {
		lod := 3 * see / math.Abs(m)
		loq := 10 * see / math.Abs(m)
		curve.LOD = &lod
		curve.LOQ = &loq
	}
	return curve
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func minOf(v []float64) float64 {
	out := v[0]
	for _, x := range v[1:] {
		out = min(out, x)
	}
	return out
}

func maxOf(v []float64) float64 {
	out := v[0]
	for _, x := range v[1:] {
		out = max(out, x)
	}
	return out
}
