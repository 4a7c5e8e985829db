// Package absorbance converts dark, reference and sample intensities into
// absorbance, pointwise and averaged over a wavelength window.
//
// A point is only valid when both the dark-corrected sample and reference
// intensities are positive. Invalid points are tagged and never coerced to
// zero, since zero reads as "no absorbance" downstream.
package absorbance

import (
	"encoding/json"
	"math"

	"github.com/specphone/specphone/internal/errors"
)

const componentName = "absorbance"

// meanEpsilon is the magnitude below which a mean is treated as zero and CV
// is undefined.
const meanEpsilon = 1e-12

// Point is the absorbance at one wavelength.
type Point struct {
	Lambda float64
	Value  float64
	Valid  bool
}

type pointJSON struct {
	Lambda     float64  `json:"lambda"`
	Absorbance *float64 `json:"absorbance"`
}

// MarshalJSON emits "absorbance": null for invalid points.
func (p Point) MarshalJSON() ([]byte, error) {
	out := pointJSON{Lambda: p.Lambda}
	if p.Valid {
		v := p.Value
		out.Absorbance = &v
	}
	return json.Marshal(out)
}

// UnmarshalJSON treats a null absorbance as an invalid point.
func (p *Point) UnmarshalJSON(data []byte) error {
	var in pointJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*p = Point{Lambda: in.Lambda}
	if in.Absorbance != nil && !math.IsNaN(*in.Absorbance) {
		p.Value = *in.Absorbance
		p.Valid = true
	}
	return nil
}

// At computes the absorbance for single dark, reference and sample values.
func At(dark, ref, sample float64) (float64, bool) {
	s := sample - dark
	r := ref - dark
	if !(s > 0) || !(r > 0) {
		return math.NaN(), false
	}
	a := -math.Log10(s / r)
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return math.NaN(), false
	}
	return a, true
}

// Compute returns the absorbance at every wavelength. All inputs must have
// the same length.
func Compute(dark, ref, sample, lambda []float64) ([]Point, error) {
	if err := sameLength(dark, ref, sample, lambda); err != nil {
		return nil, err
	}

	points := make([]Point, len(lambda))
	for i := range lambda {
		v, ok := At(dark[i], ref[i], sample[i])
		points[i] = Point{Lambda: lambda[i], Value: v, Valid: ok}
	}
	return points, nil
}

func sameLength(vectors ...[]float64) error {
	n := len(vectors[0])
	for _, v := range vectors[1:] {
		if len(v) != n {
			lengths := make([]int, len(vectors))
			for i := range vectors {
				lengths[i] = len(vectors[i])
			}
			return errors.Newf("spectrum length mismatch %v", lengths).
				Component(componentName).
				Category(errors.CategoryDataIntegrity).
				Build()
		}
	}
	return nil
}

// WindowIndices returns the indices whose wavelength lies within
// [target-width/2, target+width/2]. When no grid point falls inside, the
// single nearest point is used. An empty grid yields nil.
func WindowIndices(lambda []float64, target, width float64) []int {
	if len(lambda) == 0 {
		return nil
	}
	half := math.Abs(width) / 2
	lo, hi := target-half, target+half

	var idx []int
	nearest, best := 0, math.Inf(1)
	for i, l := range lambda {
		if l >= lo && l <= hi {
			idx = append(idx, i)
		}
		if d := math.Abs(l - target); d < best {
			nearest, best = i, d
		}
	}
	if len(idx) == 0 {
		idx = []int{nearest}
	}
	return idx
}

// Stats returns the mean and sample standard deviation (n-1). A single value
// has zero deviation; no values yields NaN for both.
func Stats(values []float64) (mean, sd float64) {
	n := len(values)
	if n == 0 {
		return math.NaN(), math.NaN()
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(n)
	if n == 1 {
		return mean, 0
	}
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(n-1))
}

// CV returns 100*sd/|mean|, or nil when the mean is approximately zero.
func CV(mean, sd float64) *float64 {
	if math.IsNaN(mean) || math.Abs(mean) < meanEpsilon {
		return nil
	}
	cv := 100 * sd / math.Abs(mean)
	return &cv
}
