// Package spectrum handles bursts of intensity frames and the fixed-length
// spectra derived from them.
package spectrum

import (
	"math"

	"github.com/specphone/specphone/internal/errors"
)

const componentName = "spectrum"

// ErrRaggedBurst is returned when the frames of a burst differ in width.
var ErrRaggedBurst = errors.NewStd("ragged burst")

// ErrNonFinite is returned when a burst contains NaN or infinite intensities.
var ErrNonFinite = errors.NewStd("non-finite intensity")

// Stage identifies an acquisition stage.
type Stage string

const (
	StageDark       Stage = "dark"
	StageReference  Stage = "reference"
	StageSample     Stage = "sample"
	StageReference2 Stage = "reference2"
)

// Matrix is a burst: rows are repeated frames, columns are pixels.
type Matrix [][]float64

// Rows returns the frame count.
func (m Matrix) Rows() int { return len(m) }

// Width returns the pixel count of the first frame, or 0 for an empty burst.
func (m Matrix) Width() int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}

// Validate rejects ragged or empty frames and non-finite intensities.
func (m Matrix) Validate() error {
	if len(m) == 0 {
		return nil
	}
	width := len(m[0])
	for i, row := range m {
		if len(row) != width || len(row) == 0 {
			return errors.New(ErrRaggedBurst).
				Component(componentName).
				Category(errors.CategoryDataIntegrity).
				Context("row", i).
				Context("width", len(row)).
				Context("expected_width", width).
				Build()
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.New(ErrNonFinite).
					Component(componentName).
					Category(errors.CategoryDataIntegrity).
					Context("row", i).
					Context("column", j).
					Build()
			}
		}
	}
	return nil
}

// Columns returns a copy restricted to columns [lo, hi), clamped to the width.
func (m Matrix) Columns(lo, hi int) Matrix {
	out := make(Matrix, len(m))
	for i, row := range m {
		l, h := max(0, lo), min(len(row), hi)
		if l >= h {
			out[i] = []float64{}
			continue
		}
		out[i] = append([]float64(nil), row[l:h]...)
	}
	return out
}

// Clone returns a deep copy.
func (m Matrix) Clone() Matrix {
	if m == nil {
		return nil
	}
	out := make(Matrix, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// MinMax returns the smallest and largest intensity in the burst.
func (m Matrix) MinMax() (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, row := range m {
		for _, v := range row {
			lo = min(lo, v)
			hi = max(hi, v)
			ok = true
		}
	}
	return lo, hi, ok
}

// Spectrum pairs a wavelength grid with intensities of the same length.
type Spectrum struct {
	Lambda      []float64 `json:"lambda"`
	Intensities []float64 `json:"intensities"`
}

// Validate enforces equal lengths.
func (s Spectrum) Validate() error {
	if len(s.Lambda) != len(s.Intensities) {
		return errors.Newf("spectrum length mismatch: %d wavelengths, %d intensities",
			len(s.Lambda), len(s.Intensities)).
			Component(componentName).
			Category(errors.CategoryDataIntegrity).
			Build()
	}
	return nil
}

// Len returns the number of points.
func (s Spectrum) Len() int { return len(s.Intensities) }
