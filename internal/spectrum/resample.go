package spectrum

import (
	"math"
	"slices"

	"github.com/specphone/specphone/internal/device"
	"github.com/specphone/specphone/internal/errors"
)

// ResampleVector linearly interpolates v onto target evenly spaced points.
// Output point j samples the input at x = j*(N-1)/(target-1), so the first
// and last samples are preserved and target == N is the identity. A
// single-pixel input is constant-filled; an empty input yields an empty
// vector.
func ResampleVector(v []float64, target int) []float64 {
	n := len(v)
	if n == 0 || target <= 0 {
		return []float64{}
	}
	out := make([]float64, target)
	if n == 1 {
		for j := range out {
			out[j] = v[0]
		}
		return out
	}
	if target == n {
		copy(out, v)
		return out
	}
	if target == 1 {
		out[0] = v[0]
		return out
	}

	step := float64(n-1) / float64(target-1)
	for j := range out {
		x := float64(j) * step
		i := int(math.Floor(x))
		if i >= n-1 {
			out[j] = v[n-1]
			continue
		}
		frac := x - float64(i)
		out[j] = v[i] + (v[i+1]-v[i])*frac
	}
	return out
}

// Resample interpolates every frame of m to target columns. Row count is
// preserved. Ragged input is rejected.
func Resample(m Matrix, target int) (Matrix, error) {
	if target < 1 {
		return nil, errors.Newf("resample target %d must be positive", target).
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	out := make(Matrix, len(m))
	for i, row := range m {
		out[i] = ResampleVector(row, target)
	}
	return out, nil
}

// MeanVector averages the frames of m column-wise. An empty burst yields an
// empty vector.
func MeanVector(m Matrix) ([]float64, error) {
	if len(m) == 0 {
		return []float64{}, nil
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	out := make([]float64, m.Width())
	for _, row := range m {
		for j, v := range row {
			out[j] += v
		}
	}
	rows := float64(len(m))
	for j := range out {
		out[j] /= rows
	}
	return out, nil
}

// ColumnRange returns the column-wise minimum and maximum over the frames
// of m. An empty burst yields empty vectors.
func ColumnRange(m Matrix) (lo, hi []float64, err error) {
	if len(m) == 0 {
		return []float64{}, []float64{}, nil
	}
	if err := m.Validate(); err != nil {
		return nil, nil, err
	}

	lo = slices.Clone(m[0])
	hi = slices.Clone(m[0])
	for _, row := range m[1:] {
		for j, v := range row {
			lo[j] = min(lo[j], v)
			hi[j] = max(hi[j], v)
		}
	}
	return lo, hi, nil
}

// New builds a spectrum from intensities using the mapping for their width.
func New(p2w device.PixelToWavelength, intensities []float64) Spectrum {
	return Spectrum{
		Lambda:      p2w.Wavelengths(len(intensities)),
		Intensities: append([]float64(nil), intensities...),
	}
}

// Prepare resamples a burst, averages it and attaches the wavelength grid.
// It returns the resampled frames alongside the mean spectrum.
func Prepare(burst Matrix, target int, p2w device.PixelToWavelength) (Matrix, Spectrum, error) {
	resampled, err := Resample(burst, target)
	if err != nil {
		return nil, Spectrum{}, err
	}
	mean, err := MeanVector(resampled)
	if err != nil {
		return nil, Spectrum{}, err
	}
	return resampled, New(p2w, mean), nil
}
