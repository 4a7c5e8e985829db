package absorbance

import (
	"encoding/json"
	"math"

	"github.com/specphone/specphone/internal/errors"
	"github.com/specphone/specphone/internal/spectrum"
)

// Reading is a scalar absorbance averaged over a wavelength window.
type Reading struct {
	Mean     float64  // A_mean, NaN when invalid
	SD       float64  // A_sd
	CV       *float64 // percent, nil when undefined
	N        int      // grid points in the window
	Frames   int      // sample frames contributing to SD, 0 when SD is across the window
	Rejected int      // invalid points in the window
	Valid    bool
}

type readingJSON struct {
	Mean     *float64 `json:"a_mean"`
	SD       *float64 `json:"a_sd"`
	CV       *float64 `json:"cv"`
	N        int      `json:"n"`
	Frames   int      `json:"frames,omitempty"`
	Rejected int      `json:"rejected,omitempty"`
	Valid    bool     `json:"valid"`
}

func finitePtr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// MarshalJSON emits null for non-finite values.
func (r Reading) MarshalJSON() ([]byte, error) {
	return json.Marshal(readingJSON{
		Mean:     finitePtr(r.Mean),
		SD:       finitePtr(r.SD),
		CV:       r.CV,
		N:        r.N,
		Frames:   r.Frames,
		Rejected: r.Rejected,
		Valid:    r.Valid,
	})
}

// WindowReading averages pointwise absorbance over the window around target.
// Any invalid point inside the window makes the reading invalid.
func WindowReading(points []Point, target, width float64) (Reading, error) {
	if len(points) == 0 {
		return Reading{}, errors.Newf("no absorbance points").
			Component(componentName).
			Category(errors.CategoryPrecondition).
			Build()
	}

	lambda := make([]float64, len(points))
	for i := range points {
		lambda[i] = points[i].Lambda
	}
	idx := WindowIndices(lambda, target, width)

	values := make([]float64, 0, len(idx))
	rejected := 0
	for _, i := range idx {
		if !points[i].Valid {
			rejected++
			continue
		}
		values = append(values, points[i].Value)
	}

	if rejected > 0 {
		return Reading{Mean: math.NaN(), SD: math.NaN(), N: len(idx), Rejected: rejected}, nil
	}

	mean, sd := Stats(values)
	return Reading{
		Mean:  mean,
		SD:    sd,
		CV:    CV(mean, sd),
		N:     len(idx),
		Valid: true,
	}, nil
}

// FrameReadings computes one window-mean absorbance per sample frame against
// the dark and reference means. Frames with an invalid point in the window
// are skipped.
func FrameReadings(dark, ref []float64, sample spectrum.Matrix, lambda []float64, target, width float64) []float64 {
	out := make([]float64, 0, sample.Rows())
	if len(dark) != len(lambda) || len(ref) != len(lambda) {
		return out
	}
	idx := WindowIndices(lambda, target, width)

frames:
	for _, frame := range sample {
		if len(frame) != len(lambda) {
			continue
		}
		var sum float64
		for _, i := range idx {
			a, ok := At(dark[i], ref[i], frame[i])
			if !ok {
				continue frames
			}
			sum += a
		}
		out = append(out, sum/float64(len(idx)))
	}
	return out
}

// Measurement is the outcome of Measure: the window reading, the pointwise
// spectrum of the mean sample and the per-frame window readings.
type Measurement struct {
	Reading Reading
	Points  []Point
	Frames  []float64
}

// Measure computes the window reading from mean spectra. When at least two
// sample frames yield valid window readings, SD and CV describe the spread
// across frames instead of across the window. Frames is nil when the window
// reading is invalid.
func Measure(dark, ref []float64, sample spectrum.Matrix, lambda []float64, target, width float64) (Measurement, error) {
	mean, err := spectrum.MeanVector(sample)
	if err != nil {
		return Measurement{}, err
	}
	points, err := Compute(dark, ref, mean, lambda)
	if err != nil {
		return Measurement{}, err
	}
	reading, err := WindowReading(points, target, width)
	if err != nil {
		return Measurement{}, err
	}
	m := Measurement{Reading: reading, Points: points}
	if !reading.Valid {
		return m, nil
	}

	m.Frames = FrameReadings(dark, ref, sample, lambda, target, width)
	if len(m.Frames) >= 2 {
		_, sd := Stats(m.Frames)
		m.Reading.SD = sd
		m.Reading.CV = CV(reading.Mean, sd)
		m.Reading.Frames = len(m.Frames)
	}
	return m, nil
}
