// Package analysis exposes the quantification engine behind one contract,
// served either in-process or by a remote service, and orchestrates guided
// acquisition sessions on top of it.
package analysis

import (
	"context"

	"github.com/specphone/specphone/internal/absorbance"
	"github.com/specphone/specphone/internal/calibration"
	"github.com/specphone/specphone/internal/device"
	"github.com/specphone/specphone/internal/errors"
	"github.com/specphone/specphone/internal/quant"
	"github.com/specphone/specphone/internal/spectrum"
)

const componentName = "analysis"

// Envelope statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Sample kinds.
const (
	KindStandard = "standard"
	KindUnknown  = "unknown"
)

// Quantifier is the engine contract. Local and remote implementations are
// interchangeable at every call site.
type Quantifier interface {
	ProcessReferences(ctx context.Context, req *ProcessReferencesRequest) (*ProcessReferencesResponse, error)
	Analyze(ctx context.Context, req *AnalyzeRequest) (*AnalyzeResponse, error)
}

// Envelope is carried by every response body.
type Envelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// OK reports whether the envelope signals success.
func (e Envelope) OK() bool { return e.Status == StatusSuccess }

// PixelIntensity is one point of a reference spectrum.
type PixelIntensity struct {
	Pixel     int     `json:"pixel"`
	Intensity float64 `json:"intensity"`
}

// Burst carries frames either as intensity rows or as base64 images.
type Burst struct {
	Frames spectrum.Matrix `json:"frames,omitempty"`
	Images []string        `json:"images,omitempty"`
}

// Matrix returns the burst as intensity rows, decoding images over roi.
func (b Burst) Matrix(roi device.ROI) (spectrum.Matrix, error) {
	if len(b.Images) > 0 {
		return spectrum.DecodeBase64Frames(b.Images, roi)
	}
	if err := b.Frames.Validate(); err != nil {
		return nil, err
	}
	return b.Frames, nil
}

// Empty reports whether the burst has no frames.
func (b Burst) Empty() bool { return len(b.Frames) == 0 && len(b.Images) == 0 }

// ProcessReferencesRequest asks for corrected dark and reference spectra.
// ResamplePoints overrides the engine's canonical spectrum length.
type ProcessReferencesRequest struct {
	Dark           Burst       `json:"dark"`
	Reference      Burst       `json:"reference"`
	ROI            *device.ROI `json:"roi,omitempty"`
	ResamplePoints int         `json:"resample_points,omitempty"`
}

// IntensityBounds are the column-wise minimum and maximum over the raw
// frames of a burst.
type IntensityBounds struct {
	Min []float64 `json:"min"`
	Max []float64 `json:"max"`
}

// ProcessReferencesResponse holds the averaged reference spectra resampled
// to the canonical length, the coefficients rescaled to that length and the
// bounds of the raw reference frames.
type ProcessReferencesResponse struct {
	Envelope
	Dark              []PixelIntensity         `json:"dark"`
	Reference         []PixelIntensity         `json:"reference"`
	PixelToWavelength device.PixelToWavelength `json:"pixel_to_wavelength"`
	DarkSD            float64                  `json:"dark_sd"`
	ReferenceBounds   *IntensityBounds         `json:"reference_bounds,omitempty"`
}

// CurveDTO is a calibration curve on the wire.
type CurveDTO struct {
	calibration.Curve
	Notes []string `json:"notes,omitempty"`
}

// SampleInput is one sample of an analyze request.
type SampleInput struct {
	ID            string   `json:"id,omitempty"`
	Kind          string   `json:"kind"`
	Burst         Burst    `json:"burst"`
	Concentration *float64 `json:"concentration,omitempty"`
	Dilution      *float64 `json:"dilution,omitempty"`
}

// AnalyzeRequest measures samples against processed references.
// PixelToWavelength applies to the length of Dark. Non-zero fields of Params
// override the engine's analysis parameters; TargetWavelength and WindowNm
// override both. ReferenceBounds carries one entry per reference burst, as
// returned by ProcessReferences.
type AnalyzeRequest struct {
	Type              string                    `json:"type"`
	PixelToWavelength *device.PixelToWavelength `json:"pixel_to_wavelength,omitempty"`
	Curve             *CurveDTO                 `json:"curve,omitempty"`
	Params            *quant.Params             `json:"params,omitempty"`
	TargetWavelength  float64                   `json:"target_wavelength"`
	WindowNm          float64                   `json:"window_nm"`
	Dark              []PixelIntensity          `json:"dark"`
	Reference         []PixelIntensity          `json:"reference"`
	Reference2        []PixelIntensity          `json:"reference2,omitempty"`
	ReferenceBounds   []IntensityBounds         `json:"reference_bounds,omitempty"`
	Samples           []SampleInput             `json:"samples"`
	ROI               *device.ROI               `json:"roi,omitempty"`
}

// SampleResult is the outcome for one sample.
type SampleResult struct {
	ID       string             `json:"id,omitempty"`
	Kind     string             `json:"kind"`
	Result   quant.Result       `json:"result"`
	Spectrum []absorbance.Point `json:"spectrum,omitempty"`
}

// AnalyzeResponse carries per-sample results and the curve they were
// quantified against.
type AnalyzeResponse struct {
	Envelope
	Type    string         `json:"type"`
	Samples []SampleResult `json:"samples"`
	Curve   *CurveDTO      `json:"curve,omitempty"`
}

// Intensities returns the intensity column of points ordered by pixel.
func Intensities(points []PixelIntensity) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Intensity
	}
	return out
}

// PixelIntensities pairs a spectrum with its pixel indices.
func PixelIntensities(v []float64) []PixelIntensity {
	out := make([]PixelIntensity, len(v))
	for i, x := range v {
		out[i] = PixelIntensity{Pixel: i, Intensity: x}
	}
	return out
}

func validationError(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component(componentName).
		Category(errors.CategoryValidation).
		Build()
}

// Validate checks the request shape.
func (r *ProcessReferencesRequest) Validate() error {
	if r == nil || r.Dark.Empty() || r.Reference.Empty() {
		return errors.Newf("dark and reference bursts are required").
			Component(componentName).
			Category(errors.CategoryPrecondition).
			Build()
	}
	return nil
}

// Validate checks the request shape.
func (r *AnalyzeRequest) Validate() error {
	if r == nil {
		return validationError("empty analyze request")
	}
	if len(r.Dark) == 0 || len(r.Reference) == 0 {
		return errors.Newf("dark and reference spectra are required").
			Component(componentName).
			Category(errors.CategoryPrecondition).
			Build()
	}
	if len(r.Dark) != len(r.Reference) || (len(r.Reference2) > 0 && len(r.Reference2) != len(r.Reference)) {
		return errors.Newf("reference spectra differ in length: dark %d, reference %d, reference2 %d",
			len(r.Dark), len(r.Reference), len(r.Reference2)).
			Component(componentName).
			Category(errors.CategoryDataIntegrity).
			Build()
	}
	for i, b := range r.ReferenceBounds {
		if len(b.Min) != len(b.Max) {
			return errors.Newf("reference bounds %d differ in length: min %d, max %d", i, len(b.Min), len(b.Max)).
				Component(componentName).
				Category(errors.CategoryDataIntegrity).
				Build()
		}
	}
	if len(r.Samples) == 0 {
		return validationError("at least one sample is required")
	}
	for i, s := range r.Samples {
		switch s.Kind {
		case KindStandard:
			if s.Concentration == nil {
				return validationError("standard sample %d has no concentration", i)
			}
		case KindUnknown:
		default:
			return validationError("sample %d has unknown kind %q", i, s.Kind)
		}
		if s.Burst.Empty() {
			return errors.Newf("sample %d has an empty burst", i).
				Component(componentName).
				Category(errors.CategoryPrecondition).
				Build()
		}
	}
	return nil
}
