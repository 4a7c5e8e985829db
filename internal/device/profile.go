// Package device holds the per-device calibration profile: the
// pixel-to-wavelength polynomial, the region of interest on the sensor and
// camera metadata.
package device

import (
	"maps"
	"math"
	"time"

	"github.com/specphone/specphone/internal/errors"
)

const componentName = "device"

// ErrProfileMissing is returned when no profile has been captured yet.
var ErrProfileMissing = errors.NewStd("device profile not captured")

// PixelToWavelength maps a pixel index to a wavelength in nm:
// lambda = A0 + A1*px + A2*px^2.
type PixelToWavelength struct {
	A0 float64 `json:"a0" yaml:"a0"`
	A1 float64 `json:"a1" yaml:"a1"`
	A2 float64 `json:"a2,omitempty" yaml:"a2,omitempty"`
}

// Wavelength evaluates the polynomial at pixel px.
func (p PixelToWavelength) Wavelength(px float64) float64 {
	return p.A0 + p.A1*px + p.A2*px*px
}

// Wavelengths returns the wavelength grid for n pixels.
func (p PixelToWavelength) Wavelengths(n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = p.Wavelength(float64(i))
	}
	return out
}

// Monotonic reports whether the mapping is strictly monotonic over
// [0, width-1]. The derivative is linear in px, so checking its sign at both
// ends is sufficient.
func (p PixelToWavelength) Monotonic(width int) bool {
	if width <= 1 {
		return true
	}
	d0 := p.A1
	d1 := p.A1 + 2*p.A2*float64(width-1)
	return (d0 > 0 && d1 > 0) || (d0 < 0 && d1 < 0)
}

// Rescale expresses the mapping for fromWidth pixels in toWidth pixels over
// the same physical span. Pixel 0 keeps its wavelength; A1 scales by
// alpha = (fromWidth-1)/(toWidth-1) and A2 by alpha squared. Alpha is 1 when
// either width is 1 or less.
func (p PixelToWavelength) Rescale(fromWidth, toWidth int) PixelToWavelength {
	alpha := 1.0
	if fromWidth > 1 && toWidth > 1 {
		alpha = float64(fromWidth-1) / float64(toWidth-1)
	}
	return PixelToWavelength{
		A0: p.A0,
		A1: p.A1 * alpha,
		A2: p.A2 * alpha * alpha,
	}
}

func (p PixelToWavelength) finite() bool {
	for _, v := range []float64{p.A0, p.A1, p.A2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// ROI is the sensor region the spectrum is read from.
type ROI struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
	W int `json:"w" yaml:"w"`
	H int `json:"h" yaml:"h"`
}

// Profile is the static calibration of one device. It is immutable until the
// device is re-characterized.
type Profile struct {
	PixelToWavelength PixelToWavelength `json:"pixel_to_wavelength" yaml:"pixel_to_wavelength"`
	RMSENm            *float64          `json:"rmse_nm,omitempty" yaml:"rmse_nm,omitempty"`
	ROI               ROI               `json:"roi" yaml:"roi"`
	DeviceHash        string            `json:"device_hash" yaml:"device_hash"`
	// SampleWidth is the pixel count the coefficients are expressed in.
	// Zero means ROI.W.
	SampleWidth int               `json:"sample_width,omitempty" yaml:"sample_width,omitempty"`
	CameraMeta  map[string]string `json:"camera_meta,omitempty" yaml:"camera_meta,omitempty"`
	CapturedAt  time.Time         `json:"captured_at" yaml:"captured_at"`
}

// Width returns the pixel count the coefficients apply to.
func (p *Profile) Width() int {
	if p.SampleWidth > 0 {
		return p.SampleWidth
	}
	return p.ROI.W
}

// Validate checks the ROI, the coefficients and monotonicity over the ROI.
func (p *Profile) Validate() error {
	switch {
	case p.ROI.W <= 0 || p.ROI.H <= 0:
		return errors.Newf("invalid ROI %dx%d", p.ROI.W, p.ROI.H).
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	case p.ROI.X < 0 || p.ROI.Y < 0:
		return errors.Newf("invalid ROI origin (%d,%d)", p.ROI.X, p.ROI.Y).
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	case !p.PixelToWavelength.finite():
		return errors.Newf("non-finite pixel-to-wavelength coefficients").
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	case !p.PixelToWavelength.Monotonic(p.Width()):
		return errors.Newf("pixel-to-wavelength mapping is not monotonic over %d pixels", p.Width()).
			Component(componentName).
			Category(errors.CategoryValidation).
			Context("a1", p.PixelToWavelength.A1).
			Context("a2", p.PixelToWavelength.A2).
			Build()
	}
	return nil
}

// ScalePixelToWavelength rescales the profile coefficients from the width
// they were captured at to newWidth. A0 is unchanged so pixel 0 keeps its
// wavelength; A1 scales by alpha and A2 by alpha squared.
func ScalePixelToWavelength(p *Profile, newWidth int) (PixelToWavelength, error) {
	if p == nil {
		return PixelToWavelength{}, errors.New(ErrProfileMissing).
			Component(componentName).
			Category(errors.CategoryPrecondition).
			Context("operation", "scale_pixel_to_wavelength").
			Build()
	}

	return p.PixelToWavelength.Rescale(p.Width(), newWidth), nil
}

// Rescaled returns a copy of the profile with coefficients expressed in
// newWidth pixels. Rescaling twice to the same width is a no-op.
func (p Profile) Rescaled(newWidth int) Profile {
	scaled, _ := ScalePixelToWavelength(&p, newWidth)
	out := p
	out.PixelToWavelength = scaled
	if newWidth > 0 {
		out.SampleWidth = newWidth
	}
	out.CameraMeta = maps.Clone(p.CameraMeta)
	return out
}
