package quant

import (
	"github.com/specphone/specphone/internal/absorbance"
	"github.com/specphone/specphone/internal/calibration"
	"github.com/specphone/specphone/internal/device"
	"github.com/specphone/specphone/internal/errors"
	"github.com/specphone/specphone/internal/spectrum"
)

const componentName = "quant"

// Bursts are the raw captures of one measurement. Reference2 is optional
// and enables drift detection.
type Bursts struct {
	Dark       spectrum.Matrix
	Reference  spectrum.Matrix
	Sample     spectrum.Matrix
	Reference2 spectrum.Matrix
}

// Analysis is the outcome of measuring one sample against prepared
// references.
type Analysis struct {
	Result  Result             `json:"result"`
	Reading absorbance.Reading `json:"reading"`
	Points  []absorbance.Point `json:"absorbance"`
	Frames  []float64          `json:"frames,omitempty"`

	// Evidence is kept so the reading can be requantified against a curve
	// fitted after the fact.
	Evidence Evidence `json:"-"`
}

// References are the prepared dark and reference means of a session, kept
// so later samples can be measured against them. RawRef holds the column
// minimum and maximum of every raw reference burst so saturation checks see
// single clipped frames that averaging hides.
type References struct {
	Lambda     []float64       `json:"lambda"`
	Dark       []float64       `json:"dark"`
	Reference  []float64       `json:"reference"`
	Reference2 []float64       `json:"reference2,omitempty"`
	RawRef     spectrum.Matrix `json:"-"`
}

// PrepareReferences resamples and averages the dark and reference bursts.
// When a second reference is present the effective reference is the mean of
// both.
func PrepareReferences(b Bursts, p2w device.PixelToWavelength, points int) (*References, error) {
	if b.Dark.Rows() == 0 || b.Reference.Rows() == 0 {
		return nil, errors.Newf("dark and reference bursts are required").
			Component(componentName).
			Category(errors.CategoryPrecondition).
			Context("dark_frames", b.Dark.Rows()).
			Context("reference_frames", b.Reference.Rows()).
			Build()
	}

	_, dark, err := spectrum.Prepare(b.Dark, points, p2w)
	if err != nil {
		return nil, err
	}
	rawRef, ref, err := spectrum.Prepare(b.Reference, points, p2w)
	if err != nil {
		return nil, err
	}
	lo, hi, err := spectrum.ColumnRange(rawRef)
	if err != nil {
		return nil, err
	}

	refs := &References{
		Lambda:    dark.Lambda,
		Dark:      dark.Intensities,
		Reference: ref.Intensities,
		RawRef:    spectrum.Matrix{lo, hi},
	}
	if b.Reference2.Rows() > 0 {
		rawRef2, ref2, err := spectrum.Prepare(b.Reference2, points, p2w)
		if err != nil {
			return nil, err
		}
		lo2, hi2, err := spectrum.ColumnRange(rawRef2)
		if err != nil {
			return nil, err
		}
		refs.Reference2 = ref2.Intensities
		refs.RawRef = append(refs.RawRef, lo2, hi2)
	}
	return refs, nil
}

// effective returns the reference used for absorbance.
func (r *References) effective() []float64 {
	if len(r.Reference2) != len(r.Reference) {
		return r.Reference
	}
	out := make([]float64, len(r.Reference))
	for i := range out {
		out[i] = (r.Reference[i] + r.Reference2[i]) / 2
	}
	return out
}

// AnalyzeSample measures a sample burst against prepared references. The
// sample is resampled onto the reference grid. Saturation is judged on the
// raw reference envelope and the raw sample frames over the wavelength
// window the reading is taken from.
func AnalyzeSample(refs *References, sample spectrum.Matrix, curve *calibration.Curve, p Params) (*Analysis, error) {
	if refs == nil {
		return nil, errors.Newf("references have not been processed").
			Component(componentName).
			Category(errors.CategoryPrecondition).
			Build()
	}
	if sample.Rows() == 0 {
		return nil, errors.Newf("sample burst is empty").
			Component(componentName).
			Category(errors.CategoryPrecondition).
			Build()
	}

	rawSample, err := spectrum.Resample(sample, len(refs.Lambda))
	if err != nil {
		return nil, err
	}
	ref := refs.effective()

	m, err := absorbance.Measure(refs.Dark, ref, rawSample, refs.Lambda, p.TargetWavelength, p.WindowNm)
	if err != nil {
		return nil, err
	}

	idx := absorbance.WindowIndices(refs.Lambda, p.TargetWavelength, p.WindowNm)
	ev := Evidence{
		Frames: m.Frames,
		Raw:    []spectrum.Matrix{pick(refs.RawRef, idx), pick(rawSample, idx)},
	}
	if len(refs.Reference2) > 0 {
		ev.Reference = corrected(refs.Reference, refs.Dark, idx)
		ev.Reference2 = corrected(refs.Reference2, refs.Dark, idx)
	}

	return &Analysis{
		Result:   Quantify(m.Reading, curve, p, ev),
		Reading:  m.Reading,
		Points:   m.Points,
		Frames:   m.Frames,
		Evidence: ev,
	}, nil
}

// pick restricts every frame of m to the columns in idx.
func pick(m spectrum.Matrix, idx []int) spectrum.Matrix {
	out := make(spectrum.Matrix, 0, len(m))
	for _, row := range m {
		sel := make([]float64, 0, len(idx))
		for _, i := range idx {
			if i < len(row) {
				sel = append(sel, row[i])
			}
		}
		out = append(out, sel)
	}
	return out
}

func corrected(v, dark []float64, idx []int) []float64 {
	out := make([]float64, 0, len(idx))
	for _, i := range idx {
		if i < len(v) && i < len(dark) {
			out = append(out, v[i]-dark[i])
		}
	}
	return out
}
