// Package quant turns an absorbance reading and a calibration curve into a
// concentration with a confidence interval and independent QA flags.
package quant

// Params are the analysis parameters shared by every quantification.
type Params struct {
	TargetWavelength  float64 `json:"target_wavelength"`   // nm
	WindowNm          float64 `json:"window_nm"`           // window width in nm
	Frames            int     `json:"frames"`              // frames per burst
	ResamplePoints    int     `json:"resample_points"`     // canonical spectrum length
	MinR2             float64 `json:"min_r2"`              // curve acceptance
	MinStandards      int     `json:"min_standards"`       // curve acceptance
	LinearAbsMin      float64 `json:"linear_abs_min"`      // linear absorbance range
	LinearAbsMax      float64 `json:"linear_abs_max"`      // linear absorbance range
	SaturationLowPct  float64 `json:"saturation_low_pct"`  // percent of full scale
	SaturationHighPct float64 `json:"saturation_high_pct"` // percent of full scale
	FullScale         float64 `json:"full_scale"`          // sensor full-scale intensity
	DriftTolerancePct float64 `json:"drift_tolerance_pct"` // percent
	OutlierSigma      float64 `json:"outlier_sigma"`       // standard deviations
}

// DefaultParams returns the stock analysis parameters.
func DefaultParams() Params {
	return Params{
		TargetWavelength:  540,
		WindowNm:          10,
		Frames:            10,
		ResamplePoints:    2048,
		MinR2:             0.99,
		MinStandards:      3,
		LinearAbsMin:      0.05,
		LinearAbsMax:      1.5,
		SaturationLowPct:  12,
		SaturationHighPct: 90,
		FullScale:         255,
		DriftTolerancePct: 2,
		OutlierSigma:      2.5,
	}
}

// WithDefaults fills zero fields from DefaultParams.
func (p Params) WithDefaults() Params {
	d := DefaultParams()
	if p.TargetWavelength == 0 {
		p.TargetWavelength = d.TargetWavelength
	}
	if p.WindowNm == 0 {
		p.WindowNm = d.WindowNm
	}
	if p.Frames == 0 {
		p.Frames = d.Frames
	}
	if p.ResamplePoints == 0 {
		p.ResamplePoints = d.ResamplePoints
	}
	if p.MinR2 == 0 {
		p.MinR2 = d.MinR2
	}
	if p.MinStandards == 0 {
		p.MinStandards = d.MinStandards
	}
	if p.LinearAbsMin == 0 && p.LinearAbsMax == 0 {
		p.LinearAbsMin, p.LinearAbsMax = d.LinearAbsMin, d.LinearAbsMax
	}
	if p.SaturationLowPct == 0 && p.SaturationHighPct == 0 {
		p.SaturationLowPct, p.SaturationHighPct = d.SaturationLowPct, d.SaturationHighPct
	}
	if p.FullScale == 0 {
		p.FullScale = d.FullScale
	}
	if p.DriftTolerancePct == 0 {
		p.DriftTolerancePct = d.DriftTolerancePct
	}
	if p.OutlierSigma == 0 {
		p.OutlierSigma = d.OutlierSigma
	}
	return p
}

// Merge returns p with the non-zero fields of o applied over it. The linear
// absorbance bounds and the saturation guards are taken as pairs, so
// overriding one side also applies the other.
func (p Params) Merge(o Params) Params {
	if o.TargetWavelength != 0 {
		p.TargetWavelength = o.TargetWavelength
	}
	if o.WindowNm != 0 {
		p.WindowNm = o.WindowNm
	}
	if o.Frames != 0 {
		p.Frames = o.Frames
	}
	if o.ResamplePoints != 0 {
		p.ResamplePoints = o.ResamplePoints
	}
	if o.MinR2 != 0 {
		p.MinR2 = o.MinR2
	}
	if o.MinStandards != 0 {
		p.MinStandards = o.MinStandards
	}
	if o.LinearAbsMin != 0 || o.LinearAbsMax != 0 {
		p.LinearAbsMin, p.LinearAbsMax = o.LinearAbsMin, o.LinearAbsMax
	}
	if o.SaturationLowPct != 0 || o.SaturationHighPct != 0 {
		p.SaturationLowPct, p.SaturationHighPct = o.SaturationLowPct, o.SaturationHighPct
	}
	if o.FullScale != 0 {
		p.FullScale = o.FullScale
	}
	if o.DriftTolerancePct != 0 {
		p.DriftTolerancePct = o.DriftTolerancePct
	}
	if o.OutlierSigma != 0 {
		p.OutlierSigma = o.OutlierSigma
	}
	return p
}
