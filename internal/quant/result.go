package quant

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/specphone/specphone/internal/absorbance"
	"github.com/specphone/specphone/internal/calibration"
	"github.com/specphone/specphone/internal/spectrum"
)

// Interval is a closed concentration interval.
type Interval struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// QA holds the quality flags of a result. Flags are independent; a raised
// flag never suppresses the others or the numeric result.
type QA struct {
	Saturation bool     `json:"saturation"`
	Outliers   int      `json:"outliers"`
	InRange    bool     `json:"in_range"`
	Drift      bool     `json:"drift"`
	Notes      []string `json:"notes"`
}

// Flags returns the names of the raised boolean flags, for metrics.
func (q QA) Flags() []string {
	var out []string
	if q.Saturation {
		out = append(out, "saturation")
	}
	if q.Outliers > 0 {
		out = append(out, "outliers")
	}
	if !q.InRange {
		out = append(out, "out_of_range")
	}
	if q.Drift {
		out = append(out, "drift")
	}
	return out
}

// Result is the outcome of one quantification.
type Result struct {
	AMean float64   `json:"a_mean"`
	ASD   float64   `json:"a_sd"`
	CV    *float64  `json:"cv"`
	C     *float64  `json:"c"`
	CI95  *Interval `json:"ci95"`
	N     int       `json:"n"`
	Valid bool      `json:"valid"`
	QA    QA        `json:"qa"`
}

type resultJSON struct {
	AMean *float64  `json:"a_mean"`
	ASD   *float64  `json:"a_sd"`
	CV    *float64  `json:"cv"`
	C     *float64  `json:"c"`
	CI95  *Interval `json:"ci95"`
	N     int       `json:"n"`
	Valid bool      `json:"valid"`
	QA    QA        `json:"qa"`
}

func finitePtr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// MarshalJSON writes non-finite numbers as null.
func (r Result) MarshalJSON() ([]byte, error) {
	out := resultJSON{
		AMean: finitePtr(r.AMean),
		ASD:   finitePtr(r.ASD),
		N:     r.N,
		Valid: r.Valid,
		QA:    r.QA,
	}
	if r.CV != nil {
		out.CV = finitePtr(*r.CV)
	}
	if r.C != nil {
		out.C = finitePtr(*r.C)
	}
	if r.CI95 != nil && finitePtr(r.CI95.Low) != nil && finitePtr(r.CI95.High) != nil {
		out.CI95 = r.CI95
	}
	if out.QA.Notes == nil {
		out.QA.Notes = []string{}
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads null numbers back as NaN.
func (r *Result) UnmarshalJSON(data []byte) error {
	var in resultJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = Result{
		AMean: math.NaN(),
		ASD:   math.NaN(),
		CV:    in.CV,
		C:     in.C,
		CI95:  in.CI95,
		N:     in.N,
		Valid: in.Valid,
		QA:    in.QA,
	}
	if in.AMean != nil {
		r.AMean = *in.AMean
	}
	if in.ASD != nil {
		r.ASD = *in.ASD
	}
	return nil
}

// Scaled multiplies the concentration and its interval by a dilution factor.
// Factors that are not finite and positive leave the result unchanged.
func (r Result) Scaled(factor float64) Result {
	if factor == 1 || factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return r
	}
	if r.C != nil {
		c := *r.C * factor
		r.C = &c
	}
	if r.CI95 != nil {
		r.CI95 = &Interval{Low: r.CI95.Low * factor, High: r.CI95.High * factor}
	}
	return r
}

// Evidence is the raw material the QA checks inspect.
type Evidence struct {
	// Frames are per-frame window absorbances.
	Frames []float64
	// Raw holds the reference envelopes and the sample frames restricted to
	// the window columns.
	Raw []spectrum.Matrix
	// Reference and Reference2 are dark-corrected window intensities of the
	// reference taken before and after the sample.
	Reference  []float64
	Reference2 []float64
}

// Quantify inverts the reading through curve and evaluates the QA flags.
// curve may be nil, in which case only the absorbance and QA are reported.
// Quantify never fails: every problem is surfaced as a flag or a note.
func Quantify(reading absorbance.Reading, curve *calibration.Curve, p Params, ev Evidence) Result {
	res := Result{
		AMean: reading.Mean,
		ASD:   reading.SD,
		CV:    reading.CV,
		N:     reading.N,
		Valid: reading.Valid,
	}

	res.QA.Saturation = Saturated(ev.Raw, p.SaturationLowPct, p.SaturationHighPct, p.FullScale)
	res.QA.Outliers = CountOutliers(ev.Frames, p.OutlierSigma)
	res.QA.Drift = Drifted(ev.Reference, ev.Reference2, p.DriftTolerancePct)

	var notes []string
	if res.QA.Saturation {
		notes = append(notes, fmt.Sprintf("intensity outside %.0f-%.0f%% of full scale", p.SaturationLowPct, p.SaturationHighPct))
	}
	if res.QA.Drift {
		notes = append(notes, fmt.Sprintf("reference drifted more than %.1f%%", p.DriftTolerancePct))
	}
	if res.QA.Outliers > 0 {
		notes = append(notes, fmt.Sprintf("%d frame(s) beyond %.1f sigma", res.QA.Outliers, p.OutlierSigma))
	}

	if !reading.Valid {
		notes = append(notes, fmt.Sprintf("absorbance invalid: %d point(s) with non-positive intensity in window", reading.Rejected))
		res.QA.Notes = notes
		return res
	}

	if reading.Mean < p.LinearAbsMin || reading.Mean > p.LinearAbsMax {
		notes = append(notes, fmt.Sprintf("absorbance %.3f outside linear range %.2f-%.2f", reading.Mean, p.LinearAbsMin, p.LinearAbsMax))
	}

	if curve == nil {
		notes = append(notes, "no calibration curve")
		res.QA.Notes = notes
		return res
	}
	notes = append(notes, curve.Check(p.MinR2, p.MinStandards)...)

	c, ok := curve.Invert(reading.Mean)
	if ok {
		res.C = &c
		replicates := reading.Frames
		if replicates == 0 {
			replicates = 1
		}
		res.CI95 = ConfidenceInterval(c, reading.SD, replicates, curve)
		if curve.ValidRange != nil {
			res.QA.InRange = curve.ValidRange.Contains(c)
		}
		if !res.QA.InRange {
			notes = append(notes, "concentration outside calibrated range")
		}
	}

	res.QA.Notes = notes
	return res
}
