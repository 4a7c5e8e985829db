package acquisition

import (
	"slices"

	"github.com/specphone/specphone/internal/spectrum"
)

// AnalysisType describes what a measurement captures and reports.
type AnalysisType struct {
	Name string `json:"name"`
	// DoubleBeam adds a second reference after the sample for drift checks.
	DoubleBeam bool `json:"double_beam"`
	// NeedsCurve marks types that report a concentration.
	NeedsCurve bool `json:"needs_curve"`
	// FullSpectrum marks types that report every wavelength.
	FullSpectrum bool `json:"full_spectrum"`
}

// Stages returns the bursts the type captures, in order.
func (t AnalysisType) Stages() []spectrum.Stage {
	stages := []spectrum.Stage{spectrum.StageDark, spectrum.StageReference, spectrum.StageSample}
	if t.DoubleBeam {
		stages = append(stages, spectrum.StageReference2)
	}
	return stages
}

var registry = []AnalysisType{
	{Name: "absorbance"},
	{Name: "concentration", NeedsCurve: true},
	{Name: "concentration_drift", NeedsCurve: true, DoubleBeam: true},
	{Name: "spectrum", FullSpectrum: true},
}

// LookupType returns the registered type with the given name.
func LookupType(name string) (AnalysisType, bool) {
	i := slices.IndexFunc(registry, func(t AnalysisType) bool { return t.Name == name })
	if i < 0 {
		return AnalysisType{}, false
	}
	return registry[i], true
}

// Types returns all registered analysis types.
func Types() []AnalysisType {
	return slices.Clone(registry)
}
