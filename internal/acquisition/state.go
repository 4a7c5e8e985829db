// Package acquisition models the guided measurement flow: choosing an
// analysis type, confirming parameters, capturing the dark, reference and
// sample bursts, and processing them into a result.
//
// State transitions are pure: every method returns a new State and leaves
// the receiver untouched, so the flow can be tested without a camera.
package acquisition

import (
	"maps"

	"github.com/specphone/specphone/internal/errors"
	"github.com/specphone/specphone/internal/quant"
	"github.com/specphone/specphone/internal/spectrum"
)

const componentName = "acquisition"

// ErrInvalidTransition is returned when an action is not allowed in the
// current phase.
var ErrInvalidTransition = errors.NewStd("invalid acquisition transition")

// Phase is a step of the acquisition flow.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseType       Phase = "type"
	PhaseParams     Phase = "params"
	PhaseDark       Phase = "acq_dark"
	PhaseReference  Phase = "acq_ref"
	PhaseSample     Phase = "acq_sample"
	PhaseReference2 Phase = "acq_ref2"
	PhaseProcessing Phase = "processing"
	PhaseResult     Phase = "result"
)

var stagePhase = map[spectrum.Stage]Phase{
	spectrum.StageDark:       PhaseDark,
	spectrum.StageReference:  PhaseReference,
	spectrum.StageSample:     PhaseSample,
	spectrum.StageReference2: PhaseReference2,
}

// Acquiring reports whether the phase captures a burst.
func (p Phase) Acquiring() bool {
	switch p {
	case PhaseDark, PhaseReference, PhaseSample, PhaseReference2:
		return true
	}
	return false
}

// State is a snapshot of the flow. It serializes to JSON for clients.
type State struct {
	SessionID string                             `json:"session_id,omitempty"`
	Phase     Phase                              `json:"phase"`
	Type      string                             `json:"type,omitempty"`
	Params    *quant.Params                      `json:"params,omitempty"`
	Bursts    map[spectrum.Stage]spectrum.Matrix `json:"-"`
	Captured  []spectrum.Stage                   `json:"captured,omitempty"`
	Result    *quant.Analysis                    `json:"result,omitempty"`
	Err       string                             `json:"error,omitempty"`
}

// NewState returns an idle state for a session.
func NewState(sessionID string) State {
	return State{SessionID: sessionID, Phase: PhaseIdle}
}

func invalid(s State, action string) error {
	return errors.New(ErrInvalidTransition).
		Component(componentName).
		Category(errors.CategoryState).
		Context("phase", string(s.Phase)).
		Context("action", action).
		Build()
}

// Begin starts a measurement from idle and waits for the analysis type.
func (s State) Begin() (State, error) {
	if s.Phase != PhaseIdle {
		return s, invalid(s, "begin")
	}
	next := NewState(s.SessionID)
	next.Phase = PhaseType
	return next, nil
}

// SelectType chooses the analysis type. It is valid in the type phase only.
func (s State) SelectType(name string) (State, error) {
	if s.Phase != PhaseType {
		return s, invalid(s, "select_type")
	}
	if _, ok := LookupType(name); !ok {
		return s, errors.Newf("unknown analysis type %q", name).
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}
	next := NewState(s.SessionID)
	next.Phase = PhaseParams
	next.Type = name
	return next, nil
}

// ConfirmParams fixes the analysis parameters and starts acquisition.
func (s State) ConfirmParams(p quant.Params) (State, error) {
	if s.Phase != PhaseParams {
		return s, invalid(s, "confirm_params")
	}
	if p.Frames < 1 || p.ResamplePoints < 1 {
		return s, errors.Newf("frames and resample points must be positive").
			Component(componentName).
			Category(errors.CategoryValidation).
			Context("frames", p.Frames).
			Context("resample_points", p.ResamplePoints).
			Build()
	}
	next := s
	next.Params = &p
	next.Phase = PhaseDark
	next.Bursts = map[spectrum.Stage]spectrum.Matrix{}
	next.Captured = nil
	return next, nil
}

// RequiredStages returns the bursts the selected type needs, in capture
// order.
func (s State) RequiredStages() []spectrum.Stage {
	t, ok := LookupType(s.Type)
	if !ok {
		return nil
	}
	return t.Stages()
}

// NextStage returns the burst expected next. ok is false outside the
// acquisition phases.
func (s State) NextStage() (spectrum.Stage, bool) {
	if !s.Phase.Acquiring() {
		return "", false
	}
	return s.pending()
}

// RecordBurst stores the burst for the current stage and advances. Recording
// the final required burst moves the flow to processing.
func (s State) RecordBurst(stage spectrum.Stage, burst spectrum.Matrix) (State, error) {
	want, ok := s.NextStage()
	if !ok || want != stage || stagePhase[stage] != s.Phase {
		return s, invalid(s, "record_"+string(stage))
	}
	if burst.Rows() == 0 {
		return s, errors.Newf("empty %s burst", stage).
			Component(componentName).
			Category(errors.CategoryPrecondition).
			Build()
	}
	if err := burst.Validate(); err != nil {
		return s, err
	}

	next := s
	next.Bursts = maps.Clone(s.Bursts)
	if next.Bursts == nil {
		next.Bursts = map[spectrum.Stage]spectrum.Matrix{}
	}
	next.Bursts[stage] = burst
	next.Captured = append(append([]spectrum.Stage(nil), s.Captured...), stage)

	if st, more := next.pending(); more {
		next.Phase = stagePhase[st]
	} else {
		next.Phase = PhaseProcessing
	}
	return next, nil
}

func (s State) pending() (spectrum.Stage, bool) {
	for _, st := range s.RequiredStages() {
		if _, done := s.Bursts[st]; !done {
			return st, true
		}
	}
	return "", false
}

// Complete finishes processing. The flow always lands on result; a
// processing error is attached rather than rewinding.
func (s State) Complete(result *quant.Analysis, err error) (State, error) {
	if s.Phase != PhaseProcessing {
		return s, invalid(s, "complete")
	}
	next := s
	next.Phase = PhaseResult
	next.Result = result
	if err != nil {
		next.Err = err.Error()
		next.Result = nil
	}
	return next, nil
}

// Cancel abandons the flow from any phase and discards captured bursts.
func (s State) Cancel() State {
	return NewState(s.SessionID)
}

// Reset starts a new measurement after a result has been shown.
func (s State) Reset() (State, error) {
	if s.Phase != PhaseResult {
		return s, invalid(s, "reset")
	}
	return NewState(s.SessionID), nil
}

// QuantBursts collects the captured bursts for processing.
func (s State) QuantBursts() quant.Bursts {
	return quant.Bursts{
		Dark:       s.Bursts[spectrum.StageDark],
		Reference:  s.Bursts[spectrum.StageReference],
		Sample:     s.Bursts[spectrum.StageSample],
		Reference2: s.Bursts[spectrum.StageReference2],
	}
}
