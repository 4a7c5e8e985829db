package acquisition

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/specphone/specphone/internal/errors"
	"github.com/specphone/specphone/internal/quant"
	"github.com/specphone/specphone/internal/spectrum"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func frames(n int) spectrum.Matrix {
	m := make(spectrum.Matrix, n)
	for i := range m {
		m[i] = []float64{10, 20, 30}
	}
	return m
}

func choosing(t *testing.T) State {
	t.Helper()
	s, err := NewState("s1").Begin()
	require.NoError(t, err)
	require.Equal(t, PhaseType, s.Phase)
	return s
}

func acquiring(t *testing.T, typ string) State {
	t.Helper()
	s, err := choosing(t).SelectType(typ)
	require.NoError(t, err)
	s, err = s.ConfirmParams(quant.DefaultParams())
	require.NoError(t, err)
	require.Equal(t, PhaseDark, s.Phase)
	return s
}

func TestFlowSingleBeam(t *testing.T) {
	s := acquiring(t, "concentration")
	assert.Equal(t, []spectrum.Stage{spectrum.StageDark, spectrum.StageReference, spectrum.StageSample}, s.RequiredStages())

	var err error
	for _, want := range []Phase{PhaseReference, PhaseSample, PhaseProcessing} {
		stage, ok := s.NextStage()
		require.True(t, ok)
		s, err = s.RecordBurst(stage, frames(3))
		require.NoError(t, err)
		assert.Equal(t, want, s.Phase)
	}

	_, ok := s.NextStage()
	assert.False(t, ok)

	s, err = s.Complete(&quant.Analysis{}, nil)
	require.NoError(t, err)
	assert.Equal(t, PhaseResult, s.Phase)
	assert.NotNil(t, s.Result)

	s, err = s.Reset()
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, s.Phase)
	assert.Equal(t, "s1", s.SessionID)
}

func TestFlowDoubleBeamCapturesSecondReference(t *testing.T) {
	s := acquiring(t, "concentration_drift")

	var err error
	for range 3 {
		stage, _ := s.NextStage()
		s, err = s.RecordBurst(stage, frames(2))
		require.NoError(t, err)
	}
	assert.Equal(t, PhaseReference2, s.Phase)

	s, err = s.RecordBurst(spectrum.StageReference2, frames(2))
	require.NoError(t, err)
	assert.Equal(t, PhaseProcessing, s.Phase)

	b := s.QuantBursts()
	assert.Equal(t, 2, b.Reference2.Rows())
}

func TestTransitionsArePure(t *testing.T) {
	s := acquiring(t, "absorbance")

	next, err := s.RecordBurst(spectrum.StageDark, frames(1))
	require.NoError(t, err)

	assert.Equal(t, PhaseDark, s.Phase)
	assert.Empty(t, s.Bursts)
	assert.Len(t, next.Bursts, 1)
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		run  func() error
	}{
		{"record before params", func() error {
			_, err := NewState("x").RecordBurst(spectrum.StageDark, frames(1))
			return err
		}},
		{"out of order burst", func() error {
			_, err := acquiring(t, "absorbance").RecordBurst(spectrum.StageSample, frames(1))
			return err
		}},
		{"confirm params from idle", func() error {
			_, err := NewState("x").ConfirmParams(quant.DefaultParams())
			return err
		}},
		{"complete while acquiring", func() error {
			_, err := acquiring(t, "absorbance").Complete(nil, nil)
			return err
		}},
		{"reset while acquiring", func() error {
			_, err := acquiring(t, "absorbance").Reset()
			return err
		}},
		{"select type from idle", func() error {
			_, err := NewState("x").SelectType("absorbance")
			return err
		}},
		{"begin twice", func() error {
			_, err := choosing(t).Begin()
			return err
		}},
		{"begin while acquiring", func() error {
			_, err := acquiring(t, "absorbance").Begin()
			return err
		}},
		{"select type while acquiring", func() error {
			_, err := acquiring(t, "absorbance").SelectType("spectrum")
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			require.ErrorIs(t, err, ErrInvalidTransition)
			assert.True(t, errors.IsCategory(err, errors.CategoryState))
		})
	}
}

func TestBeginThenSelectType(t *testing.T) {
	idle := NewState("s1")
	s := choosing(t)
	assert.Equal(t, PhaseIdle, idle.Phase, "Begin leaves the receiver untouched")
	assert.Empty(t, s.Type)

	s, err := s.SelectType("concentration")
	require.NoError(t, err)
	assert.Equal(t, PhaseParams, s.Phase)
	assert.Equal(t, "concentration", s.Type)

	c := s.Cancel()
	assert.Equal(t, PhaseIdle, c.Phase)
	_, err = c.Begin()
	require.NoError(t, err)
}

func TestSelectTypeAndParamsValidation(t *testing.T) {
	typing := choosing(t)
	bad, err := typing.SelectType("fluorescence")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	assert.Equal(t, PhaseType, bad.Phase, "an unknown type keeps the flow waiting for a type")

	s, err := typing.SelectType("spectrum")
	require.NoError(t, err)
	p := quant.DefaultParams()
	p.Frames = 0
	_, err = s.ConfirmParams(p)
	require.Error(t, err)

	_, err = acquiring(t, "absorbance").RecordBurst(spectrum.StageDark, nil)
	require.Error(t, err)
	_, err = acquiring(t, "absorbance").RecordBurst(spectrum.StageDark, spectrum.Matrix{{1, 2}, {1}})
	require.Error(t, err)
}

func TestCancelFromAnyPhaseDiscardsBursts(t *testing.T) {
	s := acquiring(t, "absorbance")
	s, err := s.RecordBurst(spectrum.StageDark, frames(1))
	require.NoError(t, err)

	c := s.Cancel()
	assert.Equal(t, PhaseIdle, c.Phase)
	assert.Empty(t, c.Bursts)
	assert.Empty(t, c.Type)
	assert.Nil(t, c.Params)
}

func TestCompleteWithErrorLandsOnResult(t *testing.T) {
	s := acquiring(t, "absorbance")
	var err error
	for range 3 {
		stage, _ := s.NextStage()
		s, err = s.RecordBurst(stage, frames(1))
		require.NoError(t, err)
	}

	s, err = s.Complete(&quant.Analysis{}, errors.NewStd("profile missing"))
	require.NoError(t, err)
	assert.Equal(t, PhaseResult, s.Phase)
	assert.Equal(t, "profile missing", s.Err)
	assert.Nil(t, s.Result)
}

func TestStateJSON(t *testing.T) {
	s := acquiring(t, "spectrum")
	s, err := s.RecordBurst(spectrum.StageDark, frames(1))
	require.NoError(t, err)

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "acq_ref", raw["phase"])
	assert.Equal(t, "spectrum", raw["type"])
	assert.Equal(t, []any{"dark"}, raw["captured"])
	assert.NotContains(t, raw, "bursts")
}

func TestLookupType(t *testing.T) {
	typ, ok := LookupType("concentration_drift")
	require.True(t, ok)
	assert.True(t, typ.DoubleBeam)
	assert.True(t, typ.NeedsCurve)

	_, ok = LookupType("nope")
	assert.False(t, ok)
	assert.Len(t, Types(), 4)
}

func TestCapturerDropsFramesWhenIdle(t *testing.T) {
	c := NewCapturer(4)
	assert.False(t, c.Push([]float64{1}))
	assert.False(t, c.Push([]float64{2}))
	assert.EqualValues(t, 2, c.Dropped())
}

func TestCapturerCollectsBurst(t *testing.T) {
	c := NewCapturer(8)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		m   spectrum.Matrix
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := c.Capture(ctx, 3)
		done <- result{m, err}
	}()

	require.Eventually(t, c.armed.Load, time.Second, time.Millisecond)
	require.True(t, c.Push([]float64{1, 2}))
	require.True(t, c.Push([]float64{9}), "accepted into the buffer, rejected by width")
	require.True(t, c.Push([]float64{3, 4}))
	require.True(t, c.Push([]float64{5, 6}))

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, spectrum.Matrix{{1, 2}, {3, 4}, {5, 6}}, r.m)
	assert.EqualValues(t, 1, c.Dropped())
	assert.False(t, c.armed.Load())
}

func TestCapturerRejectsConcurrentCapture(t *testing.T) {
	c := NewCapturer(2)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := c.Capture(ctx, 5)
		done <- err
	}()
	require.Eventually(t, c.busy.Load, time.Second, time.Millisecond)

	_, err := c.Capture(context.Background(), 1)
	require.ErrorIs(t, err, ErrCaptureInProgress)

	cancel()
	err = <-done
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCapturerValidatesCount(t *testing.T) {
	_, err := NewCapturer(1).Capture(context.Background(), 0)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster()

	var got []Phase
	unsub := b.Subscribe(ObserverFunc(func(s State) { got = append(got, s.Phase) }))
	b.Subscribe(ObserverFunc(func(State) { panic("boom") }))
	var second int
	b.Subscribe(ObserverFunc(func(State) { second++ }))

	b.Notify(State{Phase: PhaseDark})
	unsub()
	unsub()
	b.Notify(State{Phase: PhaseResult})

	assert.Equal(t, []Phase{PhaseDark}, got)
	assert.Equal(t, 2, second, "a panicking observer does not block later ones")
	assert.Equal(t, 2, b.Len())
}
