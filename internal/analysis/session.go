package analysis

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/specphone/specphone/internal/absorbance"
	"github.com/specphone/specphone/internal/acquisition"
	"github.com/specphone/specphone/internal/calibration"
	"github.com/specphone/specphone/internal/errors"
	"github.com/specphone/specphone/internal/logger"
	"github.com/specphone/specphone/internal/quant"
	"github.com/specphone/specphone/internal/spectrum"
)

// DefaultProcessingTimeout bounds one processing run.
const DefaultProcessingTimeout = 2 * time.Minute

// Session drives one guided measurement: it owns the acquisition state,
// captures bursts through a Capturer and hands the finished set to a
// Quantifier in the background. Every state change is broadcast to
// subscribers.
type Session struct {
	id string

	mu         sync.Mutex
	state      acquisition.State
	generation uint64
	done       chan struct{}
	cancelRun  context.CancelFunc

	capturer   *acquisition.Capturer
	quantifier Quantifier
	defaults   quant.Params
	curve      *calibration.Curve
	timeout    time.Duration

	observers *acquisition.Broadcaster
	wg        sync.WaitGroup
	log       logger.Logger
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithCurve sets the curve concentrations are read from.
func WithCurve(c *calibration.Curve) SessionOption {
	return func(s *Session) { s.curve = c }
}

// WithProcessingTimeout bounds each processing run.
func WithProcessingTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSession returns an idle session with a fresh id.
func NewSession(capturer *acquisition.Capturer, q Quantifier, defaults quant.Params, opts ...SessionOption) *Session {
	if capturer == nil {
		capturer = acquisition.NewCapturer(acquisition.DefaultFrameBuffer)
	}
	id := uuid.NewString()
	s := &Session{
		id:         id,
		state:      acquisition.NewState(id),
		capturer:   capturer,
		quantifier: q,
		defaults:   defaults.WithDefaults(),
		timeout:    DefaultProcessingTimeout,
		observers:  acquisition.NewBroadcaster(),
		log:        logger.Global().Module(componentName).With(logger.String("session_id", id)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() acquisition.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers o for state changes and returns the unsubscribe func.
func (s *Session) Subscribe(o acquisition.Observer) func() {
	return s.observers.Subscribe(o)
}

// Push forwards a camera frame to the capturer.
func (s *Session) Push(frame []float64) bool {
	return s.capturer.Push(frame)
}

// SetCurve replaces the curve used by later processing runs.
func (s *Session) SetCurve(c *calibration.Curve) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.curve = c
}

// Begin starts a measurement and moves the flow to type selection.
func (s *Session) Begin() error {
	return s.apply(func(st acquisition.State) (acquisition.State, error) {
		return st.Begin()
	})
}

// SelectType chooses the analysis type.
func (s *Session) SelectType(name string) error {
	return s.apply(func(st acquisition.State) (acquisition.State, error) {
		return st.SelectType(name)
	})
}

// SetParams confirms the parameters and starts acquisition. Nil selects the
// session defaults.
func (s *Session) SetParams(p *quant.Params) error {
	params := s.defaults
	if p != nil {
		params = p.WithDefaults()
	}
	return s.apply(func(st acquisition.State) (acquisition.State, error) {
		return st.ConfirmParams(params)
	})
}

// Reset starts a new measurement after a result.
func (s *Session) Reset() error {
	return s.apply(func(st acquisition.State) (acquisition.State, error) {
		return st.Reset()
	})
}

func (s *Session) apply(fn func(acquisition.State) (acquisition.State, error)) error {
	s.mu.Lock()
	next, err := fn(s.state)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = next
	s.mu.Unlock()

	s.observers.Notify(next)
	return nil
}

// CaptureNext captures the burst the flow expects next and records it. When
// the last required burst is recorded processing starts in the background.
func (s *Session) CaptureNext(ctx context.Context) (spectrum.Stage, error) {
	s.mu.Lock()
	stage, ok := s.state.NextStage()
	if !ok {
		err := errors.Newf("no burst expected in phase %s", s.state.Phase).
			Component(componentName).
			Category(errors.CategoryState).
			Context("phase", string(s.state.Phase)).
			Build()
		s.mu.Unlock()
		return "", err
	}
	frames := s.state.Params.Frames
	gen := s.generation
	s.mu.Unlock()

	burst, err := s.capturer.Capture(ctx, frames)
	if err != nil {
		return stage, err
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return stage, errors.Newf("session was cancelled during capture").
			Component(componentName).
			Category(errors.CategoryCancellation).
			Build()
	}
	next, err := s.state.RecordBurst(stage, burst)
	if err != nil {
		s.mu.Unlock()
		return stage, err
	}
	s.state = next
	var run func()
	if next.Phase == acquisition.PhaseProcessing {
		run = s.prepareProcessing(next)
	}
	s.mu.Unlock()

	s.log.Debug("burst recorded",
		logger.String("stage", string(stage)),
		logger.Int("frames", burst.Rows()),
		logger.Int("width", burst.Width()))
	s.observers.Notify(next)
	if run != nil {
		go run()
	}
	return stage, nil
}

// prepareProcessing registers a processing run and returns it. It must be
// called with s.mu held; the caller starts the run once the processing state
// has been broadcast.
func (s *Session) prepareProcessing(st acquisition.State) func() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	s.cancelRun = cancel
	s.done = make(chan struct{})
	gen := s.generation
	done := s.done
	curve := s.curve

	s.wg.Add(1)
	return func() {
		defer s.wg.Done()
		defer close(done)
		defer cancel()

		result, err := s.process(ctx, st, curve)

		s.mu.Lock()
		if gen != s.generation {
			s.mu.Unlock()
			s.log.Debug("discarding result of cancelled run")
			return
		}
		next, cerr := s.state.Complete(result, err)
		if cerr != nil {
			s.mu.Unlock()
			s.log.Warn("processing finished in unexpected phase", logger.Error(cerr))
			return
		}
		s.state = next
		s.cancelRun = nil
		s.mu.Unlock()

		if err != nil {
			s.log.Warn("processing failed", logger.Error(err))
		} else {
			s.log.Info("measurement complete",
				logger.String("type", next.Type),
				logger.Float64("a_mean", result.Result.AMean),
				logger.Bool("valid", result.Result.Valid))
		}
		s.observers.Notify(next)
	}
}

// process runs the captured bursts through the quantifier.
func (s *Session) process(ctx context.Context, st acquisition.State, curve *calibration.Curve) (*quant.Analysis, error) {
	if s.quantifier == nil {
		return nil, errors.Newf("no quantifier configured").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	b := st.QuantBursts()

	params := *st.Params
	refs, err := s.quantifier.ProcessReferences(ctx, &ProcessReferencesRequest{
		Dark:           Burst{Frames: b.Dark},
		Reference:      Burst{Frames: b.Reference},
		ResamplePoints: params.ResamplePoints,
	})
	if err != nil {
		return nil, err
	}

	req := &AnalyzeRequest{
		Type:              st.Type,
		PixelToWavelength: &refs.PixelToWavelength,
		Params:            &params,
		TargetWavelength:  params.TargetWavelength,
		WindowNm:          params.WindowNm,
		Dark:              refs.Dark,
		Reference:         refs.Reference,
		Samples: []SampleInput{{
			ID:    st.SessionID,
			Kind:  KindUnknown,
			Burst: Burst{Frames: b.Sample},
		}},
	}
	if refs.ReferenceBounds != nil {
		req.ReferenceBounds = append(req.ReferenceBounds, *refs.ReferenceBounds)
	}
	if b.Reference2.Rows() > 0 {
		refs2, err := s.quantifier.ProcessReferences(ctx, &ProcessReferencesRequest{
			Dark:           Burst{Frames: b.Dark},
			Reference:      Burst{Frames: b.Reference2},
			ResamplePoints: params.ResamplePoints,
		})
		if err != nil {
			return nil, err
		}
		req.Reference2 = refs2.Reference
		if refs2.ReferenceBounds != nil {
			req.ReferenceBounds = append(req.ReferenceBounds, *refs2.ReferenceBounds)
		}
	}
	if curve != nil {
		req.Curve = &CurveDTO{Curve: *curve}
	}

	resp, err := s.quantifier.Analyze(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Samples) != 1 {
		return nil, errors.Newf("expected one sample result, got %d", len(resp.Samples)).
			Component(componentName).
			Category(errors.CategoryDataIntegrity).
			Build()
	}

	sr := resp.Samples[0]
	return &quant.Analysis{
		Result: sr.Result,
		Reading: absorbance.Reading{
			Mean:  sr.Result.AMean,
			SD:    sr.Result.ASD,
			CV:    sr.Result.CV,
			N:     sr.Result.N,
			Valid: sr.Result.Valid,
		},
		Points: sr.Spectrum,
	}, nil
}

// Wait blocks until the running processing step finishes or ctx is done, and
// returns the state at that point.
func (s *Session) Wait(ctx context.Context) (acquisition.State, error) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return s.State(), errors.New(ctx.Err()).
				Component(componentName).
				Category(errors.CategoryCancellation).
				Build()
		}
	}
	return s.State(), nil
}

// Cancel abandons the measurement from any phase. A running processing step
// is cancelled and its outcome discarded.
func (s *Session) Cancel() {
	s.mu.Lock()
	s.generation++
	if s.cancelRun != nil {
		s.cancelRun()
		s.cancelRun = nil
	}
	s.state = s.state.Cancel()
	next := s.state
	s.mu.Unlock()

	s.log.Info("session cancelled")
	s.observers.Notify(next)
}

// Close cancels the session and waits for background work to exit.
func (s *Session) Close() {
	s.Cancel()
	s.wg.Wait()
}
