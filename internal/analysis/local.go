package analysis

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/specphone/specphone/internal/absorbance"
	"github.com/specphone/specphone/internal/acquisition"
	"github.com/specphone/specphone/internal/calibration"
	"github.com/specphone/specphone/internal/device"
	"github.com/specphone/specphone/internal/errors"
	"github.com/specphone/specphone/internal/logger"
	"github.com/specphone/specphone/internal/observability/metrics"
	"github.com/specphone/specphone/internal/quant"
	"github.com/specphone/specphone/internal/spectrum"
)

// LocalQuantifier runs the engine in-process.
type LocalQuantifier struct {
	profiles *device.Store
	params   quant.Params
	metrics  metrics.Recorder
	log      logger.Logger
	workers  int
}

// LocalOption configures a LocalQuantifier.
type LocalOption func(*LocalQuantifier)

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) LocalOption {
	return func(q *LocalQuantifier) {
		if r != nil {
			q.metrics = r
		}
	}
}

// WithWorkers bounds how many samples are processed concurrently.
func WithWorkers(n int) LocalOption {
	return func(q *LocalQuantifier) {
		if n > 0 {
			q.workers = n
		}
	}
}

// NewLocalQuantifier returns an in-process quantifier. profiles supplies
// coefficients and the ROI when a request omits them; it may be nil.
func NewLocalQuantifier(profiles *device.Store, params quant.Params, opts ...LocalOption) *LocalQuantifier {
	q := &LocalQuantifier{
		profiles: profiles,
		params:   params.WithDefaults(),
		metrics:  metrics.NopRecorder{},
		log:      logger.Global().Module(componentName),
		workers:  runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Params returns the base analysis parameters.
func (q *LocalQuantifier) Params() quant.Params { return q.params }

// roi picks the request ROI, then the stored profile ROI, then the whole frame.
func (q *LocalQuantifier) roi(req *device.ROI) device.ROI {
	if req != nil {
		return *req
	}
	if q.profiles != nil {
		if p, err := q.profiles.Get(); err == nil {
			return p.ROI
		}
	}
	return device.ROI{}
}

// coefficients returns the pixel-to-wavelength mapping for width pixels.
func (q *LocalQuantifier) coefficients(width int) (device.PixelToWavelength, error) {
	if q.profiles == nil {
		return device.ScalePixelToWavelength(nil, width)
	}
	return q.profiles.Scaled(width)
}

// ProcessReferences resamples the dark and reference bursts to the
// canonical length, averages them and rescales the profile coefficients from
// the profile's native width to that length.
func (q *LocalQuantifier) ProcessReferences(ctx context.Context, req *ProcessReferencesRequest) (*ProcessReferencesResponse, error) {
	start := time.Now()
	defer func() { q.metrics.RecordDuration("process_references", time.Since(start).Seconds()) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	roi := q.roi(req.ROI)
	dark, err := req.Dark.Matrix(roi)
	if err != nil {
		return nil, err
	}
	ref, err := req.Reference.Matrix(roi)
	if err != nil {
		return nil, err
	}

	points := q.params.ResamplePoints
	if req.ResamplePoints > 0 {
		points = req.ResamplePoints
	}
	p2w, err := q.coefficients(points)
	if err != nil {
		return nil, err
	}
	refs, err := quant.PrepareReferences(quant.Bursts{Dark: dark, Reference: ref}, p2w, points)
	if err != nil {
		return nil, err
	}

	var all []float64
	for _, row := range dark {
		all = append(all, row...)
	}
	_, darkSD := absorbance.Stats(all)

	q.log.Debug("references processed",
		logger.Int("native_width", dark.Width()),
		logger.Int("points", points),
		logger.Int("dark_frames", dark.Rows()),
		logger.Int("reference_frames", ref.Rows()),
		logger.Float64("dark_sd", darkSD))

	return &ProcessReferencesResponse{
		Envelope:          Envelope{Status: StatusSuccess},
		Dark:              PixelIntensities(refs.Dark),
		Reference:         PixelIntensities(refs.Reference),
		PixelToWavelength: p2w,
		DarkSD:            darkSD,
		ReferenceBounds:   &IntensityBounds{Min: refs.RawRef[0], Max: refs.RawRef[1]},
	}, nil
}

// Analyze measures every sample concurrently, fits a curve from the
// standards when the request carries none, and quantifies each sample.
func (q *LocalQuantifier) Analyze(ctx context.Context, req *AnalyzeRequest) (resp *AnalyzeResponse, err error) {
	start := time.Now()
	typeName := ""
	if req != nil {
		typeName = req.Type
	}
	defer func() {
		status := StatusSuccess
		if err != nil {
			status = StatusError
		}
		q.metrics.RecordAnalysis(typeName, status)
		q.metrics.RecordDuration("analyze", time.Since(start).Seconds())
	}()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	typ, ok := acquisition.LookupType(req.Type)
	if !ok {
		return nil, validationError("unknown analysis type %q", req.Type)
	}

	params := q.params
	if req.Params != nil {
		params = params.Merge(*req.Params)
	}
	if req.TargetWavelength > 0 {
		params.TargetWavelength = req.TargetWavelength
	}
	if req.WindowNm > 0 {
		params.WindowNm = req.WindowNm
	}

	refs, err := q.references(req, params.ResamplePoints)
	if err != nil {
		return nil, err
	}

	analyses, err := q.measure(ctx, req, refs, params)
	if err != nil {
		return nil, err
	}

	var curve *calibration.Curve
	var dto *CurveDTO
	switch {
	case req.Curve != nil:
		c := req.Curve.Curve
		curve = &c
		dto = &CurveDTO{Curve: c, Notes: c.Check(params.MinR2, params.MinStandards)}
	case typ.NeedsCurve:
		curve, dto = q.fit(req.Samples, analyses, params)
	}

	resp = &AnalyzeResponse{
		Envelope: Envelope{Status: StatusSuccess},
		Type:     typ.Name,
		Samples:  make([]SampleResult, len(req.Samples)),
		Curve:    dto,
	}
	for i, s := range req.Samples {
		a := analyses[i]
		res := quant.Quantify(a.Reading, curve, params, a.Evidence)
		if s.Kind == KindUnknown && s.Dilution != nil {
			res = res.Scaled(*s.Dilution)
		}
		for _, flag := range res.QA.Flags() {
			if flag == "out_of_range" && curve == nil {
				continue
			}
			q.metrics.RecordQAFlag(flag)
		}

		out := SampleResult{ID: s.ID, Kind: s.Kind, Result: res}
		if typ.FullSpectrum {
			out.Spectrum = a.Points
		}
		resp.Samples[i] = out
	}
	return resp, nil
}

// references brings the request's reference spectra onto a grid of points
// samples. Request coefficients are expressed in the width of Dark and are
// rescaled along with the spectra.
func (q *LocalQuantifier) references(req *AnalyzeRequest, points int) (*quant.References, error) {
	width := len(req.Dark)
	var p2w device.PixelToWavelength
	if req.PixelToWavelength != nil {
		p2w = req.PixelToWavelength.Rescale(width, points)
	} else {
		var err error
		if p2w, err = q.coefficients(points); err != nil {
			return nil, err
		}
	}

	refs := &quant.References{
		Lambda:    p2w.Wavelengths(points),
		Dark:      spectrum.ResampleVector(Intensities(req.Dark), points),
		Reference: spectrum.ResampleVector(Intensities(req.Reference), points),
	}
	if len(req.Reference2) > 0 {
		refs.Reference2 = spectrum.ResampleVector(Intensities(req.Reference2), points)
	}

	// Without bounds the averaged spectra are the only saturation evidence.
	if len(req.ReferenceBounds) == 0 {
		refs.RawRef = spectrum.Matrix{refs.Reference}
		if len(refs.Reference2) > 0 {
			refs.RawRef = append(refs.RawRef, refs.Reference2)
		}
		return refs, nil
	}
	for _, b := range req.ReferenceBounds {
		refs.RawRef = append(refs.RawRef,
			spectrum.ResampleVector(b.Min, points),
			spectrum.ResampleVector(b.Max, points))
	}
	return refs, nil
}

// measure computes the window reading of every sample concurrently.
func (q *LocalQuantifier) measure(ctx context.Context, req *AnalyzeRequest, refs *quant.References, params quant.Params) ([]*quant.Analysis, error) {
	roi := q.roi(req.ROI)
	out := make([]*quant.Analysis, len(req.Samples))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.workers)
	for i := range req.Samples {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			burst, err := req.Samples[i].Burst.Matrix(roi)
			if err != nil {
				return errors.New(err).
					Component(componentName).
					Context("sample", i).
					Build()
			}
			a, err := quant.AnalyzeSample(refs, burst, nil, params)
			if err != nil {
				return errors.New(err).
					Component(componentName).
					Context("sample", i).
					Build()
			}
			out[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// fit builds a curve from the standards' readings. Standards with an invalid
// reading are passed with a nil absorbance so Fit skips them.
func (q *LocalQuantifier) fit(samples []SampleInput, analyses []*quant.Analysis, params quant.Params) (*calibration.Curve, *CurveDTO) {
	var standards []calibration.Standard
	for i, s := range samples {
		if s.Kind != KindStandard {
			continue
		}
		st := calibration.Standard{Concentration: *s.Concentration}
		if r := analyses[i].Reading; r.Valid {
			a := r.Mean
			st.Absorbance = &a
		}
		standards = append(standards, st)
	}

	curve := calibration.Fit(standards)
	if curve == nil {
		q.metrics.RecordCurveFit("degenerate")
		q.log.Info("no calibration curve could be fitted",
			logger.Int("standards", len(standards)))
		return nil, nil
	}
	q.metrics.RecordCurveFit("success")
	q.log.Info("calibration curve fitted",
		logger.Float64("slope", curve.Slope),
		logger.Float64("intercept", curve.Intercept),
		logger.Float64("r2", curve.R2),
		logger.Int("standards", curve.N))
	return curve, &CurveDTO{Curve: *curve, Notes: curve.Check(params.MinR2, params.MinStandards)}
}
