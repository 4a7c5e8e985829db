package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"github.com/specphone/specphone/internal/analysis"
	"github.com/specphone/specphone/internal/calibration"
	"github.com/specphone/specphone/internal/device"
	"github.com/specphone/specphone/internal/errors"
	"github.com/specphone/specphone/internal/observability/metrics"
	"github.com/specphone/specphone/internal/quant"
	"github.com/specphone/specphone/internal/spectrum"
)

const testWidth = 101

func flatBurst(frames int, value float64) spectrum.Matrix {
	m := make(spectrum.Matrix, frames)
	for i := range m {
		row := make([]float64, testWidth)
		for j := range row {
			row[j] = value
		}
		m[i] = row
	}
	return m
}

type testEnv struct {
	server  *Server
	store   *device.Store
	library *calibration.Library
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, opts ...ServerOption) *testEnv {
	t.Helper()

	store := device.NewStore("")
	require.NoError(t, store.Set(device.Profile{
		PixelToWavelength: device.PixelToWavelength{A0: 490, A1: 0.5},
		ROI:               device.ROI{W: testWidth, H: 4},
		DeviceHash:        "bench",
	}))

	lib, err := calibration.Open(sqlite.Open(filepath.Join(t.TempDir(), "curves.db")), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lib.Close() })

	m, err := metrics.New()
	require.NoError(t, err)

	params := quant.DefaultParams()
	params.FullScale = 4095
	params.SaturationLowPct = 1
	q := analysis.NewLocalQuantifier(store, params, analysis.WithMetrics(m))

	base := []ServerOption{WithProfiles(store), WithLibrary(lib), WithMetrics(m), WithParams(params), WithVersion("test")}
	s, err := New(DefaultConfig(), q, append(base, opts...)...)
	require.NoError(t, err)

	return &testEnv{server: s, store: store, library: lib, metrics: m}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.Echo().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, true, body["profile_loaded"])
	assert.Equal(t, true, body["curves_enabled"])
}

func TestProcessReferencesAndAnalyze(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/process-references", analysis.ProcessReferencesRequest{
		Dark:      analysis.Burst{Frames: flatBurst(2, 100)},
		Reference: analysis.Burst{Frames: flatBurst(2, 1100)},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	refs := decode[analysis.ProcessReferencesResponse](t, rec)
	assert.Equal(t, analysis.StatusSuccess, refs.Status)
	require.Len(t, refs.Dark, quant.DefaultParams().ResamplePoints)
	require.NotNil(t, refs.ReferenceBounds)

	rec = env.do(t, http.MethodPost, "/analyze", analysis.AnalyzeRequest{
		Type:      "absorbance",
		Dark:      refs.Dark,
		Reference: refs.Reference,
		Samples: []analysis.SampleInput{
			{ID: "s1", Kind: analysis.KindUnknown, Burst: analysis.Burst{Frames: flatBurst(2, 350)}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "success", body["status"])
	samples := body["samples"].([]any)
	require.Len(t, samples, 1)
	result := samples[0].(map[string]any)["result"].(map[string]any)
	assert.InDelta(t, 0.60206, result["a_mean"], 1e-4)
	assert.Nil(t, result["c"])
	assert.Nil(t, result["ci95"])
}

func TestErrorEnvelope(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		code   int
		msg    string
	}{
		{"missing bursts", http.MethodPost, "/process-references", map[string]any{}, http.StatusUnprocessableEntity, "dark and reference bursts are required"},
		{"malformed json", http.MethodPost, "/analyze", "{", http.StatusBadRequest, ""},
		{"unknown type", http.MethodPost, "/analyze", analysis.AnalyzeRequest{
			Type: "colour", Dark: analysis.PixelIntensities([]float64{1}), Reference: analysis.PixelIntensities([]float64{2}),
			Samples: []analysis.SampleInput{{Kind: analysis.KindUnknown, Burst: analysis.Burst{Frames: flatBurst(1, 1)}}},
		}, http.StatusBadRequest, "unknown analysis type"},
		{"curve not found", http.MethodGet, "/curves/missing", nil, http.StatusNotFound, "calibration curve not found"},
		{"unknown route", http.MethodGet, "/nope", nil, http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			body := decode[analysis.Envelope](t, rec)
			assert.Equal(t, analysis.StatusError, body.Status)
			assert.NotEmpty(t, body.Message)
			if tt.msg != "" {
				assert.Contains(t, body.Message, tt.msg)
			}
		})
	}
}

func TestCurveLifecycle(t *testing.T) {
	env := newTestEnv(t)
	a := func(v float64) *float64 { return &v }

	rec := env.do(t, http.MethodPost, "/curves", CreateCurveRequest{
		Name: "nitrite",
		Standards: []calibration.Standard{
			{Concentration: 0, Absorbance: a(0.002)},
			{Concentration: 1, Absorbance: a(0.101)},
			{Concentration: 2, Absorbance: a(0.199)},
			{Concentration: 3, Absorbance: a(0.302)},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[CurveResponse](t, rec)
	require.NotNil(t, created.Entry)
	id := created.Entry.ID
	assert.NotEmpty(t, id)
	assert.Equal(t, "nitrite", created.Entry.Name)
	assert.InDelta(t, 0.0999, created.Entry.Curve.Slope, 1e-3)

	rec = env.do(t, http.MethodGet, "/curves", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[CurveListResponse](t, rec)
	require.Len(t, list.Curves, 1)
	assert.Equal(t, id, list.Curves[0].ID)

	rec = env.do(t, http.MethodGet, "/curves/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[CurveResponse](t, rec)
	assert.Equal(t, 4, got.Entry.Curve.N)

	rec = env.do(t, http.MethodDelete, "/curves/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/curves/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateCurveRejectsDegenerateStandards(t *testing.T) {
	env := newTestEnv(t)
	a := func(v float64) *float64 { return &v }

	rec := env.do(t, http.MethodPost, "/curves", CreateCurveRequest{
		Standards: []calibration.Standard{
			{Concentration: 1, Absorbance: a(0.1)},
			{Concentration: 1, Absorbance: a(0.2)},
		},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodPost, "/curves", CreateCurveRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCurvesDisabledWithoutLibrary(t *testing.T) {
	q := analysis.NewLocalQuantifier(nil, quant.DefaultParams())
	s, err := New(DefaultConfig(), q)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/curves", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/analyze", analysis.AnalyzeRequest{Type: "absorbance"})

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `specphone_analyses_total{status="error",type="absorbance"} 1`), rec.Body.String())
}

func TestProfileEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/profile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[device.Profile](t, rec)
	assert.Equal(t, "bench", p.DeviceHash)
	assert.Equal(t, testWidth, p.ROI.W)
}

func TestProfileEndpointRescaled(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/profile?width=2048", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[device.Profile](t, rec)
	assert.Equal(t, 2048, p.SampleWidth)
	assert.InDelta(t, 490.0+0.5*float64(testWidth-1), p.PixelToWavelength.Wavelength(2047), 1e-9)

	rec = env.do(t, http.MethodGet, "/profile?width=wide", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadGateway, statusFor(errors.CategoryNetwork))
	assert.Equal(t, http.StatusConflict, statusFor(errors.CategoryState))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.CategoryDatabase))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.CategoryGeneric))
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Address())

	cfg.Port = ""
	assert.Error(t, cfg.Validate())

	_, err := New(&Config{Port: "1"}, analysis.NewLocalQuantifier(nil, quant.DefaultParams()))
	assert.Error(t, err)
}
