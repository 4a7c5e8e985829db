package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for line := range strings.SplitSeq(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), "line: %s", line)
		out = append(out, m)
	}
	return out
}

func nanValue() float64 { return math.NaN() }

func TestSlogLoggerFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelDebug, time.UTC).Module("calibration")

	log.Info("curve fitted",
		String("curve_id", "c-1"),
		Int("standards", 5),
		Float64("r2", 0.998071234),
		Bool("accepted", true),
		Duration("elapsed", 1500*time.Millisecond),
		Error(errors.New("boom")))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	rec := lines[0]
	assert.Equal(t, "curve fitted", rec["msg"])
	assert.Equal(t, "calibration", rec["module"])
	assert.Equal(t, "c-1", rec["curve_id"])
	assert.InDelta(t, 5, rec["standards"], 0)
	assert.InDelta(t, 0.998, rec["r2"], 1e-12)
	assert.Equal(t, true, rec["accepted"])
	assert.Equal(t, "1.5s", rec["elapsed"])
	assert.Equal(t, "boom", rec["error"])
}

func TestLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelWarn, time.UTC)

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown")
	log.Log(LogLevelError, "also shown")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "shown", lines[0]["msg"])
	assert.Equal(t, "ERROR", lines[1]["level"])
}

func TestTraceLevelRendering(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelTrace, time.UTC)

	log.Trace("sql query")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "TRACE", lines[0]["level"])
}

func TestSubModuleAndWith(t *testing.T) {
	buf := &bytes.Buffer{}
	base := NewSlogLogger(buf, LogLevelInfo, time.UTC).Module("analysis")
	child := base.Module("remote").With(String("endpoint", "/analyze"))

	child.Info("request sent")
	base.Info("base untouched")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "analysis.remote", lines[0]["module"])
	assert.Equal(t, "/analyze", lines[0]["endpoint"])
	assert.NotContains(t, lines[1], "endpoint")
}

func TestWithContextTraceID(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo, time.UTC)

	log.WithContext(WithTraceID(context.Background(), "req-42")).Info("handled")
	log.WithContext(context.Background()).Info("no trace")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "req-42", lines[0]["trace_id"])
	assert.NotContains(t, lines[1], "trace_id")
}

func TestNonFiniteFloatField(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo, time.UTC)

	log.Info("invalid absorbance", Float64("a", nanValue()))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "NaN", lines[0]["a"])
}

func TestCentralLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "specphone.log")
	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "debug",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: path, Level: "debug"},
		ModuleLevels: map[string]string{"api": "error"},
	})
	require.NoError(t, err)

	cl.Module("quant").Debug("quantified", Float64("c", 2.5))
	cl.Module("api").Info("dropped by module level")
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := decodeLines(t, bytes.NewBuffer(data))
	require.Len(t, lines, 1)
	assert.Equal(t, "quant", lines[0]["module"])
	assert.InDelta(t, 2.5, lines[0]["c"], 0)
}

func TestCentralLoggerRejectsBadTimezone(t *testing.T) {
	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)

	_, err = NewCentralLogger(nil)
	require.Error(t, err)
}

func TestGlobalFallback(t *testing.T) {
	SetGlobal(nil)
	t.Cleanup(func() { SetGlobal(nil) })

	require.NotNil(t, Global())
	assert.NotNil(t, Global().Module("device"))
}

func TestGormLoggerAdapter(t *testing.T) {
	buf := &bytes.Buffer{}
	a := NewGormLoggerAdapter(NewSlogLogger(buf, LogLevelTrace, time.UTC), time.Second)
	ctx := WithTraceID(context.Background(), "req-1")
	sql := func() (string, int64) { return "SELECT 1", 1 }

	a.Trace(ctx, time.Now(), sql, nil)
	a.Trace(ctx, time.Now(), sql, gorm.ErrRecordNotFound)
	a.Trace(ctx, time.Now(), sql, errors.New("disk I/O error"))
	a.Trace(ctx, time.Now().Add(-2*time.Second), sql, nil)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 4)
	assert.Equal(t, "statement", lines[0]["msg"])
	assert.Equal(t, "statement", lines[1]["msg"])
	assert.Equal(t, "statement failed", lines[2]["msg"])
	assert.Equal(t, "slow statement", lines[3]["msg"])
	for _, l := range lines {
		assert.Equal(t, "SELECT 1", l["sql"])
		assert.Equal(t, "req-1", l["trace_id"])
	}
}
