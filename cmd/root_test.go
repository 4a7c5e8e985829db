package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specphone/specphone/internal/buildinfo"
	"github.com/specphone/specphone/internal/conf"
	"github.com/specphone/specphone/internal/device"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// execute runs the CLI against a config rooted in dir and returns stdout.
func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	config := writeFile(t, dir, "config.yaml", `
device:
  profilepath: `+filepath.Join(dir, "profile.yaml")+`
storage:
  type: sqlite
  path: `+filepath.Join(dir, "curves.db")+`
`)

	ctx := conf.NewContext(&buildinfo.Context{Version: "test"})
	root := RootCommand(ctx)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--config", config}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestProfileImportAndShow(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(t.TempDir(), "captured.yaml")
	require.NoError(t, device.SaveFile(src, &device.Profile{
		PixelToWavelength: device.PixelToWavelength{A0: 400, A1: 0.5},
		ROI:               device.ROI{W: 600, H: 20},
		DeviceHash:        "phone-a",
	}))

	out, err := execute(t, dir, "profile", "import", src)
	require.NoError(t, err)
	assert.Contains(t, out, "imported profile phone-a")

	out, err = execute(t, dir, "profile", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "device_hash: phone-a")
}

func TestProfileImportRejectsInvalidProfile(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, t.TempDir(), "bad.yaml", "roi: {w: 0, h: 0}\n")

	_, err := execute(t, dir, "profile", "import", src)
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "profile.yaml"))
}

func TestFitAndSave(t *testing.T) {
	dir := t.TempDir()
	standards := writeFile(t, dir, "standards.json", `[
		{"concentration": 0, "absorbance": 0.0},
		{"concentration": 1, "absorbance": 0.1},
		{"concentration": 2, "absorbance": 0.2},
		{"concentration": 3, "absorbance": null}
	]`)

	out, err := execute(t, dir, "fit", standards, "--name", "nitrite", "--save")
	require.NoError(t, err)

	var result struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Curve struct {
			Slope float64 `json:"slope"`
			N     int     `json:"n"`
		} `json:"curve"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result), out)
	assert.NotEmpty(t, result.ID)
	assert.Equal(t, "nitrite", result.Name)
	assert.InDelta(t, 0.1, result.Curve.Slope, 1e-9)
	assert.Equal(t, 3, result.Curve.N)
}

func TestFitDegenerateStandards(t *testing.T) {
	dir := t.TempDir()
	standards := writeFile(t, dir, "standards.json", `[
		{"concentration": 1, "absorbance": 0.1},
		{"concentration": 1, "absorbance": 0.2}
	]`)

	_, err := execute(t, dir, "fit", standards)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "do not determine a curve")
}

func TestAnalyzeReferences(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, device.SaveFile(filepath.Join(dir, "profile.yaml"), &device.Profile{
		PixelToWavelength: device.PixelToWavelength{A0: 500, A1: 0.5},
		ROI:               device.ROI{W: 4, H: 1},
		DeviceHash:        "bench",
	}))
	req := writeFile(t, dir, "refs.json", `{
		"dark": {"frames": [[10, 10, 10, 10], [12, 12, 12, 12]]},
		"reference": {"frames": [[200, 200, 200, 200], [202, 202, 202, 202]]},
		"resample_points": 4
	}`)

	out, err := execute(t, dir, "analyze", "--references", req)
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Dark   []struct {
			Pixel     int     `json:"pixel"`
			Intensity float64 `json:"intensity"`
		} `json:"dark"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.Equal(t, "success", resp.Status)
	require.Len(t, resp.Dark, 4)
	assert.InDelta(t, 11.0, resp.Dark[0].Intensity, 1e-9)

	req = writeFile(t, dir, "refs.json", `{
		"dark": {"frames": [[10, 10, 10, 10]]},
		"reference": {"frames": [[200, 200, 200, 200]]}
	}`)
	out, err = execute(t, dir, "analyze", "--references", req)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.Len(t, resp.Dark, 2048, "the configured canonical length applies by default")
}
