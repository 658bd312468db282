package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Robogera/analytics/pkg/assoc"
	"github.com/Robogera/analytics/pkg/crossing"
	"github.com/Robogera/analytics/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanity(t *testing.T) {
	cfg, err := Unmarshal("../../cfg/config.default.toml")
	require.NoError(t, err)

	assert.Equal(t, "entrance", cfg.Input.Source)
	assert.Equal(t, uint(2), cfg.Model.Lanes)
	assert.Equal(t, frame.TaskStream, cfg.Task())
	require.Len(t, cfg.Crossing.Lines, 1)

	cross, err := cfg.CrossingConfig()
	require.NoError(t, err)
	require.Len(t, cross.Lines, 1)
	assert.Equal(t, "door", cross.Lines[0].Name)
	assert.Equal(t, []string{"person"}, cross.Labels)
}

func TestCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.toml")
	require.NoError(t, CreateDefault(path))

	cfg, err := Unmarshal(path)
	require.NoError(t, err)
	def := Default()
	assert.Equal(t, def.Model.Path, cfg.Model.Path)
	assert.Equal(t, def.Dispatch.HighWaterMark, cfg.Dispatch.HighWaterMark)
	assert.Equal(t, uint(5), cfg.Dispatch.DrainTimeoutSec)
	assert.Equal(t, def.TrackerConfig(), cfg.TrackerConfig())
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestMissingFile(t *testing.T) {
	_, err := Unmarshal(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestValidationReportsEveryField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	data := `
[logging]
level = "loud"

[model]
format = "tensorflow"

[tracker]
matcher = "random"

[[crossing.lines]]
name = "dot"
points = [[1, 1]]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	_, err := Unmarshal(path)
	require.ErrorIs(t, err, ERR_INVALID_CONFIG)
	require.ErrorIs(t, err, crossing.ERR_BAD_LINE)
	for _, field := range []string{"logging.level", "model.format", "tracker.matcher"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Tracker.Matcher = "hungarian"
	cfg.Input.Task = "export"
	cfg.Debounce.IntervalSec = 0.5
	cfg.Logging.Level = "debug"

	assert.Equal(t, assoc.Hungarian, cfg.TrackerConfig().Matcher)
	assert.Equal(t, frame.TaskExport, cfg.Task())
	assert.Equal(t, 13, cfg.DebounceConfig(25).WindowSize())
	assert.Equal(t, "DEBUG", cfg.LogLevel().String())
	assert.Equal(t, frame.KindDetection, cfg.Model.FrameKind())

	classifier := cfg.Model
	classifier.Kind = "classification"
	assert.Equal(t, frame.KindClassification, classifier.FrameKind())
}

func TestSimNeedsNoPath(t *testing.T) {
	cfg := Default()
	cfg.Model.Format = "sim"
	cfg.Model.Path = ""
	require.NoError(t, cfg.Validate())

	cfg.Model.Format = "onnx"
	require.Error(t, cfg.Validate())
}
