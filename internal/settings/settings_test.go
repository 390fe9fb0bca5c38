package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	s := Default()
	require.NoError(t, s.Validate())
	assert.Equal(t, 5, s.Window.Radius)
	assert.Equal(t, 15, s.Window.MaxRadius)
	assert.Equal(t, 5, s.Window.MissIncrement)
	assert.Equal(t, "#ffffff", s.Render.Color)
	assert.Equal(t, ModeChannel, s.Render.Mode)

	p, err := s.Params()
	require.NoError(t, err)
	assert.True(t, p.Visible)
	assert.Equal(t, 1.0, p.Contrast)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	s, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	require.NoError(t, err)
	assert.Equal(t, Default(), s)
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
window:
  radius: 2
  maxRadius: 4
render:
  mode: segmentation
  color: "#ff0000"
memory:
  watchdogInterval: 1m
`), 0o644))

	s, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Window.Radius)
	assert.Equal(t, 4, s.Window.MaxRadius)
	assert.Equal(t, 5, s.Window.MissIncrement, "unset keys keep their default")
	assert.Equal(t, ModeSegmentation, s.Render.Mode)
	assert.Equal(t, time.Minute, s.Memory.WatchdogInterval)
}

func TestLoad_BadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("window: [1, 2"), 0o644))
	_, err := Load(path, "")
	require.ErrorContains(t, err, "error parsing settings file")

	require.NoError(t, os.WriteFile(path, []byte("window:\n  radius: 40\n"), 0o644))
	_, err = Load(path, "")
	require.ErrorContains(t, err, "invalid window")
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	s := Default()
	require.NoError(t, applyEnv(s, map[string]string{
		"SLICECACHE_WINDOW_RADIUS":            "3",
		"SLICECACHE_RENDER_COLOR":             "#00ff00",
		"SLICECACHE_RENDER_AUTO_LEVELS":       "true",
		"SLICECACHE_SCHEDULER_CONCURRENCY":    "8",
		"SLICECACHE_MEMORY_WATCHDOG_INTERVAL": "30s",
		"WINDOW_RADIUS":                       "9",
	}))
	assert.Equal(t, 3, s.Window.Radius)
	assert.Equal(t, 15, s.Window.MaxRadius)
	assert.Equal(t, "#00ff00", s.Render.Color)
	assert.True(t, s.Render.AutoLevels)
	assert.Equal(t, int64(8), s.Scheduler.Concurrency)
	assert.Equal(t, 30*time.Second, s.Memory.WatchdogInterval)

	err := applyEnv(s, map[string]string{"SLICECACHE_WINDOW_RADIUS": "many"})
	require.ErrorContains(t, err, "error parsing settings environment")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr string
	}{
		{"radius above max", func(s *Settings) { s.Window.Radius = 20 }, "invalid window"},
		{"negative increment", func(s *Settings) { s.Window.MissIncrement = -1 }, "missIncrement"},
		{"unknown mode", func(s *Settings) { s.Render.Mode = "volume" }, "invalid render mode"},
		{"bad color", func(s *Settings) { s.Render.Color = "red" }, "invalid render color"},
		{"bad contrast", func(s *Settings) { s.Render.Contrast = 3 }, "invalid contrast"},
		{"bad mask level", func(s *Settings) { s.Render.MaskLevel = 2 }, "invalid mask level"},
		{"no workers", func(s *Settings) { s.Scheduler.Concurrency = 0 }, "concurrency"},
		{"normal limit too high", func(s *Settings) { s.Scheduler.NormalLimit = 4 }, "normalLimit"},
		{"no memory bound", func(s *Settings) { s.Memory.MaxBytes = 0 }, "invalid memory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := Default()
			tt.mutate(s)
			require.ErrorContains(t, s.Validate(), tt.wantErr)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")
	s := Default()
	s.Window.Radius = 7
	s.Memory.WatchdogInterval = 90 * time.Second
	require.NoError(t, Save(s, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "watchdogInterval: 1m30s")

	loaded, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, s, loaded)
}
