// Package settings holds the persisted viewer settings: a YAML file, an
// optional dotenv file and SLICECACHE_* environment variables, applied in that
// order over the defaults.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/lucasb-eyer/go-colorful"
	"gopkg.in/yaml.v3"

	"github.com/espina-project/slicecache/pkg/render"
	"github.com/espina-project/slicecache/pkg/slicewindow"
	"github.com/espina-project/slicecache/pkg/slicewindow/worker"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "SLICECACHE_"

// Render modes.
const (
	ModeChannel      = "channel"
	ModeSegmentation = "segmentation"
)

type Window struct {
	Radius        int `yaml:"radius" env:"WINDOW_RADIUS"`
	MaxRadius     int `yaml:"maxRadius" env:"WINDOW_MAX_RADIUS"`
	MissIncrement int `yaml:"missIncrement" env:"WINDOW_MISS_INCREMENT"`
}

type Render struct {
	Mode       string  `yaml:"mode" env:"RENDER_MODE"`
	Color      string  `yaml:"color" env:"RENDER_COLOR"`
	Brightness float64 `yaml:"brightness" env:"RENDER_BRIGHTNESS"`
	Contrast   float64 `yaml:"contrast" env:"RENDER_CONTRAST"`
	Opacity    float64 `yaml:"opacity" env:"RENDER_OPACITY"`
	// MaskLevel is the segmentation threshold.
	MaskLevel float64 `yaml:"maskLevel" env:"RENDER_MASK_LEVEL"`
	// AutoLevels derives brightness and contrast from the first slice shown.
	AutoLevels bool `yaml:"autoLevels" env:"RENDER_AUTO_LEVELS"`
}

type Scheduler struct {
	Concurrency int64 `yaml:"concurrency" env:"SCHEDULER_CONCURRENCY"`
	// NormalLimit caps how many workers neighbour slices may take.
	NormalLimit int64 `yaml:"normalLimit" env:"SCHEDULER_NORMAL_LIMIT"`
}

type Memory struct {
	MaxBytes         int64         `yaml:"maxBytes" env:"MEMORY_MAX_BYTES"`
	WatchdogInterval time.Duration `yaml:"watchdogInterval" env:"MEMORY_WATCHDOG_INTERVAL"`
}

// Settings is the persisted configuration of the viewer.
type Settings struct {
	Window    Window    `yaml:"window"`
	Render    Render    `yaml:"render"`
	Scheduler Scheduler `yaml:"scheduler"`
	Memory    Memory    `yaml:"memory"`
}

// Default returns the built-in settings.
func Default() *Settings {
	cfg := slicewindow.DefaultConfig()
	params := render.DefaultParams()
	return &Settings{
		Window: Window{
			Radius:        cfg.Radius,
			MaxRadius:     cfg.MaxRadius,
			MissIncrement: cfg.MissIncrement,
		},
		Render: Render{
			Mode:       ModeChannel,
			Color:      params.Color.Hex(),
			Brightness: params.Brightness,
			Contrast:   params.Contrast,
			Opacity:    params.Opacity,
			MaskLevel:  worker.DefaultMaskLevel,
		},
		Scheduler: Scheduler{
			Concurrency: 4,
			NormalLimit: 3,
		},
		Memory: Memory{
			MaxBytes:         256 << 20,
			WatchdogInterval: 10 * time.Second,
		},
	}
}

// Load reads the YAML file at path (a missing file means defaults), then the
// dotenv file if one is given and exists, then the environment.
func Load(path, dotenvPath string) (*Settings, error) {
	s := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("error reading settings file: %w", err)
		default:
			if err := yaml.Unmarshal(data, s); err != nil {
				return nil, fmt.Errorf("error parsing settings file: %w", err)
			}
		}
	}

	if dotenvPath != "" {
		// existing environment variables win over the dotenv file
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error loading dotenv file: %w", err)
		}
	}

	if err := applyEnv(s, nil); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// applyEnv overrides s from environ, or from the process environment when
// environ is nil.
func applyEnv(s *Settings, environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(s, opts); err != nil {
		return fmt.Errorf("error parsing settings environment: %w", err)
	}
	return nil
}

// Validate checks the settings the cache and scheduler would reject anyway, so
// the error names the setting.
func (s *Settings) Validate() error {
	w := s.Window
	if w.MaxRadius < 0 || w.Radius < 0 || w.Radius > w.MaxRadius {
		return fmt.Errorf("invalid window: radius %d must be between 0 and maxRadius %d", w.Radius, w.MaxRadius)
	}
	if w.MissIncrement < 0 {
		return fmt.Errorf("invalid window: missIncrement %d must not be negative", w.MissIncrement)
	}
	if s.Render.Mode != ModeChannel && s.Render.Mode != ModeSegmentation {
		return fmt.Errorf("invalid render mode %q: must be %s or %s", s.Render.Mode, ModeChannel, ModeSegmentation)
	}
	if _, err := s.Params(); err != nil {
		return err
	}
	if s.Render.MaskLevel < 0 || s.Render.MaskLevel > 1 {
		return fmt.Errorf("invalid mask level %v: must be in [0, 1]", s.Render.MaskLevel)
	}
	if s.Scheduler.Concurrency <= 0 {
		return errors.New("invalid scheduler concurrency: must be positive")
	}
	if s.Scheduler.NormalLimit <= 0 || s.Scheduler.NormalLimit >= s.Scheduler.Concurrency {
		return fmt.Errorf("invalid scheduler normalLimit %d: must be between 1 and concurrency-1", s.Scheduler.NormalLimit)
	}
	if s.Memory.MaxBytes <= 0 || s.Memory.WatchdogInterval <= 0 {
		return errors.New("invalid memory settings: maxBytes and watchdogInterval must be positive")
	}
	return nil
}

// Params converts the render settings.
func (s *Settings) Params() (render.Params, error) {
	c, err := colorful.Hex(s.Render.Color)
	if err != nil {
		return render.Params{}, fmt.Errorf("invalid render color %q: %w", s.Render.Color, err)
	}
	p := render.Params{
		Color:      c,
		Brightness: s.Render.Brightness,
		Contrast:   s.Render.Contrast,
		Opacity:    s.Render.Opacity,
		Visible:    true,
	}
	if err := p.Validate(); err != nil {
		return render.Params{}, err
	}
	return p, nil
}

// Save writes s as YAML, creating the directory if needed.
func Save(s *Settings, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating settings directory: %w", err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("error marshaling settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing settings file: %w", err)
	}
	return nil
}
