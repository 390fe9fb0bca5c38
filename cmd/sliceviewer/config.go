package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/espina-project/slicecache/internal/settings"
	"github.com/espina-project/slicecache/pkg/checkpointer"
	"github.com/espina-project/slicecache/pkg/render"
	"github.com/espina-project/slicecache/pkg/slicewindow"
	"github.com/espina-project/slicecache/pkg/slicewindow/worker"
	"github.com/espina-project/slicecache/pkg/volume"
)

// Config holds all configuration for the sliceviewer commands
type Config struct {
	// Application settings
	Verbose      bool
	LogFile      string
	SettingsPath string
	Settings     *settings.Settings

	// Volume settings
	VolumeDir     string
	PhantomWidth  int
	PhantomHeight int
	PhantomDepth  int
	Axis          volume.Axis
	Position      int

	// Session settings
	SessionDB          string
	SessionTable       string
	CheckpointInterval time.Duration

	// Shutdown and drawing
	CloseTimeout  time.Duration
	FrameInterval time.Duration

	// Metrics settings
	MetricsHost string
	MetricsPort int
	Environment string
}

// MetricsAddr returns the formatted metrics address
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.MetricsHost, c.MetricsPort)
}

// VolumeID names the volume in saved sessions and metric labels.
func (c *Config) VolumeID() string {
	if c.VolumeDir == "" {
		return fmt.Sprintf("phantom-%dx%dx%d", c.PhantomWidth, c.PhantomHeight, c.PhantomDepth)
	}
	if abs, err := filepath.Abs(c.VolumeDir); err == nil {
		return abs
	}
	return filepath.Clean(c.VolumeDir)
}

// LoadVolume reads the slice directory or builds the phantom.
func (c *Config) LoadVolume() (*volume.Volume, error) {
	if c.VolumeDir == "" {
		return volume.NewPhantom(c.PhantomWidth, c.PhantomHeight, c.PhantomDepth)
	}
	return volume.LoadDir(c.VolumeDir)
}

// CacheConfig converts the settings for slicewindow.New.
func (c *Config) CacheConfig() (slicewindow.Config, error) {
	params, err := c.Settings.Params()
	if err != nil {
		return slicewindow.Config{}, err
	}
	return slicewindow.Config{
		Axis:          c.Axis,
		Radius:        c.Settings.Window.Radius,
		MaxRadius:     c.Settings.Window.MaxRadius,
		MissIncrement: c.Settings.Window.MissIncrement,
		Params:        params,
	}, nil
}

// NewWorker returns the slice renderer for the configured mode.
func (c *Config) NewWorker() worker.Worker {
	if c.Settings.Render.Mode == settings.ModeSegmentation {
		return worker.NewSegmentationWorker(c.Settings.Render.MaskLevel)
	}
	return worker.NewChannelWorker(&render.LUTCache{})
}

func (c *Config) CheckpointConfig() checkpointer.Config {
	cfg := checkpointer.DefaultConfig()
	if c.CheckpointInterval > 0 {
		cfg.Interval = c.CheckpointInterval
	}
	return cfg
}

// buildConfig builds a Config from CLI context flags and the settings file
func buildConfig(c *cli.Context) (*Config, error) {
	axis, err := volume.ParseAxis(c.String("axis"))
	if err != nil {
		return nil, err
	}

	settingsPath := c.String("settings")
	s, err := settings.Load(settingsPath, c.String("env-file"))
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	cfg := &Config{
		Verbose:            c.Bool("verbose"),
		LogFile:            c.String("log-file"),
		SettingsPath:       settingsPath,
		Settings:           s,
		VolumeDir:          c.String("volume-dir"),
		PhantomWidth:       c.Int("phantom-width"),
		PhantomHeight:      c.Int("phantom-height"),
		PhantomDepth:       c.Int("phantom-depth"),
		Axis:               axis,
		Position:           c.Int("position"),
		SessionDB:          c.String("session-db"),
		SessionTable:       c.String("session-table"),
		CheckpointInterval: c.Duration("checkpoint-interval"),
		CloseTimeout:       c.Duration("close-timeout"),
		FrameInterval:      c.Duration("frame-interval"),
		MetricsHost:        c.String("metrics-host"),
		MetricsPort:        c.Int("metrics-port"),
		Environment:        c.String("environment"),
	}
	if cfg.VolumeDir == "" && (cfg.PhantomWidth <= 0 || cfg.PhantomHeight <= 0 || cfg.PhantomDepth <= 0) {
		return nil, errors.New("phantom dimensions must be positive")
	}
	if cfg.CloseTimeout <= 0 {
		return nil, errors.New("close-timeout must be positive")
	}
	return cfg, nil
}

// benchConfig holds the scrub pattern of the bench command
type benchConfig struct {
	Pattern  string
	Passes   int
	Steps    int
	Step     int
	JumpRate float64
	Seed     uint64
	Interval time.Duration
}

func buildBenchConfig(c *cli.Context) (*benchConfig, error) {
	cfg := &benchConfig{
		Pattern:  c.String("pattern"),
		Passes:   c.Int("passes"),
		Steps:    c.Int("steps"),
		Step:     c.Int("step"),
		JumpRate: c.Float64("jump-rate"),
		Seed:     c.Uint64("seed"),
		Interval: c.Duration("interval"),
	}
	switch cfg.Pattern {
	case patternSweep:
		if cfg.Passes <= 0 {
			return nil, errors.New("passes must be positive")
		}
	case patternJumps:
		if cfg.Steps <= 0 || cfg.Step <= 0 {
			return nil, errors.New("steps and step must be positive")
		}
		if cfg.JumpRate < 0 || cfg.JumpRate > 1 {
			return nil, fmt.Errorf("jump-rate must be in [0, 1], got %v", cfg.JumpRate)
		}
	default:
		return nil, fmt.Errorf("unknown pattern %q (must be %s or %s)", cfg.Pattern, patternSweep, patternJumps)
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	return cfg, nil
}
