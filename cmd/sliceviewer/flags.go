package main

import (
	"time"

	"github.com/urfave/cli/v2"
)

// volumeFlags select the data and how it is sliced. Shared by every command
// that needs a volume or its identifier.
func volumeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "volume-dir",
			Aliases: []string{"d"},
			Usage:   "Directory of PNG/JPEG slices, sorted by name. If not specified, a synthetic phantom is used",
			EnvVars: []string{"VOLUME_DIR"},
		},
		&cli.IntFlag{
			Name:    "phantom-width",
			Usage:   "Width of the synthetic phantom",
			EnvVars: []string{"PHANTOM_WIDTH"},
			Value:   96,
		},
		&cli.IntFlag{
			Name:    "phantom-height",
			Usage:   "Height of the synthetic phantom",
			EnvVars: []string{"PHANTOM_HEIGHT"},
			Value:   96,
		},
		&cli.IntFlag{
			Name:    "phantom-depth",
			Usage:   "Number of slices of the synthetic phantom",
			EnvVars: []string{"PHANTOM_DEPTH"},
			Value:   120,
		},
		&cli.StringFlag{
			Name:    "axis",
			Aliases: []string{"a"},
			Usage:   "Slicing axis (x/sagittal, y/coronal, z/axial)",
			EnvVars: []string{"AXIS"},
			Value:   "z",
		},
	}
}

func sessionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "session-db",
			Usage:   "SQLite database holding the saved sessions",
			EnvVars: []string{"SESSION_DB"},
			Value:   "sliceviewer.db",
		},
		&cli.StringFlag{
			Name:    "session-table",
			Usage:   "The name of the sessions table",
			EnvVars: []string{"SESSION_TABLE"},
			Value:   "sessions",
		},
	}
}

// commonFlags are accepted by run and bench.
func commonFlags() []cli.Flag {
	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable verbose logging",
			EnvVars: []string{"VERBOSE"},
			Value:   false,
		},
		&cli.StringFlag{
			Name:    "log-file",
			Usage:   "Write logs to this file instead of stderr",
			EnvVars: []string{"LOG_FILE"},
		},
		&cli.StringFlag{
			Name:    "settings",
			Aliases: []string{"s"},
			Usage:   "YAML settings file. Missing files fall back to the defaults",
			EnvVars: []string{"SETTINGS_FILE"},
			Value:   "sliceviewer.yaml",
		},
		&cli.StringFlag{
			Name:    "env-file",
			Usage:   "Optional dotenv file with SLICECACHE_* overrides",
			EnvVars: []string{"ENV_FILE"},
			Value:   ".env",
		},
		&cli.IntFlag{
			Name:    "position",
			Aliases: []string{"p"},
			Usage:   "Initial slice. Negative resumes the saved session or starts in the middle",
			EnvVars: []string{"POSITION"},
			Value:   -1,
		},
		&cli.StringFlag{
			Name:    "metrics-host",
			Usage:   "Host for Prometheus metrics server (empty for all interfaces)",
			EnvVars: []string{"METRICS_HOST"},
			Value:   "",
		},
		&cli.IntFlag{
			Name:    "metrics-port",
			Usage:   "Port for Prometheus metrics server. 0 disables it",
			EnvVars: []string{"METRICS_PORT"},
			Value:   9090,
		},
		&cli.StringFlag{
			Name:    "environment",
			Aliases: []string{"E"},
			Usage:   "Deployment environment label for metrics (e.g., 'development', 'lab')",
			EnvVars: []string{"ENVIRONMENT"},
		},
		&cli.DurationFlag{
			Name:    "close-timeout",
			Usage:   "How long to wait for running slice renders on shutdown",
			EnvVars: []string{"CLOSE_TIMEOUT"},
			Value:   5 * time.Second,
		},
	}
	return append(flags, volumeFlags()...)
}

// runFlags returns all CLI flags for the run command
func runFlags() []cli.Flag {
	flags := append(commonFlags(), sessionFlags()...)
	return append(flags,
		&cli.DurationFlag{
			Name:    "checkpoint-interval",
			Aliases: []string{"i"},
			Usage:   "The interval to write the session to the database",
			EnvVars: []string{"CHECKPOINT_INTERVAL"},
			Value:   5 * time.Second,
		},
		&cli.DurationFlag{
			Name:    "frame-interval",
			Usage:   "How often the terminal is repainted",
			EnvVars: []string{"FRAME_INTERVAL"},
			Value:   33 * time.Millisecond,
		},
	)
}

func benchFlags() []cli.Flag {
	return append(commonFlags(),
		&cli.StringFlag{
			Name:    "pattern",
			Usage:   "Scrub pattern (sweep or jumps)",
			EnvVars: []string{"BENCH_PATTERN"},
			Value:   "sweep",
		},
		&cli.IntFlag{
			Name:    "passes",
			Usage:   "Number of sweeps over the whole stack",
			EnvVars: []string{"BENCH_PASSES"},
			Value:   2,
		},
		&cli.IntFlag{
			Name:    "steps",
			Usage:   "Number of positions in the jumps pattern",
			EnvVars: []string{"BENCH_STEPS"},
			Value:   500,
		},
		&cli.IntFlag{
			Name:    "step",
			Usage:   "Largest single scroll in the jumps pattern",
			EnvVars: []string{"BENCH_STEP"},
			Value:   2,
		},
		&cli.Float64Flag{
			Name:    "jump-rate",
			Usage:   "Probability of a random jump per step in the jumps pattern",
			EnvVars: []string{"BENCH_JUMP_RATE"},
			Value:   0.05,
		},
		&cli.Uint64Flag{
			Name:    "seed",
			Usage:   "Seed of the jumps pattern",
			EnvVars: []string{"BENCH_SEED"},
			Value:   1,
		},
		&cli.DurationFlag{
			Name:    "interval",
			Usage:   "Delay between two scrub positions",
			EnvVars: []string{"BENCH_INTERVAL"},
			Value:   5 * time.Millisecond,
		},
	)
}

func initConfigFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "settings",
			Aliases: []string{"s"},
			Usage:   "Where to write the settings file",
			EnvVars: []string{"SETTINGS_FILE"},
			Value:   "sliceviewer.yaml",
		},
		&cli.BoolFlag{
			Name:    "force",
			Aliases: []string{"f"},
			Usage:   "Overwrite an existing file",
		},
	}
}

func forgetFlags() []cli.Flag {
	flags := append(volumeFlags(), sessionFlags()...)
	return append(flags,
		&cli.StringFlag{
			Name:  "volume-id",
			Usage: "Session to delete. If not specified, derived from the volume flags",
		},
	)
}
