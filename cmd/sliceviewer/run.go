package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/espina-project/slicecache/pkg/checkpointer"
	"github.com/espina-project/slicecache/pkg/data/sqlite/session"
	"github.com/espina-project/slicecache/pkg/metrics"
	"github.com/espina-project/slicecache/pkg/scheduler"
	"github.com/espina-project/slicecache/pkg/slicewindow"
	"github.com/espina-project/slicecache/pkg/surface"
	"github.com/espina-project/slicecache/pkg/utils"
	"github.com/espina-project/slicecache/pkg/volume"
)

func run(c *cli.Context) error {
	// Build configuration from CLI flags
	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}
	if cfg.LogFile == "" {
		return errors.New("log-file is required: the viewer owns the terminal")
	}

	sugar, err := utils.NewSugaredLogger(cfg.Verbose, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	sugar.Infow("config",
		"verbose", cfg.Verbose,
		"settings", cfg.SettingsPath,
		"volume", cfg.VolumeID(),
		"axis", cfg.Axis,
		"position", cfg.Position,
		"radius", cfg.Settings.Window.Radius,
		"maxRadius", cfg.Settings.Window.MaxRadius,
		"missIncrement", cfg.Settings.Window.MissIncrement,
		"renderMode", cfg.Settings.Render.Mode,
		"concurrency", cfg.Settings.Scheduler.Concurrency,
		"normalLimit", cfg.Settings.Scheduler.NormalLimit,
		"sessionDB", cfg.SessionDB,
		"checkpointInterval", cfg.CheckpointInterval,
		"metricsHost", cfg.MetricsHost,
		"metricsPort", cfg.MetricsPort,
		"environment", cfg.Environment,
	)

	vol, err := cfg.LoadVolume()
	if err != nil {
		return fmt.Errorf("failed to load volume: %w", err)
	}

	// Initialize Prometheus metrics with labels for multi-instance filtering
	registry := prometheus.NewRegistry()
	m, err := metrics.NewWithLabels(registry, metrics.Labels{
		Volume:      cfg.VolumeID(),
		Axis:        cfg.Axis.String(),
		Environment: cfg.Environment,
	})
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := session.NewRepository(ctx, cfg.SessionDB, cfg.SessionTable)
	if err != nil {
		return fmt.Errorf("failed to create session repository: %w", err)
	}
	defer repo.Close()

	cacheCfg, err := cfg.CacheConfig()
	if err != nil {
		return fmt.Errorf("failed to build cache config: %w", err)
	}
	start, err := resume(ctx, sugar, repo, cfg, vol, &cacheCfg)
	if err != nil {
		return err
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("failed to create screen: %w", err)
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("failed to initialize screen: %w", err)
	}
	defer screen.Fini()
	term := surface.NewTerminal(screen)

	loop := scheduler.NewLoop()
	sched, err := scheduler.New(sugar, loop, cfg.Settings.Scheduler.Concurrency, cfg.Settings.Scheduler.NormalLimit, m)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	cache, err := slicewindow.New(sugar, vol, cfg.NewWorker(), term, sched, cacheCfg, m)
	if err != nil {
		return fmt.Errorf("failed to create slice cache: %w", err)
	}

	v := &viewer{
		log:           sugar,
		loop:          loop,
		cache:         cache,
		term:          term,
		vol:           vol,
		state:         checkpointer.NewState(checkpointer.Session{}),
		volumeID:      cfg.VolumeID(),
		colors:        palette(),
		quit:          stop,
		frameInterval: cfg.FrameInterval,
		closeTimeout:  cfg.CloseTimeout,
	}
	v.setPosition(start)
	if cfg.Settings.Render.AutoLevels {
		v.autoLevels()
	}

	// Run the loop, the scheduler and the background writers concurrently using errgroup
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return v.Run(gctx)
	})

	g.Go(func() error {
		return sched.Run(gctx)
	})

	if cfg.MetricsPort > 0 {
		metricsServer := metrics.NewServer(cfg.MetricsAddr(), registry, cache.PublishedStatus)
		metricsErrCh := metricsServer.Start()
		sugar.Infof("metrics server listening on http://%s/metrics", cfg.MetricsAddr())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				sugar.Warnw("failed to shutdown metrics server", "error", err)
			}
		}()

		// Metrics server error monitoring goroutine
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case err, ok := <-metricsErrCh:
				if !ok {
					return nil
				}
				return fmt.Errorf("metrics server failed: %w", err)
			}
		})
	}

	g.Go(func() error {
		return checkpointer.Start(gctx, sugar, v.state, repo, cfg.CheckpointConfig(), m)
	})

	g.Go(func() error {
		slicewindow.StartMemoryWatchdog(gctx, sugar, cache, cfg.Settings.Memory.WatchdogInterval, cfg.Settings.Memory.MaxBytes)
		return nil
	})

	// Returns once the screen is finalized, so it is not part of the group.
	go v.post(screen)

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		sugar.Infow("exiting due to context cancellation")
		return nil
	}
	if err != nil {
		sugar.Errorw("run failed", "error", err)
		return err
	}

	sugar.Info("shutdown complete")
	return nil
}

// resume picks the starting slice: the flag if set, otherwise the saved
// session of the volume, otherwise the middle of the stack. A saved session
// also restores the window radius.
func resume(
	ctx context.Context,
	log *zap.SugaredLogger,
	repo checkpointer.Checkpointer,
	cfg *Config,
	vol *volume.Volume,
	cacheCfg *slicewindow.Config,
) (int, error) {
	lo, hi := vol.Extent(cfg.Axis)
	if hi <= lo {
		return 0, fmt.Errorf("volume has no slices along %s", cfg.Axis)
	}
	if cfg.Position >= 0 {
		return max(lo, min(cfg.Position, hi-1)), nil
	}

	saved, exists, err := repo.Read(ctx, cfg.VolumeID())
	if err != nil {
		return 0, fmt.Errorf("failed to read session: %w", err)
	}
	if !exists || saved.Axis != cfg.Axis || saved.Position < lo || saved.Position >= hi {
		log.Infow("no usable session, starting in the middle", "volume", cfg.VolumeID(), "found", exists)
		return lo + (hi-lo)/2, nil
	}

	if saved.WindowRadius >= 0 && saved.WindowRadius <= cacheCfg.MaxRadius {
		cacheCfg.Radius = saved.WindowRadius
	}
	log.Infow("resuming session",
		"volume", saved.VolumeID,
		"position", saved.Position,
		"radius", cacheCfg.Radius,
		"updatedAt", saved.UpdatedAt,
	)
	return saved.Position, nil
}
