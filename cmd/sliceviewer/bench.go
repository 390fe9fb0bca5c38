package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/espina-project/slicecache/pkg/metrics"
	"github.com/espina-project/slicecache/pkg/render"
	"github.com/espina-project/slicecache/pkg/scheduler"
	"github.com/espina-project/slicecache/pkg/slicewindow"
	"github.com/espina-project/slicecache/pkg/slicewindow/subscriber"
	"github.com/espina-project/slicecache/pkg/surface"
	"github.com/espina-project/slicecache/pkg/utils"
)

const (
	patternSweep = "sweep"
	patternJumps = "jumps"
)

// benchPositions expands the scrub pattern over [lo, hi).
func benchPositions(cfg *benchConfig, lo, hi int) []int {
	if cfg.Pattern == patternJumps {
		rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))
		return subscriber.Jumps(rng, lo, hi, cfg.Steps, cfg.Step, cfg.JumpRate)
	}
	return subscriber.Sweep(lo, hi, cfg.Passes)
}

// benchSummary is what a bench run reports.
type benchSummary struct {
	Positions   int
	Hits        float64
	Misses      float64
	FullJumps   float64
	ShiftSteps  float64
	Growths     float64
	Rendered    float64
	Aborted     float64
	FinalRadius int
	AvgTask     time.Duration
	BadRemoves  int
}

func (s benchSummary) hitRate() float64 {
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return s.Hits / (s.Hits + s.Misses)
}

func bench(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}
	bcfg, err := buildBenchConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build bench config: %w", err)
	}

	sugar, err := utils.NewSugaredLogger(cfg.Verbose, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	sugar.Infow("config",
		"volume", cfg.VolumeID(),
		"axis", cfg.Axis,
		"radius", cfg.Settings.Window.Radius,
		"maxRadius", cfg.Settings.Window.MaxRadius,
		"missIncrement", cfg.Settings.Window.MissIncrement,
		"concurrency", cfg.Settings.Scheduler.Concurrency,
		"pattern", bcfg.Pattern,
		"interval", bcfg.Interval,
	)

	vol, err := cfg.LoadVolume()
	if err != nil {
		return fmt.Errorf("failed to load volume: %w", err)
	}
	lo, hi := vol.Extent(cfg.Axis)
	positions := benchPositions(bcfg, lo, hi)

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

	cacheCfg, err := cfg.CacheConfig()
	if err != nil {
		return fmt.Errorf("failed to build cache config: %w", err)
	}
	loop := scheduler.NewLoop()
	sched, err := scheduler.New(sugar, loop, cfg.Settings.Scheduler.Concurrency, cfg.Settings.Scheduler.NormalLimit, m)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	rec := surface.NewRecorder(false)
	cache, err := slicewindow.New(sugar, vol, cfg.NewWorker(), rec, sched, cacheCfg, m)
	if err != nil {
		return fmt.Errorf("failed to create slice cache: %w", err)
	}
	script, err := subscriber.NewScript(sugar, positions, bcfg.Interval)
	if err != nil {
		return fmt.Errorf("failed to create scrub script: %w", err)
	}

	started := time.Now()
	summary, err := replay(ctx, script, loop, sched, cache, cfg.CloseTimeout)
	if errors.Is(err, context.Canceled) {
		sugar.Infow("exiting due to context cancellation")
		return nil
	}
	if err != nil {
		sugar.Errorw("bench failed", "error", err)
		return err
	}
	if err := summary.fill(registry); err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	summary.BadRemoves = rec.Counts().BadRemoves

	sugar.Infow("bench complete",
		"positions", summary.Positions,
		"elapsed", time.Since(started),
		"hitRate", summary.hitRate(),
		"misses", summary.Misses,
		"fullJumps", summary.FullJumps,
		"shiftSteps", summary.ShiftSteps,
		"windowGrowths", summary.Growths,
		"finalRadius", summary.FinalRadius,
		"rendered", summary.Rendered,
		"aborted", summary.Aborted,
		"avgTask", summary.AvgTask,
		"badRemoves", summary.BadRemoves,
	)
	fmt.Fprintf(c.App.Writer, "%d positions, hit rate %.1f%%, %v full jumps, radius %d, avg render %s\n",
		summary.Positions, 100*summary.hitRate(), summary.FullJumps, summary.FinalRadius, summary.AvgTask)
	return nil
}

// replay feeds the script into the cache while the calling goroutine plays the
// loop. Once the script is exhausted it waits for the last slice to be
// rendered, then closes the cache and stops the scheduler.
func replay(
	ctx context.Context,
	script *subscriber.Script,
	loop *scheduler.Loop,
	sched *scheduler.Scheduler,
	cache *slicewindow.Cache,
	closeTimeout time.Duration,
) (benchSummary, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return sched.Run(gctx)
	})

	done := make(chan struct{})
	g.Go(func() error {
		err := script.Subscribe(gctx, loop, cache)
		// runs after every position posted by the script
		loop.Post(func() { close(done) })
		return err
	})

	var summary benchSummary
	g.Go(func() error {
		defer cancel()
		scriptDone := done
		var deadline <-chan time.Time
		for {
			loop.RunPending()
			if scriptDone == nil {
				if _, ok := cache.Shown().(*render.Image); ok {
					break
				}
			}
			select {
			case <-gctx.Done():
				return closeCache(gctx, loop, cache, closeTimeout)
			case <-scriptDone:
				scriptDone = nil
				deadline = time.After(closeTimeout)
			case <-loop.Ready():
			case <-deadline:
				return errors.Join(
					errors.New("last slice was not rendered in time"),
					closeCache(gctx, loop, cache, closeTimeout),
				)
			}
		}
		summary = benchSummary{
			Positions:   script.Len(),
			FinalRadius: cache.WindowWidth(),
			AvgTask:     cache.AverageTaskTime(),
		}
		return closeCache(gctx, loop, cache, closeTimeout)
	})

	err := g.Wait()
	return summary, err
}

func closeCache(ctx context.Context, loop *scheduler.Loop, cache *slicewindow.Cache, timeout time.Duration) error {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := cache.Close(closeCtx); err != nil {
		return fmt.Errorf("failed to close slice cache: %w", err)
	}
	loop.RunPending()
	return ctx.Err()
}

// fill reads the cache counters back from the registry.
func (s *benchSummary) fill(g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		switch mf.GetName() {
		case "slicecache_cache_lookups_total":
			s.Hits = counterWithLabel(mf, "result", "hit")
			s.Misses = counterWithLabel(mf, "result", "miss")
		case "slicecache_cache_full_jumps_total":
			s.FullJumps = counterWithLabel(mf, "", "")
		case "slicecache_cache_shift_steps_total":
			s.ShiftSteps = counterWithLabel(mf, "", "")
		case "slicecache_cache_window_growths_total":
			s.Growths = counterWithLabel(mf, "", "")
		case "slicecache_cache_tasks_completed_total":
			s.Rendered = counterWithLabel(mf, "status", "success")
			s.Aborted = counterWithLabel(mf, "status", "aborted")
		}
	}
	return nil
}

// counterWithLabel sums the counters of mf whose label name has value. An
// empty name matches every counter.
func counterWithLabel(mf *dto.MetricFamily, name, value string) float64 {
	var total float64
	for _, metric := range mf.GetMetric() {
		if name != "" && !hasLabel(metric, name, value) {
			continue
		}
		total += metric.GetCounter().GetValue()
	}
	return total
}

func hasLabel(metric *dto.Metric, name, value string) bool {
	for _, lp := range metric.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}
