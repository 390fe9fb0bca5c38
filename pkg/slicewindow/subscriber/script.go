package subscriber

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Script replays a fixed sequence of positions, one per interval.
type Script struct {
	log       *zap.SugaredLogger
	positions []int
	interval  time.Duration
}

var _ Subscriber = (*Script)(nil)

func NewScript(log *zap.SugaredLogger, positions []int, interval time.Duration) (*Script, error) {
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	if interval <= 0 {
		return nil, errors.New("invalid interval: must be positive")
	}
	return &Script{log: log, positions: positions, interval: interval}, nil
}

// Len returns the number of positions the script posts.
func (s *Script) Len() int { return len(s.positions) }

// Subscribe is a BLOCKING function. It posts every position to the loop and
// returns nil once the script is exhausted, or ctx.Err() if ctx is done first.
func (s *Script) Subscribe(ctx context.Context, loop Poster, target Target) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for i, p := range s.positions {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		loop.Post(func() { target.SetPosition(p) })
		if i%100 == 0 {
			s.log.Debugw("posted scrub position", "index", i, "position", p)
		}
	}
	return nil
}

// Sweep scrubs back and forth over [lo, hi) passes times, one slice per step.
func Sweep(lo, hi, passes int) []int {
	if hi <= lo || passes <= 0 {
		return nil
	}
	var out []int
	for pass := 0; pass < passes; pass++ {
		if pass%2 == 0 {
			for p := lo; p < hi; p++ {
				out = append(out, p)
			}
			continue
		}
		for p := hi - 1; p >= lo; p-- {
			out = append(out, p)
		}
	}
	return out
}

// Jumps mixes short scrubs with jumps anywhere in [lo, hi): each step moves by
// at most step slices, except with probability jumpRate where it lands on a
// random position.
func Jumps(rng *rand.Rand, lo, hi, n, step int, jumpRate float64) []int {
	if hi <= lo || n <= 0 {
		return nil
	}
	out := make([]int, 0, n)
	p := lo + rng.IntN(hi-lo)
	for i := 0; i < n; i++ {
		if rng.Float64() < jumpRate {
			p = lo + rng.IntN(hi-lo)
		} else if step > 0 {
			p += rng.IntN(2*step+1) - step
			p = max(lo, min(p, hi-1))
		}
		out = append(out, p)
	}
	return out
}
