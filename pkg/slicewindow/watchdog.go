package slicewindow

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// MemoryReporter exposes a memory estimate that is safe to read from any
// goroutine. Cache implements it through PublishedMemory.
type MemoryReporter interface {
	PublishedMemory() int64
}

// StartMemoryWatchdog warns every interval while the estimated memory held by
// cached slices exceeds maxBytes. It returns when ctx is done.
func StartMemoryWatchdog(ctx context.Context, log *zap.SugaredLogger, r MemoryReporter, interval time.Duration, maxBytes int64) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			used := r.PublishedMemory()
			if used > maxBytes {
				log.Warnw("cache memory too large", "bytes", used, "maxBytes", maxBytes)
			}
		}
	}
}
