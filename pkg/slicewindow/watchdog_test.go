package slicewindow

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fixedMemory struct{ bytes atomic.Int64 }

func (f *fixedMemory) PublishedMemory() int64 { return f.bytes.Load() }

func TestStartMemoryWatchdog(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	mem := &fixedMemory{}
	mem.bytes.Store(10)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		StartMemoryWatchdog(ctx, zap.New(core).Sugar(), mem, time.Millisecond, 100)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, logs.FilterMessage("cache memory too large").Len(), "under the limit")

	mem.bytes.Store(500)
	require.Eventually(t, func() bool {
		return logs.FilterMessage("cache memory too large").Len() > 0
	}, time.Second, time.Millisecond)

	entry := logs.FilterMessage("cache memory too large").All()[0]
	assert.Equal(t, int64(500), entry.ContextMap()["bytes"])
	assert.Equal(t, int64(100), entry.ContextMap()["maxBytes"])

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not stop")
	}
}
