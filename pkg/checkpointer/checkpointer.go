package checkpointer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/espina-project/slicecache/pkg/metrics"
)

// Checkpointer abstracts session persistence across data stores. A session
// records where the viewer was in a volume so that it can resume there after a
// restart.
type Checkpointer interface {
	// Initialize ensures the underlying storage is ready (creates tables, schemas, etc.). This
	// should be idempotent and safe to call multiple times.
	Initialize(ctx context.Context) error

	// Write upserts the session keyed by its VolumeID. UpdatedAt is set by the store.
	Write(ctx context.Context, s Session) error

	// Read returns the session of a volume and whether one exists.
	Read(ctx context.Context, volumeID string) (s Session, exists bool, err error)

	// Delete removes the session of a volume and reports whether one existed.
	Delete(ctx context.Context, volumeID string) (bool, error)
}

// Start periodically persists the session held by s, writing only when it
// changed since the last successful write. On cancellation it makes one last
// write of pending changes, bounded by cfg.WriteTimeout.
//
// Returns nil on context cancellation (graceful shutdown), or an error if checkpoint writes
// fail after all retries.
func Start(
	ctx context.Context,
	log *zap.SugaredLogger,
	s *State,
	checkpointer Checkpointer,
	cfg Config,
	m *metrics.Metrics,
) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	t := time.NewTicker(cfg.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			session, dirty := s.take()
			if !dirty {
				return nil
			}
			// ctx is already done, give the final write its own deadline
			writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.WriteTimeout)
			err := checkpointer.Write(writeCtx, session)
			cancel()
			m.RecordCheckpointWrite(err)
			if err != nil {
				m.IncError(metrics.ErrTypeCheckpoint)
				log.Warnw("failed to write final checkpoint", "volume", session.VolumeID, "error", err)
			}
			return nil

		case <-t.C:
			session, dirty := s.take()
			if !dirty {
				continue
			}

			err := writeWithRetries(ctx, checkpointer, cfg, session, m)
			if errors.Is(err, errShutdown) {
				s.restore(session)
				continue
			}
			if err != nil {
				m.IncError(metrics.ErrTypeCheckpoint)
				return fmt.Errorf("failed to write checkpoint (volume: %s, position: %d) after %d retries: %w",
					session.VolumeID, session.Position, cfg.MaxRetries+1, err)
			}
			log.Debugw("checkpoint written", "volume", session.VolumeID, "position", session.Position)
		}
	}
}

var errShutdown = errors.New("shutdown during checkpoint write")

func writeWithRetries(ctx context.Context, checkpointer Checkpointer, cfg Config, session Session, m *metrics.Metrics) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return errShutdown
		}

		writeCtx, cancel := context.WithTimeout(ctx, cfg.WriteTimeout)
		lastErr = checkpointer.Write(writeCtx, session)
		cancel()
		m.RecordCheckpointWrite(lastErr)

		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return errShutdown
		}

		// no sleep after the last attempt
		if attempt < cfg.MaxRetries {
			select {
			case <-time.After(cfg.RetryBackoff):
			case <-ctx.Done():
				return errShutdown
			}
		}
	}
	return lastErr
}
