// Package ingest implements Data Sleigh's bounded ingest buffer and
// the two broker subscribers (Source A and Source B) that feed it.
package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xmastree/datasleigh/internal/store"
)

// BufferConfig controls the batch-trigger policy: whichever threshold
// is reached first flushes the pending batch to the store.
type BufferConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	QueueDepth    int
}

// ShedNotifier is implemented by internal/health so the Buffer can
// trigger an alert the moment it enters shed mode, without importing
// health directly. spec.md §4.3/§4.8: the Health Monitor is triggered
// immediately from the drain rather than caught only by its own
// independent poll.
type ShedNotifier interface {
	NotifyStorageFull(droppedBatchSize int)
}

// Buffer decouples the subscriber goroutines (many producers) from the
// single store writer goroutine (one consumer, this Buffer's Run
// loop). It is the only component that calls store.AppendBatch. It
// holds the store through a Handle rather than a bare *store.Store so
// the Publisher can rotate the underlying store during a monthly
// cold backup without restarting ingestion.
type Buffer struct {
	cfg    BufferConfig
	handle *store.Handle
	notify ShedNotifier
	logger *zap.Logger

	in       chan store.Record
	shedding atomic.Bool
	paused   atomic.Bool
}

// New constructs a Buffer. QueueDepth bounds how far producers can get
// ahead of the drain goroutine before Enqueue starts shedding. notify
// may be nil, in which case shed-mode entry is only observable through
// Shedding() and the Health Monitor's own poll.
func New(cfg BufferConfig, handle *store.Handle, notify ShedNotifier, logger *zap.Logger) *Buffer {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = cfg.BatchSize * 2
	}
	return &Buffer{
		cfg:    cfg,
		handle: handle,
		notify: notify,
		logger: logger.Named("ingest.buffer"),
		in:     make(chan store.Record, cfg.QueueDepth),
	}
}

// Enqueue offers a record to the buffer. It returns false if the
// buffer is in shed mode (the store reported StorageFull on the last
// flush) or the queue is momentarily full; callers drop the record and
// move on rather than blocking a subscriber's read loop.
func (b *Buffer) Enqueue(r store.Record) bool {
	if b.shedding.Load() {
		return false
	}
	select {
	case b.in <- r:
		return true
	default:
		return false
	}
}

// SetPaused holds the Buffer's drain loop off the store entirely.
// Incoming records keep accumulating in memory; nothing is flushed
// until resumed. The Publisher uses this to quiesce writes for the
// brief window it takes to close, archive, and reopen the store during
// a monthly cold backup.
func (b *Buffer) SetPaused(paused bool) {
	b.paused.Store(paused)
}

// Shedding reports whether the buffer is currently dropping new
// records because the store last reported StorageFull. Exposed for
// the health/status endpoint.
func (b *Buffer) Shedding() bool {
	return b.shedding.Load()
}

// Run drains the buffer until ctx is cancelled, flushing on whichever
// of count or time comes first, then performs one final flush of
// whatever remains before returning.
func (b *Buffer) Run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	pending := make([]store.Record, 0, b.cfg.BatchSize)

	flush := func() {
		if len(pending) == 0 || b.paused.Load() {
			return
		}
		st := b.handle.Get()
		if err := st.AppendBatch(ctx, pending); err != nil {
			if errors.Is(err, store.ErrStorageFull) {
				b.shedding.Store(true)
				b.logger.Warn("storage full, entering shed mode", zap.Int("dropped_batch_size", len(pending)))
				if b.notify != nil {
					b.notify.NotifyStorageFull(len(pending))
				}
			} else {
				b.logger.Error("append batch failed", zap.Error(err))
			}
		} else {
			if b.shedding.Load() {
				b.logger.Info("storage recovered, leaving shed mode")
			}
			b.shedding.Store(false)
		}
		pending = pending[:0]
	}

	for {
		select {
		case <-ctx.Done():
			for drained := false; !drained; {
				select {
				case r := <-b.in:
					pending = append(pending, r)
				default:
					drained = true
				}
			}
			// The final flush must not inherit the cancellation that
			// ended the loop, or AppendBatch would reject it outright.
			ctx = context.WithoutCancel(ctx)
			flush()
			return
		case r := <-b.in:
			pending = append(pending, r)
			if len(pending) >= b.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
