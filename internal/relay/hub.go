package relay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: size of the internal channel (default 1024).
//   - MaxBatchRecords: flush once this many records queue (default 200).
//   - MaxBatchWait: flush this long after a batch's first record (default 250ms).
//   - SinkTimeout: per-sink timeout while flushing (default 5s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize      int
	MaxBatchRecords int
	MaxBatchWait    time.Duration
	SinkTimeout     time.Duration
	BaseContext     context.Context
	Logger          *zap.Logger
}

const (
	defaultBufferSize      = 1024
	defaultMaxBatchRecords = 200
	defaultMaxBatchWait    = 250 * time.Millisecond
	defaultSinkTimeout     = 5 * time.Second
	dropLogInterval        = 5 * time.Second
)

// Stats counts records that never reached a sink.
type Stats struct {
	// Dropped records found the buffer full.
	Dropped int64
	// Coalesced checkpoints were superseded by a newer one in the same batch.
	Coalesced int64
}

// Hub batches host records and fans each batch out to its sinks. Within a
// batch only the newest checkpoint per learner and content survives, so sinks
// see the progress a resume would restore rather than every intermediate
// STATE. Emit never blocks.
type Hub struct {
	cfg     Config
	sinks   []Sink
	records chan Record
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *zap.Logger

	dropLog   rate.Sometimes
	pending   atomic.Int64
	dropped   atomic.Int64
	coalesced atomic.Int64
	closed    atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

var _ Emitter = (*Hub)(nil)

// NewHub starts a Hub delivering to sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchRecords <= 0 {
		cfg.MaxBatchRecords = defaultMaxBatchRecords
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   append([]Sink(nil), sinks...),
		records: make(chan Record, cfg.BufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  logger,
		dropLog: rate.Sometimes{Interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit queues rec. Invalid records are discarded; when the buffer is full the
// record is dropped and counted.
func (h *Hub) Emit(rec Record) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := rec.Validate(); err != nil {
		h.logger.Debug("discarding invalid relay record", zap.Error(err))
		return
	}
	select {
	case h.records <- rec:
	default:
		h.dropped.Add(1)
		h.pending.Add(1)
		h.dropLog.Do(func() {
			h.logger.Warn("relay records dropped due to backpressure",
				zap.Int64("dropped", h.pending.Swap(0)),
			)
		})
	}
}

// Stats reports totals since the hub started.
func (h *Hub) Stats() Stats {
	return Stats{Dropped: h.dropped.Load(), Coalesced: h.coalesced.Load()}
}

// Close drains queued records, flushes them, closes the sinks and waits for
// the background goroutine. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("relay hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	b := newBatch(h.cfg.MaxBatchRecords)
	var (
		timer *time.Timer
		wait  <-chan time.Time
	)
	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, wait = nil, nil
		}
		h.flush(b)
	}
	for {
		select {
		case rec := <-h.records:
			b.add(rec)
			if b.len() >= h.cfg.MaxBatchRecords {
				flush()
			} else if timer == nil {
				timer = time.NewTimer(h.cfg.MaxBatchWait)
				wait = timer.C
			}
		case <-wait:
			timer, wait = nil, nil
			h.flush(b)
		case <-h.stopCh:
			for drained := false; !drained; {
				select {
				case rec := <-h.records:
					b.add(rec)
					if b.len() >= h.cfg.MaxBatchRecords {
						flush()
					}
				default:
					drained = true
				}
			}
			flush()
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) flush(b *batch) {
	if b.len() == 0 {
		return
	}
	records, coalesced := b.take()
	if coalesced > 0 {
		h.coalesced.Add(int64(coalesced))
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, records); err != nil {
			h.logger.Warn("relay sink consume failed",
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.Int("batch", len(records)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("relay sink close failed", zap.Error(err))
		}
	}
}
