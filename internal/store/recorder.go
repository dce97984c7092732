package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tradeloop/paper-engine/internal/metrics"
	"github.com/tradeloop/paper-engine/internal/model"
)

const (
	// flushTimeout bounds the final drain after Run's context is cancelled.
	flushTimeout = 5 * time.Second

	// writeTimeout bounds a single journal write.
	writeTimeout = 5 * time.Second
)

// Recorder writes fills to a Store from a background goroutine so the
// broker's fill path never waits on I/O.
//
// Shutdown order: stop producing fills (drain the HTTP server), then Close,
// then wait for Run to return. Every fill accepted before Close is written.
type Recorder struct {
	store Store
	fills chan model.Fill

	mu     sync.RWMutex
	closed bool
}

// NewRecorder creates a recorder with the given buffer size.
func NewRecorder(s Store, buffer int) *Recorder {
	if buffer < 1 {
		buffer = 1
	}
	return &Recorder{
		store: s,
		fills: make(chan model.Fill, buffer),
	}
}

// Enqueue queues a fill for writing. If the buffer is full or the recorder
// is closed the fill is dropped and counted; Enqueue never blocks.
func (r *Recorder) Enqueue(f model.Fill) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		metrics.JournalDropped.Inc()
		slog.Warn("fill journal closed, dropping fill", "fill_id", f.ID, "symbol", f.Symbol)
		return
	}
	select {
	case r.fills <- f:
	default:
		metrics.JournalDropped.Inc()
		slog.Warn("fill journal buffer full, dropping fill", "fill_id", f.ID, "symbol", f.Symbol)
	}
}

// Close stops accepting fills. Run returns once the buffer is drained.
// Safe to call more than once.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	close(r.fills)
}

// Run writes queued fills until Close is called and the buffer is empty.
// If ctx is cancelled first, Run closes the recorder and flushes what is
// buffered within flushTimeout.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case f, ok := <-r.fills:
			if !ok {
				return
			}
			r.write(ctx, f)
		case <-ctx.Done():
			r.Close()
			r.flush(ctx)
			return
		}
	}
}

func (r *Recorder) flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()

	for f := range r.fills {
		if ctx.Err() != nil {
			metrics.JournalDropped.Inc()
			slog.Warn("fill journal flush timed out, dropping fill", "fill_id", f.ID)
			continue
		}
		r.write(ctx, f)
	}
}

func (r *Recorder) write(ctx context.Context, f model.Fill) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := r.store.InsertFill(ctx, &f); err != nil {
		slog.Error("failed to journal fill", "fill_id", f.ID, "order_id", f.OrderID, "err", err)
	}
}
