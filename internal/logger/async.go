package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer flushes and stops a logging pipeline.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// asyncQueue is shared by an AsyncHandler and every handler derived from it
// through WithAttrs or WithGroup.
type asyncQueue struct {
	ch      chan asyncRecord
	wg      sync.WaitGroup
	dropped atomic.Int64
	once    sync.Once

	// closeMu keeps Handle from sending on a closed channel.
	closeMu sync.RWMutex
	closed  bool
}

type asyncRecord struct {
	inner slog.Handler
	rec   slog.Record
}

// AsyncHandler hands records to background workers so request paths never
// block on log I/O. Records are dropped when the buffer is full.
type AsyncHandler struct {
	inner slog.Handler
	q     *asyncQueue
}

// NewAsyncHandler starts workers draining a buffer of size records into inner.
func NewAsyncHandler(inner slog.Handler, size, workers int) *AsyncHandler {
	q := &asyncQueue{ch: make(chan asyncRecord, size)}
	for range workers {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for r := range q.ch {
				_ = r.inner.Handle(context.Background(), r.rec)
			}
		}()
	}
	return &AsyncHandler{inner: inner, q: q}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle queues a clone of rec. Attributes resolved from ctx by wrapping
// handlers are already on the record at this point.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler signature
	h.q.closeMu.RLock()
	defer h.q.closeMu.RUnlock()
	if h.q.closed {
		h.q.dropped.Add(1)
		return nil
	}
	select {
	case h.q.ch <- asyncRecord{inner: h.inner, rec: rec.Clone()}:
	default:
		h.q.dropped.Add(1)
	}
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), q: h.q}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), q: h.q}
}

// DroppedCount returns how many records were discarded.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.q.dropped.Load()
}

// Close drains queued records and stops the workers. A summary record is
// written when anything was dropped. Safe to call more than once.
func (h *AsyncHandler) Close() {
	h.q.once.Do(func() {
		h.q.closeMu.Lock()
		h.q.closed = true
		close(h.q.ch)
		h.q.closeMu.Unlock()
		h.q.wg.Wait()

		if n := h.q.dropped.Load(); n > 0 {
			rec := slog.NewRecord(time.Now(), slog.LevelWarn, "async log records dropped", 0)
			rec.AddAttrs(slog.Int64("dropped", n))
			_ = h.inner.Handle(context.Background(), rec)
		}
	})
}
