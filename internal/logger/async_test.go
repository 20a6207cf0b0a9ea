package logger

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// recordingHandler collects records and the attrs added through WithAttrs.
type recordingHandler struct {
	mu      *sync.Mutex
	records *[]slog.Record
	attrs   []slog.Attr
	delay   time.Duration
}

func newRecordingHandler(delay time.Duration) *recordingHandler {
	return &recordingHandler{mu: &sync.Mutex{}, records: &[]slog.Record{}, delay: delay}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler signature
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	rec.AddAttrs(h.attrs...)
	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &c
}

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

func (h *recordingHandler) all() []slog.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]slog.Record(nil), *h.records...)
}

func info(msg string) slog.Record {
	return slog.NewRecord(time.Now(), slog.LevelInfo, msg, 0)
}

func TestAsyncHandler_ConcurrentWrites(t *testing.T) {
	const goroutines, perGoroutine = 50, 100

	inner := newRecordingHandler(0)
	ah := NewAsyncHandler(inner, goroutines*perGoroutine, 4)

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				_ = ah.Handle(context.Background(), info("event applied"))
			}
		}()
	}
	wg.Wait()
	ah.Close()

	if got := len(inner.all()); got != goroutines*perGoroutine {
		t.Fatalf("expected %d records, got %d", goroutines*perGoroutine, got)
	}
}

func TestAsyncHandler_DropsWhenFullAndReports(t *testing.T) {
	inner := newRecordingHandler(5 * time.Millisecond)
	ah := NewAsyncHandler(inner, 1, 1)

	for range 30 {
		_ = ah.Handle(context.Background(), info("flood"))
	}
	ah.Close()

	dropped := ah.DroppedCount()
	if dropped == 0 {
		t.Fatal("expected drops with a one-slot buffer")
	}
	recs := inner.all()
	last := recs[len(recs)-1]
	if last.Message != "async log records dropped" || last.Level != slog.LevelWarn {
		t.Fatalf("expected drop summary last, got %q", last.Message)
	}
	if int64(len(recs)-1)+dropped != 30 {
		t.Fatalf("delivered %d + dropped %d != 30", len(recs)-1, dropped)
	}
}

func TestAsyncHandler_DerivedHandlersShareQueue(t *testing.T) {
	inner := newRecordingHandler(0)
	ah := NewAsyncHandler(inner, 10, 1)
	child := ah.WithAttrs([]slog.Attr{slog.String("board_id", "b1")})

	_ = child.Handle(context.Background(), info("snapshot recorded"))
	ah.Close()

	recs := inner.all()
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	var board string
	recs[0].Attrs(func(a slog.Attr) bool {
		if a.Key == "board_id" {
			board = a.Value.String()
		}
		return true
	})
	if board != "b1" {
		t.Fatalf("expected board_id attr from derived handler, got %q", board)
	}
}

func TestAsyncHandler_HandleAfterCloseDrops(t *testing.T) {
	inner := newRecordingHandler(0)
	ah := NewAsyncHandler(inner, 10, 1)
	ah.Close()
	ah.Close()

	if err := ah.Handle(context.Background(), info("late")); err != nil {
		t.Fatalf("Handle after Close: %v", err)
	}
	if ah.DroppedCount() != 1 {
		t.Fatalf("expected late record dropped, got %d", ah.DroppedCount())
	}
}
