package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/flowboard/internal/domain/card"
	"github.com/Strob0t/flowboard/internal/domain/flow"
	"github.com/Strob0t/flowboard/internal/port/broadcast"
	"github.com/Strob0t/flowboard/internal/port/messagequeue"
	"github.com/Strob0t/flowboard/internal/resilience"
)

type published struct {
	subject string
	data    []byte
}

// mockQueue implements messagequeue.Queue for testing.
type mockQueue struct {
	mu         sync.Mutex
	msgs       []published
	publishErr error
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.msgs = append(q.msgs, published{subject: subject, data: data})
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}
func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

func (q *mockQueue) subjects() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.msgs))
	for _, m := range q.msgs {
		out = append(out, m.subject)
	}
	return out
}

type broadcastCall struct {
	boardID   string
	eventType string
	payload   any
}

// mockHub implements broadcast.Broadcaster for testing.
type mockHub struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (h *mockHub) BroadcastEvent(_ context.Context, boardID, eventType string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, broadcastCall{boardID, eventType, payload})
}

func (h *mockHub) count(eventType string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.calls {
		if c.eventType == eventType {
			n++
		}
	}
	return n
}

func testSnapshot() *flow.DailySnapshot {
	s := &flow.DailySnapshot{
		BoardID:         "b1",
		Date:            "2024-03-01",
		PerColumnCounts: map[string]int{"doing": 4},
		TotalWIP:        4,
	}
	s.Seal()
	return s
}

func TestFlowNotifier_SnapshotRecorded(t *testing.T) {
	q := &mockQueue{}
	hub := &mockHub{}
	n := NewFlowNotifier(q, hub, nil)

	violations := []flow.WipViolation{{ColumnID: "doing", ColumnName: "Doing", Date: "2024-03-01", Count: 4, Limit: 3}}
	n.SnapshotRecorded(context.Background(), testSnapshot(), TriggerRecordDaily, violations)

	subjects := q.subjects()
	if len(subjects) != 2 || subjects[0] != messagequeue.SubjectSnapshotsRecorded || subjects[1] != messagequeue.SubjectWIPViolations {
		t.Fatalf("unexpected subjects %v", subjects)
	}

	var payload messagequeue.SnapshotRecordedPayload
	if err := json.Unmarshal(q.msgs[0].data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.BoardID != "b1" || payload.Trigger != TriggerRecordDaily || payload.TotalWIP != 4 || payload.Fingerprint == "" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	if hub.count(broadcast.EventSnapshotRecorded) != 1 || hub.count(broadcast.EventWIPViolation) != 1 {
		t.Fatalf("unexpected broadcasts %+v", hub.calls)
	}
}

func TestFlowNotifier_PublishFailureTripsBreaker(t *testing.T) {
	q := &mockQueue{publishErr: errors.New("connection refused")}
	hub := &mockHub{}
	breaker := resilience.NewBreaker("publish", 2, time.Minute)
	n := NewFlowNotifier(q, hub, breaker)

	for range 3 {
		n.SnapshotRecorded(context.Background(), testSnapshot(), TriggerRecompute, nil)
	}

	if err := breaker.Execute(func() error { return nil }); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	// Dashboard pushes do not depend on the broker.
	if hub.count(broadcast.EventSnapshotRecorded) != 3 {
		t.Fatalf("expected 3 broadcasts, got %d", hub.count(broadcast.EventSnapshotRecorded))
	}
}

func TestFlowNotifier_NilSafe(t *testing.T) {
	var n *FlowNotifier
	n.SnapshotRecorded(context.Background(), testSnapshot(), TriggerRecompute, nil)
	n.CardUpdated(context.Background(), &card.State{CardID: "c1"})

	bare := NewFlowNotifier(nil, nil, nil)
	bare.SnapshotRecorded(context.Background(), testSnapshot(), TriggerRecompute, nil)
	bare.CardUpdated(context.Background(), &card.State{CardID: "c1"})
}

func TestFlowNotifier_CardUpdated(t *testing.T) {
	hub := &mockHub{}
	n := NewFlowNotifier(nil, hub, nil)
	n.CardUpdated(context.Background(), &card.State{CardID: "c1", BoardID: "b1"})
	n.CardUpdated(context.Background(), nil)

	if hub.count(broadcast.EventCardUpdated) != 1 || hub.calls[0].boardID != "b1" {
		t.Fatalf("unexpected broadcasts %+v", hub.calls)
	}
}
