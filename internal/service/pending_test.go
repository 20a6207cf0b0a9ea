package service

import (
	"testing"
	"time"

	"github.com/Strob0t/flowboard/internal/domain/card"
)

func pendingEv(id, cardID string) *card.Event {
	return &card.Event{ID: id, BoardID: "b1", CardID: cardID, Type: card.EventMoved, ToColumn: "doing"}
}

func TestPendingBuffer_AddTake(t *testing.T) {
	b := NewPendingBuffer(time.Minute, 10)
	if !b.Add(pendingEv("e1", "c1")) || !b.Add(pendingEv("e2", "c1")) || !b.Add(pendingEv("e3", "c2")) {
		t.Fatal("expected adds to succeed")
	}
	if b.Add(pendingEv("e1", "c1")) {
		t.Fatal("duplicate event id must not be buffered twice")
	}
	if b.Len() != 3 {
		t.Fatalf("expected 3 buffered, got %d", b.Len())
	}

	got := b.Take("b1", "c1")
	if len(got) != 2 || got[0].ID != "e1" || got[1].ID != "e2" {
		t.Fatalf("unexpected take %+v", got)
	}
	if b.Len() != 1 {
		t.Fatalf("expected 1 buffered, got %d", b.Len())
	}
	if got := b.Take("b1", "c1"); got != nil {
		t.Fatalf("expected nothing left, got %+v", got)
	}
}

func TestPendingBuffer_Capacity(t *testing.T) {
	b := NewPendingBuffer(time.Minute, 2)
	b.Add(pendingEv("e1", "c1"))
	b.Add(pendingEv("e2", "c2"))
	if b.Add(pendingEv("e3", "c3")) {
		t.Fatal("expected full buffer to reject")
	}
	b.Take("b1", "c1")
	if !b.Add(pendingEv("e3", "c3")) {
		t.Fatal("expected room after take")
	}

	disabled := NewPendingBuffer(time.Minute, 0)
	if disabled.Add(pendingEv("e1", "c1")) {
		t.Fatal("expected zero-capacity buffer to reject")
	}
}

func TestPendingBuffer_Expiry(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	b := NewPendingBuffer(5*time.Minute, 10)
	b.now = func() time.Time { return now }

	b.Add(pendingEv("old", "c1"))
	now = now.Add(4 * time.Minute)
	b.Add(pendingEv("new", "c1"))
	b.Add(pendingEv("other", "c2"))
	now = now.Add(2 * time.Minute)

	got := b.Take("b1", "c1")
	if len(got) != 1 || got[0].ID != "new" {
		t.Fatalf("expected only the unexpired event, got %+v", got)
	}

	now = now.Add(10 * time.Minute)
	expired := b.Sweep()
	if len(expired) != 1 || expired[0].ID != "other" {
		t.Fatalf("unexpected sweep %+v", expired)
	}
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer, got %d", b.Len())
	}
}
