package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Strob0t/flowboard/internal/port/messagequeue"
)

func TestHandleCardEvents_SplitsByBoard(t *testing.T) {
	m := newMockStore()
	m.seedBoard("b1", "UTC")
	m.seedBoard("b2", "UTC")
	tr := newTestTracker(t, m, 100, nil)

	data, err := json.Marshal([]messagequeue.CardEventPayload{
		{ID: "e1", CardID: "c1", BoardID: "b1", Type: "created", ToColumn: "todo", OccurredAt: at(3, 9)},
		{ID: "e2", CardID: "c1", BoardID: "b2", Type: "created", ToColumn: "doing", OccurredAt: at(3, 9)},
		{ID: "e3", CardID: "c1", BoardID: "b1", Type: "moved", ToColumn: "doing", OccurredAt: at(3, 10)},
		{ID: "e4", CardID: "c9", BoardID: "gone", Type: "created", ToColumn: "todo", OccurredAt: at(3, 10)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.HandleCardEvents(context.Background(), messagequeue.SubjectCardEvents, data); err != nil {
		t.Fatalf("expected unknown boards to be dropped, got %v", err)
	}

	st, err := tr.GetCard(context.Background(), "b1", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if st.CurrentColumn != "doing" {
		t.Fatalf("expected b1/c1 in doing, got %s", st.CurrentColumn)
	}
	if st, err := tr.GetCard(context.Background(), "b2", "c1"); err != nil || st.CurrentColumn != "doing" {
		t.Fatalf("expected b2/c1 in doing, got %+v, %v", st, err)
	}
}

func TestHandleCardEvents_SingleObject(t *testing.T) {
	m := newMockStore()
	m.seedBoard("b1", "UTC")
	tr := newTestTracker(t, m, 100, nil)

	data := []byte(`{"id":"e1","card_id":"c1","board_id":"b1","type":"created","to_column":"todo","occurred_at":"2024-03-03T09:00:00Z"}`)
	if err := tr.HandleCardEvents(context.Background(), messagequeue.SubjectCardEvents, data); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.GetCard(context.Background(), "b1", "c1"); err != nil {
		t.Fatalf("expected card to exist: %v", err)
	}
}

func TestHandleCardEvents_MalformedPayload(t *testing.T) {
	tr := newTestTracker(t, newMockStore(), 100, nil)
	if err := tr.HandleCardEvents(context.Background(), messagequeue.SubjectCardEvents, []byte(`{"id":`)); err == nil {
		t.Fatal("expected decode error")
	}
}
