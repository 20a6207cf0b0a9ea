package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/flowboard/internal/port/broadcast"
)

func TestNewHub(t *testing.T) {
	hub := NewHub("")
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
	if len(hub.originPatterns) != 0 {
		t.Fatalf("expected no origin patterns, got %v", hub.originPatterns)
	}
}

func TestNewHubOriginPatterns(t *testing.T) {
	hub := NewHub("http://localhost:3000, https://flow.example.com")
	want := []string{"localhost:3000", "flow.example.com"}
	if len(hub.originPatterns) != 2 || hub.originPatterns[0] != want[0] || hub.originPatterns[1] != want[1] {
		t.Fatalf("got %v, want %v", hub.originPatterns, want)
	}
}

func TestHubBroadcastNoConnections(t *testing.T) {
	hub := NewHub("")
	hub.Broadcast(context.Background(), Message{Type: "test", BoardID: "b1", Payload: []byte(`{}`)})
}

func TestHubBroadcastEventMarshalError(t *testing.T) {
	hub := NewHub("")
	// A channel cannot be marshaled; logged, not panicked.
	hub.BroadcastEvent(context.Background(), "b1", "bad", make(chan int))
}

func TestHubRemoveNonexistent(t *testing.T) {
	hub := NewHub("")
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.remove(&conn{cancel: cancel, boardID: "b1"})
}

func TestHubDeliversOnlySubscribedBoard(t *testing.T) {
	hub := NewHub("")
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?board=b1"
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.CloseNow()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.ConnectionCount() != 1 {
		t.Fatal("connection not registered")
	}

	hub.BroadcastEvent(ctx, "b2", broadcast.EventSnapshotRecorded, map[string]string{"date": "2025-03-01"})
	hub.BroadcastEvent(ctx, "b1", broadcast.EventWIPViolation, map[string]int{"count": 4})

	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.BoardID != "b1" || msg.Type != broadcast.EventWIPViolation {
		t.Fatalf("unexpected message %+v", msg)
	}
}
