package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/flowboard/internal/port/broadcast"
)

var _ broadcast.Broadcaster = (*Hub)(nil)

// BroadcastEvent marshals a typed event and broadcasts it to the board's clients.
func (h *Hub) BroadcastEvent(ctx context.Context, boardID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		BoardID: boardID,
		Payload: json.RawMessage(data),
	})
}
