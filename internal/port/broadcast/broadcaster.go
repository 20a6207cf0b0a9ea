// Package broadcast defines the port for pushing flow events to dashboard clients.
package broadcast

import "context"

// Event types pushed to clients.
const (
	EventSnapshotRecorded = "snapshot.recorded"
	EventWIPViolation     = "wip.violation"
	EventCardUpdated      = "card.updated"
)

// Broadcaster sends real-time events to all connected clients of a board.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, boardID, eventType string, payload any)
}
