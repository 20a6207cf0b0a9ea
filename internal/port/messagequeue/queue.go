// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subjects used by flowboard. All live in the FLOWBOARD stream.
const (
	SubjectCardEvents        = "cards.events"       // producers → flowboard: CardEventPayload or a JSON array of them
	SubjectSnapshotsRecorded = "snapshots.recorded" // flowboard → consumers: SnapshotRecordedPayload
	SubjectWIPViolations     = "snapshots.violations"
)

// StreamSubjects are the subject filters of the FLOWBOARD stream.
var StreamSubjects = []string{"cards.>", "snapshots.>"}
