// Package card defines card lifecycle events and the state they fold into.
package card

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/flowboard/internal/domain"
)

// EventType identifies the kind of card lifecycle event on the wire.
type EventType string

const (
	EventCreated   EventType = "created"
	EventMoved     EventType = "moved"
	EventBlocked   EventType = "blocked"
	EventUnblocked EventType = "unblocked"
	EventCompleted EventType = "completed"
	EventReopened  EventType = "reopened"
)

// Event is an immutable card lifecycle event. ID is the idempotency key;
// Seq is assigned by storage and breaks ties between equal OccurredAt values.
type Event struct {
	ID            string    `json:"id"`
	Seq           int64     `json:"seq,omitempty"`
	CardID        string    `json:"card_id"`
	BoardID       string    `json:"board_id"`
	Type          EventType `json:"type"`
	FromColumn    string    `json:"from_column,omitempty"`
	ToColumn      string    `json:"to_column,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
	BlockedReason string    `json:"blocked_reason,omitempty"`
	ReceivedAt    time.Time `json:"received_at,omitempty"`
}

// Transition is the decoded, typed form of an event. Exactly one of the
// concrete types below implements it per event type.
type Transition interface {
	isTransition()
}

// Created places a new card in its initial column.
type Created struct{ Column string }

// Moved moves a card between columns. Backward moves are allowed.
type Moved struct{ From, To string }

// Blocked flags a card as blocked.
type Blocked struct{ Reason string }

// Unblocked clears the blocked flag.
type Unblocked struct{}

// Completed finishes a card, optionally landing it in a column.
type Completed struct{ Column string }

// Reopened returns a completed card to work, optionally into a column.
type Reopened struct{ Column string }

func (Created) isTransition()   {}
func (Moved) isTransition()     {}
func (Blocked) isTransition()   {}
func (Unblocked) isTransition() {}
func (Completed) isTransition() {}
func (Reopened) isTransition()  {}

// Transition decodes the event into its typed variant.
func (e *Event) Transition() (Transition, error) {
	switch e.Type {
	case EventCreated:
		if e.ToColumn == "" {
			return nil, domain.Validationf("event %s: created requires to_column", e.ID)
		}
		return Created{Column: e.ToColumn}, nil
	case EventMoved:
		if e.ToColumn == "" {
			return nil, domain.Validationf("event %s: moved requires to_column", e.ID)
		}
		return Moved{From: e.FromColumn, To: e.ToColumn}, nil
	case EventBlocked:
		return Blocked{Reason: e.BlockedReason}, nil
	case EventUnblocked:
		return Unblocked{}, nil
	case EventCompleted:
		return Completed{Column: e.ToColumn}, nil
	case EventReopened:
		return Reopened{Column: e.ToColumn}, nil
	default:
		return nil, domain.Validationf("event %s: unknown type %q", e.ID, e.Type)
	}
}

// Normalize fills defaults on an incoming event: a generated id, UTC
// timestamps and the receive time.
func (e *Event) Normalize(now time.Time) {
	e.ID = strings.TrimSpace(e.ID)
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.OccurredAt = e.OccurredAt.UTC()
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = now
	}
	e.ReceivedAt = e.ReceivedAt.UTC()
}

// Validate checks required fields. boardID, when non-empty, must match.
func (e *Event) Validate(boardID string) error {
	if strings.TrimSpace(e.CardID) == "" {
		return domain.Validationf("event %s: card_id is required", e.ID)
	}
	if strings.TrimSpace(e.BoardID) == "" {
		return domain.Validationf("event %s: board_id is required", e.ID)
	}
	if boardID != "" && e.BoardID != boardID {
		return domain.Validationf("event %s: board_id %q does not match board %q", e.ID, e.BoardID, boardID)
	}
	if e.OccurredAt.IsZero() {
		return domain.Validationf("event %s: occurred_at is required", e.ID)
	}
	_, err := e.Transition()
	return err
}

// completionNamespace seeds the ids of completions synthesized from moves
// into terminal columns.
var completionNamespace = uuid.MustParse("6f1c2a0e-8a43-4d57-9b1e-3c5d7f0e2b91")

// SynthesizedCompletion returns the completed event implied by a move into a
// terminal column. Its id is derived from the move id so re-ingesting the
// move yields the same completion.
func SynthesizedCompletion(move *Event) Event {
	return Event{
		ID:         uuid.NewSHA1(completionNamespace, []byte(move.ID)).String(),
		CardID:     move.CardID,
		BoardID:    move.BoardID,
		Type:       EventCompleted,
		ToColumn:   move.ToColumn,
		OccurredAt: move.OccurredAt,
		ReceivedAt: move.ReceivedAt,
	}
}
