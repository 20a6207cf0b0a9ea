package card

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/Strob0t/flowboard/internal/domain"
)

// State is the live state of one card, produced by folding its events.
type State struct {
	CardID                 string     `json:"card_id"`
	BoardID                string     `json:"board_id"`
	CurrentColumn          string     `json:"current_column"`
	InitialColumn          string     `json:"initial_column"`
	IsBlocked              bool       `json:"is_blocked"`
	BlockedReason          string     `json:"blocked_reason,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	EnteredCurrentColumnAt time.Time  `json:"entered_current_column_at"`
	FirstActiveAt          *time.Time `json:"first_active_at,omitempty"`
	CompletedAt            *time.Time `json:"completed_at,omitempty"`
	// LastEventAt is the latest occurred_at folded in, ignored events included.
	LastEventAt            time.Time  `json:"last_event_at"`
}

// Outcome reports what folding an event did to a state.
type Outcome string

const (
	OutcomeApplied          Outcome = "applied"
	OutcomeDuplicateCreate  Outcome = "ignored_duplicate_create"
	OutcomeAfterCompletion  Outcome = "ignored_after_completion"
	OutcomeNotCompleted     Outcome = "ignored_not_completed"
	OutcomeAlreadyCompleted Outcome = "ignored_already_completed"
	OutcomeNoop             Outcome = "ignored_noop"
)

// Ignored reports whether the event left the card's flow state untouched.
func (o Outcome) Ignored() bool { return o != OutcomeApplied }

// IsOpen reports whether the card is not completed.
func (s *State) IsOpen() bool { return s.CompletedAt == nil }

// Fold applies ev to s and returns the resulting state. s may be nil only
// when ev is a created event; otherwise ErrUnknownCard is returned. An
// ignored event still advances LastEventAt, so an older event arriving later
// is recognized as out of order.
func Fold(s *State, ev *Event) (*State, Outcome, error) {
	tr, err := ev.Transition()
	if err != nil {
		return s, "", err
	}
	at := ev.OccurredAt.UTC()

	if s == nil {
		c, ok := tr.(Created)
		if !ok {
			return nil, "", fmt.Errorf("card %s: %s event %s: %w", ev.CardID, ev.Type, ev.ID, domain.ErrUnknownCard)
		}
		return &State{
			CardID:                 ev.CardID,
			BoardID:                ev.BoardID,
			CurrentColumn:          c.Column,
			InitialColumn:          c.Column,
			CreatedAt:              at,
			EnteredCurrentColumnAt: at,
			LastEventAt:            at,
		}, OutcomeApplied, nil
	}

	next := *s
	outcome := next.apply(tr, at)
	if outcome != OutcomeApplied {
		next = *s
	}
	if at.After(next.LastEventAt) {
		next.LastEventAt = at
	}
	return &next, outcome, nil
}

// apply mutates s for one transition. Completed cards accept only Reopened.
func (s *State) apply(tr Transition, at time.Time) Outcome {
	switch t := tr.(type) {
	case Created:
		return OutcomeDuplicateCreate
	case Moved:
		if !s.IsOpen() {
			return OutcomeAfterCompletion
		}
		if t.To == s.CurrentColumn {
			return OutcomeNoop
		}
		s.moveTo(t.To, at)
	case Blocked:
		if !s.IsOpen() {
			return OutcomeAfterCompletion
		}
		s.IsBlocked = true
		s.BlockedReason = t.Reason
	case Unblocked:
		if !s.IsOpen() {
			return OutcomeAfterCompletion
		}
		if !s.IsBlocked {
			return OutcomeNoop
		}
		s.IsBlocked = false
		s.BlockedReason = ""
	case Completed:
		if !s.IsOpen() {
			return OutcomeAlreadyCompleted
		}
		// Completing straight from the backlog does not start cycle time.
		if t.Column != "" && t.Column != s.CurrentColumn {
			s.CurrentColumn = t.Column
			s.EnteredCurrentColumnAt = at
		}
		done := at
		s.CompletedAt = &done
	case Reopened:
		if s.IsOpen() {
			return OutcomeNotCompleted
		}
		s.CompletedAt = nil
		if t.Column != "" && t.Column != s.CurrentColumn {
			s.moveTo(t.Column, at)
		}
	}
	return OutcomeApplied
}

// moveTo changes column. The first departure from the initial column starts
// cycle time; later moves, backward ones included, never restart it.
func (s *State) moveTo(column string, at time.Time) {
	s.CurrentColumn = column
	s.EnteredCurrentColumnAt = at
	if s.FirstActiveAt == nil && column != s.InitialColumn {
		start := at
		s.FirstActiveAt = &start
	}
}

// SortEvents orders events by (OccurredAt, Seq). Events without a Seq have
// not been stored yet and sort after stored events with the same timestamp.
func SortEvents(events []Event) {
	slices.SortStableFunc(events, func(a, b Event) int {
		if c := a.OccurredAt.Compare(b.OccurredAt); c != 0 {
			return c
		}
		return cmp.Compare(seqKey(a.Seq), seqKey(b.Seq))
	})
}

func seqKey(seq int64) int64 {
	if seq <= 0 {
		return math.MaxInt64
	}
	return seq
}

// Replay folds the events of a single card in (OccurredAt, Seq) order,
// considering only events strictly before until. A zero until replays
// everything. Events preceding the card's creation are skipped. Returns nil
// when the card does not exist as of until.
func Replay(events []Event, until time.Time) *State {
	ordered := slices.Clone(events)
	SortEvents(ordered)

	var s *State
	for i := range ordered {
		ev := &ordered[i]
		if !until.IsZero() && !ev.OccurredAt.Before(until) {
			break
		}
		next, _, err := Fold(s, ev)
		if err != nil {
			continue
		}
		s = next
	}
	return s
}

// GroupByCard buckets events by card id.
func GroupByCard(events []Event) map[string][]Event {
	out := make(map[string][]Event)
	for i := range events {
		out[events[i].CardID] = append(out[events[i].CardID], events[i])
	}
	return out
}
