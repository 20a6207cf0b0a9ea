package messagequeue

import "time"

// CardEventPayload is the schema for cards.events messages.
type CardEventPayload struct {
	ID            string    `json:"id"`
	CardID        string    `json:"card_id"`
	BoardID       string    `json:"board_id"`
	Type          string    `json:"type"`
	FromColumn    string    `json:"from_column,omitempty"`
	ToColumn      string    `json:"to_column,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
	BlockedReason string    `json:"blocked_reason,omitempty"`
}

// SnapshotRecordedPayload is the schema for snapshots.recorded messages.
type SnapshotRecordedPayload struct {
	BoardID        string         `json:"board_id"`
	Date           string         `json:"date"`
	Fingerprint    string         `json:"fingerprint"`
	CardsCompleted int            `json:"cards_completed"`
	TotalWIP       int            `json:"total_wip"`
	PerColumn      map[string]int `json:"per_column_counts"`
	Trigger        string         `json:"trigger"`
}

// WIPViolationPayload is the schema for snapshots.violations messages.
type WIPViolationPayload struct {
	BoardID    string `json:"board_id"`
	Date       string `json:"date"`
	ColumnID   string `json:"column_id"`
	ColumnName string `json:"column_name"`
	Count      int    `json:"count"`
	Limit      int    `json:"limit"`
}
