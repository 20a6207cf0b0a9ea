// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/Strob0t/flowboard/internal/domain/board"
	"github.com/Strob0t/flowboard/internal/domain/card"
	"github.com/Strob0t/flowboard/internal/domain/flow"
)

// Store is the port interface for database operations.
// Adapters return errors wrapping domain.ErrNotFound or domain.ErrStorage.
type Store interface {
	// Boards
	ListBoards(ctx context.Context) ([]board.Board, error)
	GetBoard(ctx context.Context, id string) (*board.Board, error)
	UpsertBoard(ctx context.Context, b *board.Board) error

	// Columns. UpsertColumn keeps an existing wip_limit; only
	// UpdateColumnWIPLimit changes it after the first insert.
	ListColumns(ctx context.Context, boardID string) ([]board.Column, error)
	UpsertColumn(ctx context.Context, c *board.Column) error
	UpdateColumnWIPLimit(ctx context.Context, boardID, columnID string, limit *int) (*board.Column, error)

	// Events and live card state. RecordEvent appends ev and writes state in
	// one transaction. inserted is false when ev.ID already exists, in which
	// case nothing is written. On insert ev.Seq is set.
	RecordEvent(ctx context.Context, ev *card.Event, state *card.State) (inserted bool, err error)
	ListCardEvents(ctx context.Context, boardID, cardID string) ([]card.Event, error)
	// ListBoardEvents returns events with occurred_at < before, ordered by
	// (occurred_at, seq). A zero before returns all events.
	ListBoardEvents(ctx context.Context, boardID string, before time.Time) ([]card.Event, error)
	GetCardState(ctx context.Context, boardID, cardID string) (*card.State, error)
	ListOpenCardStates(ctx context.Context, boardID string) ([]card.State, error)

	// Snapshots
	GetSnapshot(ctx context.Context, boardID string, date flow.Date) (*flow.DailySnapshot, error)
	// UpsertSnapshot atomically replaces the (board_id, date) row. The write
	// is skipped when the stored fingerprint is equal; changed reports whether
	// a row was inserted or replaced.
	UpsertSnapshot(ctx context.Context, s *flow.DailySnapshot) (changed bool, err error)
	// ListSnapshots returns the latest limit snapshots in ascending date order.
	ListSnapshots(ctx context.Context, boardID string, limit int) ([]flow.DailySnapshot, error)
	// ListSnapshotDates returns stored snapshot dates >= from, ascending.
	ListSnapshotDates(ctx context.Context, boardID string, from flow.Date) ([]flow.Date, error)

	Ping(ctx context.Context) error
}
