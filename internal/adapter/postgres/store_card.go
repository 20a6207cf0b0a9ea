package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/flowboard/internal/domain/card"
)

// --- Card events ---

const eventColumns = `seq, id, board_id, card_id, event_type, from_column, to_column, blocked_reason, occurred_at, received_at`

func scanEvent(row scannable) (card.Event, error) {
	var ev card.Event
	err := row.Scan(&ev.Seq, &ev.ID, &ev.BoardID, &ev.CardID, &ev.Type, &ev.FromColumn, &ev.ToColumn,
		&ev.BlockedReason, &ev.OccurredAt, &ev.ReceivedAt)
	ev.OccurredAt = ev.OccurredAt.UTC()
	ev.ReceivedAt = ev.ReceivedAt.UTC()
	return ev, err
}

func collectEvents(rows pgx.Rows) ([]card.Event, error) {
	defer rows.Close()
	var events []card.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// RecordEvent appends ev and replaces the card's live state in one
// transaction. A duplicate event id writes nothing and reports false.
func (s *Store) RecordEvent(ctx context.Context, ev *card.Event, state *card.State) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, storageErr(err, "begin record event")
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var seq int64
	err = tx.QueryRow(ctx,
		`INSERT INTO card_events (id, board_id, card_id, event_type, from_column, to_column, blocked_reason, occurred_at, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING
		 RETURNING seq`,
		ev.ID, ev.BoardID, ev.CardID, string(ev.Type), ev.FromColumn, ev.ToColumn, ev.BlockedReason,
		ev.OccurredAt, ev.ReceivedAt).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageErr(err, "insert event %s", ev.ID)
	}

	if state != nil {
		if _, err := tx.Exec(ctx,
			`INSERT INTO card_states (`+stateColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (board_id, card_id) DO UPDATE SET
			   current_column = EXCLUDED.current_column,
			   initial_column = EXCLUDED.initial_column,
			   is_blocked = EXCLUDED.is_blocked,
			   blocked_reason = EXCLUDED.blocked_reason,
			   created_at = EXCLUDED.created_at,
			   entered_current_column_at = EXCLUDED.entered_current_column_at,
			   first_active_at = EXCLUDED.first_active_at,
			   completed_at = EXCLUDED.completed_at,
			   last_event_at = EXCLUDED.last_event_at`,
			state.BoardID, state.CardID, state.CurrentColumn, state.InitialColumn, state.IsBlocked, state.BlockedReason,
			state.CreatedAt, state.EnteredCurrentColumnAt, state.FirstActiveAt, state.CompletedAt, state.LastEventAt,
		); err != nil {
			return false, storageErr(err, "upsert card state %s", state.CardID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, storageErr(err, "commit event %s", ev.ID)
	}
	ev.Seq = seq
	return true, nil
}

func (s *Store) ListCardEvents(ctx context.Context, boardID, cardID string) ([]card.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM card_events WHERE board_id = $1 AND card_id = $2 ORDER BY occurred_at, seq`,
		boardID, cardID)
	if err != nil {
		return nil, storageErr(err, "list card events %s", cardID)
	}
	events, err := collectEvents(rows)
	if err != nil {
		return nil, storageErr(err, "scan card events %s", cardID)
	}
	return events, nil
}

func (s *Store) ListBoardEvents(ctx context.Context, boardID string, before time.Time) ([]card.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM card_events
		 WHERE board_id = $1 AND ($2::timestamptz IS NULL OR occurred_at < $2)
		 ORDER BY occurred_at, seq`,
		boardID, nullTime(before))
	if err != nil {
		return nil, storageErr(err, "list board events %s", boardID)
	}
	events, err := collectEvents(rows)
	if err != nil {
		return nil, storageErr(err, "scan board events %s", boardID)
	}
	return events, nil
}

// --- Card state ---

const stateColumns = `board_id, card_id, current_column, initial_column, is_blocked, blocked_reason, created_at, entered_current_column_at, first_active_at, completed_at, last_event_at`

func scanState(row scannable) (card.State, error) {
	var st card.State
	err := row.Scan(&st.BoardID, &st.CardID, &st.CurrentColumn, &st.InitialColumn, &st.IsBlocked, &st.BlockedReason,
		&st.CreatedAt, &st.EnteredCurrentColumnAt, &st.FirstActiveAt, &st.CompletedAt, &st.LastEventAt)
	st.CreatedAt = st.CreatedAt.UTC()
	st.EnteredCurrentColumnAt = st.EnteredCurrentColumnAt.UTC()
	st.LastEventAt = st.LastEventAt.UTC()
	st.FirstActiveAt = utcPtr(st.FirstActiveAt)
	st.CompletedAt = utcPtr(st.CompletedAt)
	return st, err
}

func (s *Store) GetCardState(ctx context.Context, boardID, cardID string) (*card.State, error) {
	st, err := scanState(s.pool.QueryRow(ctx,
		`SELECT `+stateColumns+` FROM card_states WHERE board_id = $1 AND card_id = $2`, boardID, cardID))
	if err != nil {
		return nil, notFoundWrap(err, "get card %s/%s", boardID, cardID)
	}
	return &st, nil
}

func (s *Store) ListOpenCardStates(ctx context.Context, boardID string) ([]card.State, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+stateColumns+` FROM card_states WHERE board_id = $1 AND completed_at IS NULL ORDER BY card_id`, boardID)
	if err != nil {
		return nil, storageErr(err, "list open cards %s", boardID)
	}
	defer rows.Close()

	var states []card.State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, storageErr(err, "scan card state")
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "list open cards %s", boardID)
	}
	return orEmpty(states), nil
}
