package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Strob0t/flowboard/internal/domain"
	"github.com/Strob0t/flowboard/internal/domain/board"
	"github.com/Strob0t/flowboard/internal/domain/card"
	"github.com/Strob0t/flowboard/internal/domain/flow"
)

// --- Boards ---

func scanBoard(s scanner) (board.Board, error) {
	var (
		b       board.Board
		created string
	)
	if err := s.Scan(&b.ID, &b.Name, &b.Timezone, &created); err != nil {
		return b, err
	}
	b.CreatedAt = parseTS(created)
	return b, nil
}

func (s *Store) ListBoards(ctx context.Context) ([]board.Board, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, timezone, created_at FROM boards ORDER BY id`)
	if err != nil {
		return nil, storageErr(err, "list boards")
	}
	defer rows.Close()

	var boards []board.Board
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, storageErr(err, "scan board")
		}
		boards = append(boards, b)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "list boards")
	}
	return orEmpty(boards), nil
}

func (s *Store) GetBoard(ctx context.Context, id string) (*board.Board, error) {
	b, err := scanBoard(s.db.QueryRowContext(ctx, `SELECT id, name, timezone, created_at FROM boards WHERE id = ?`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get board %s", id)
	}
	return &b, nil
}

func (s *Store) UpsertBoard(ctx context.Context, b *board.Board) error {
	var created string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO boards (id, name, timezone, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, timezone = excluded.timezone
		 RETURNING created_at`,
		b.ID, b.Name, b.Timezone, ts(s.now())).Scan(&created)
	if err != nil {
		return storageErr(err, "upsert board %s", b.ID)
	}
	b.CreatedAt = parseTS(created)
	return nil
}

// --- Columns ---

const columnColumns = `board_id, column_id, name, position, wip_limit, is_terminal`

func scanColumn(s scanner) (board.Column, error) {
	var (
		c     board.Column
		limit sql.NullInt64
	)
	if err := s.Scan(&c.BoardID, &c.ID, &c.Name, &c.Position, &limit, &c.IsTerminal); err != nil {
		return c, err
	}
	c.WIPLimit = nullableInt(limit)
	return c, nil
}

func (s *Store) ListColumns(ctx context.Context, boardID string) ([]board.Column, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columnColumns+` FROM board_columns WHERE board_id = ? ORDER BY position, column_id`, boardID)
	if err != nil {
		return nil, storageErr(err, "list columns %s", boardID)
	}
	defer rows.Close()

	var cols []board.Column
	for rows.Next() {
		c, err := scanColumn(rows)
		if err != nil {
			return nil, storageErr(err, "scan column")
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "list columns %s", boardID)
	}
	return orEmpty(cols), nil
}

// UpsertColumn keeps an existing wip_limit.
func (s *Store) UpsertColumn(ctx context.Context, c *board.Column) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO board_columns (`+columnColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (board_id, column_id) DO UPDATE
		 SET name = excluded.name, position = excluded.position, is_terminal = excluded.is_terminal`,
		c.BoardID, c.ID, c.Name, c.Position, c.WIPLimit, c.IsTerminal)
	if err != nil {
		return storageErr(err, "upsert column %s/%s", c.BoardID, c.ID)
	}
	return nil
}

func (s *Store) UpdateColumnWIPLimit(ctx context.Context, boardID, columnID string, limit *int) (*board.Column, error) {
	c, err := scanColumn(s.db.QueryRowContext(ctx,
		`UPDATE board_columns SET wip_limit = ? WHERE board_id = ? AND column_id = ? RETURNING `+columnColumns,
		limit, boardID, columnID))
	if err != nil {
		return nil, notFoundWrap(err, "update wip limit %s/%s", boardID, columnID)
	}
	return &c, nil
}

// --- Card events ---

const eventColumns = `seq, id, board_id, card_id, event_type, from_column, to_column, blocked_reason, occurred_at, received_at`

func scanEvent(s scanner) (card.Event, error) {
	var (
		ev                 card.Event
		occurred, received string
	)
	if err := s.Scan(&ev.Seq, &ev.ID, &ev.BoardID, &ev.CardID, &ev.Type, &ev.FromColumn, &ev.ToColumn,
		&ev.BlockedReason, &occurred, &received); err != nil {
		return ev, err
	}
	ev.OccurredAt = parseTS(occurred)
	ev.ReceivedAt = parseTS(received)
	return ev, nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]card.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
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

func (s *Store) RecordEvent(ctx context.Context, ev *card.Event, state *card.State) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storageErr(err, "begin record event")
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO card_events (id, board_id, card_id, event_type, from_column, to_column, blocked_reason, occurred_at, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING
		 RETURNING seq`,
		ev.ID, ev.BoardID, ev.CardID, string(ev.Type), ev.FromColumn, ev.ToColumn, ev.BlockedReason,
		ts(ev.OccurredAt), ts(ev.ReceivedAt)).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageErr(err, "insert event %s", ev.ID)
	}

	if state != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO card_states (`+stateColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (board_id, card_id) DO UPDATE SET
			   current_column = excluded.current_column,
			   initial_column = excluded.initial_column,
			   is_blocked = excluded.is_blocked,
			   blocked_reason = excluded.blocked_reason,
			   created_at = excluded.created_at,
			   entered_current_column_at = excluded.entered_current_column_at,
			   first_active_at = excluded.first_active_at,
			   completed_at = excluded.completed_at,
			   last_event_at = excluded.last_event_at`,
			state.BoardID, state.CardID, state.CurrentColumn, state.InitialColumn, state.IsBlocked, state.BlockedReason,
			ts(state.CreatedAt), ts(state.EnteredCurrentColumnAt), nullableTS(state.FirstActiveAt),
			nullableTS(state.CompletedAt), ts(state.LastEventAt),
		); err != nil {
			return false, storageErr(err, "upsert card state %s", state.CardID)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, storageErr(err, "commit event %s", ev.ID)
	}
	ev.Seq = seq
	return true, nil
}

func (s *Store) ListCardEvents(ctx context.Context, boardID, cardID string) ([]card.Event, error) {
	events, err := s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM card_events WHERE board_id = ? AND card_id = ? ORDER BY occurred_at, seq`,
		boardID, cardID)
	if err != nil {
		return nil, storageErr(err, "list card events %s", cardID)
	}
	return events, nil
}

func (s *Store) ListBoardEvents(ctx context.Context, boardID string, before time.Time) ([]card.Event, error) {
	bound := ""
	if !before.IsZero() {
		bound = ts(before)
	}
	events, err := s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM card_events
		 WHERE board_id = ? AND (? = '' OR occurred_at < ?)
		 ORDER BY occurred_at, seq`,
		boardID, bound, bound)
	if err != nil {
		return nil, storageErr(err, "list board events %s", boardID)
	}
	return events, nil
}

// --- Card state ---

const stateColumns = `board_id, card_id, current_column, initial_column, is_blocked, blocked_reason, created_at, entered_current_column_at, first_active_at, completed_at, last_event_at`

func scanState(s scanner) (card.State, error) {
	var (
		st                     card.State
		created, entered, last string
		firstActive, completed sql.NullString
	)
	if err := s.Scan(&st.BoardID, &st.CardID, &st.CurrentColumn, &st.InitialColumn, &st.IsBlocked, &st.BlockedReason,
		&created, &entered, &firstActive, &completed, &last); err != nil {
		return st, err
	}
	st.CreatedAt = parseTS(created)
	st.EnteredCurrentColumnAt = parseTS(entered)
	st.LastEventAt = parseTS(last)
	st.FirstActiveAt = parseNullTS(firstActive)
	st.CompletedAt = parseNullTS(completed)
	return st, nil
}

func (s *Store) GetCardState(ctx context.Context, boardID, cardID string) (*card.State, error) {
	st, err := scanState(s.db.QueryRowContext(ctx,
		`SELECT `+stateColumns+` FROM card_states WHERE board_id = ? AND card_id = ?`, boardID, cardID))
	if err != nil {
		return nil, notFoundWrap(err, "get card %s/%s", boardID, cardID)
	}
	return &st, nil
}

func (s *Store) ListOpenCardStates(ctx context.Context, boardID string) ([]card.State, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stateColumns+` FROM card_states WHERE board_id = ? AND completed_at IS NULL ORDER BY card_id`, boardID)
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

// --- Daily snapshots ---

const snapshotColumns = `board_id, snapshot_date, per_column_counts, cards_completed, avg_lead_time_hours, avg_cycle_time_hours, total_wip, fingerprint`

func scanSnapshot(s scanner) (flow.DailySnapshot, error) {
	var (
		snap        flow.DailySnapshot
		day, counts string
		lead, cycle sql.NullFloat64
	)
	if err := s.Scan(&snap.BoardID, &day, &counts, &snap.CardsCompleted, &lead, &cycle, &snap.TotalWIP, &snap.Fingerprint); err != nil {
		return snap, err
	}
	snap.Date = flow.Date(day)
	snap.AvgLeadTimeHours = nullableFloat(lead)
	snap.AvgCycleTimeHours = nullableFloat(cycle)
	if err := json.Unmarshal([]byte(counts), &snap.PerColumnCounts); err != nil {
		return snap, fmt.Errorf("decode per_column_counts: %w", err)
	}
	if snap.PerColumnCounts == nil {
		snap.PerColumnCounts = map[string]int{}
	}
	return snap, nil
}

func (s *Store) GetSnapshot(ctx context.Context, boardID string, date flow.Date) (*flow.DailySnapshot, error) {
	snap, err := scanSnapshot(s.db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM daily_snapshots WHERE board_id = ? AND snapshot_date = ?`, boardID, string(date)))
	if err != nil {
		return nil, notFoundWrap(err, "get snapshot %s/%s", boardID, date)
	}
	return &snap, nil
}

func (s *Store) UpsertSnapshot(ctx context.Context, snap *flow.DailySnapshot) (bool, error) {
	counts := snap.PerColumnCounts
	if counts == nil {
		counts = map[string]int{}
	}
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return false, fmt.Errorf("encode per_column_counts: %w", domain.ErrValidation)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO daily_snapshots (`+snapshotColumns+`, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (board_id, snapshot_date) DO UPDATE SET
		   per_column_counts = excluded.per_column_counts,
		   cards_completed = excluded.cards_completed,
		   avg_lead_time_hours = excluded.avg_lead_time_hours,
		   avg_cycle_time_hours = excluded.avg_cycle_time_hours,
		   total_wip = excluded.total_wip,
		   fingerprint = excluded.fingerprint,
		   recorded_at = excluded.recorded_at
		 WHERE daily_snapshots.fingerprint <> excluded.fingerprint`,
		snap.BoardID, string(snap.Date), string(countsJSON), snap.CardsCompleted,
		snap.AvgLeadTimeHours, snap.AvgCycleTimeHours, snap.TotalWIP, snap.Fingerprint, ts(s.now()))
	if err != nil {
		return false, storageErr(err, "upsert snapshot %s/%s", snap.BoardID, snap.Date)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr(err, "upsert snapshot %s/%s", snap.BoardID, snap.Date)
	}
	return n > 0, nil
}

func (s *Store) ListSnapshots(ctx context.Context, boardID string, limit int) ([]flow.DailySnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM (
		   SELECT `+snapshotColumns+` FROM daily_snapshots
		   WHERE board_id = ? ORDER BY snapshot_date DESC LIMIT ?
		 ) ORDER BY snapshot_date ASC`,
		boardID, limit)
	if err != nil {
		return nil, storageErr(err, "list snapshots %s", boardID)
	}
	defer rows.Close()

	var snaps []flow.DailySnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, storageErr(err, "scan snapshot")
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "list snapshots %s", boardID)
	}
	return orEmpty(snaps), nil
}

func (s *Store) ListSnapshotDates(ctx context.Context, boardID string, from flow.Date) ([]flow.Date, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT snapshot_date FROM daily_snapshots WHERE board_id = ? AND snapshot_date >= ? ORDER BY snapshot_date`,
		boardID, string(from))
	if err != nil {
		return nil, storageErr(err, "list snapshot dates %s", boardID)
	}
	defer rows.Close()

	var dates []flow.Date
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return nil, storageErr(err, "scan snapshot date")
		}
		dates = append(dates, flow.Date(day))
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "list snapshot dates %s", boardID)
	}
	return dates, nil
}
