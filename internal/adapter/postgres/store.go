package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/flowboard/internal/domain/board"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return storageErr(err, "ping")
	}
	return nil
}

// --- Boards ---

const boardColumns = `id, name, timezone, created_at`

func scanBoard(row scannable) (board.Board, error) {
	var b board.Board
	err := row.Scan(&b.ID, &b.Name, &b.Timezone, &b.CreatedAt)
	return b, err
}

func (s *Store) ListBoards(ctx context.Context) ([]board.Board, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+boardColumns+` FROM boards ORDER BY id`)
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
	b, err := scanBoard(s.pool.QueryRow(ctx, `SELECT `+boardColumns+` FROM boards WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get board %s", id)
	}
	return &b, nil
}

func (s *Store) UpsertBoard(ctx context.Context, b *board.Board) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO boards (id, name, timezone) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, timezone = EXCLUDED.timezone
		 RETURNING created_at`,
		b.ID, b.Name, b.Timezone).Scan(&b.CreatedAt)
	if err != nil {
		return storageErr(err, "upsert board %s", b.ID)
	}
	return nil
}

// --- Columns ---

const columnColumns = `board_id, column_id, name, position, wip_limit, is_terminal`

func scanColumn(row scannable) (board.Column, error) {
	var c board.Column
	err := row.Scan(&c.BoardID, &c.ID, &c.Name, &c.Position, &c.WIPLimit, &c.IsTerminal)
	return c, err
}

func (s *Store) ListColumns(ctx context.Context, boardID string) ([]board.Column, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+columnColumns+` FROM board_columns WHERE board_id = $1 ORDER BY position, column_id`, boardID)
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

// UpsertColumn writes the catalog fields. wip_limit is taken from c only on
// insert so limits changed through the API survive catalog reloads.
func (s *Store) UpsertColumn(ctx context.Context, c *board.Column) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO board_columns (`+columnColumns+`) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (board_id, column_id) DO UPDATE
		 SET name = EXCLUDED.name, position = EXCLUDED.position, is_terminal = EXCLUDED.is_terminal`,
		c.BoardID, c.ID, c.Name, c.Position, c.WIPLimit, c.IsTerminal)
	return execExpectOne(tag, err, "upsert column %s/%s", c.BoardID, c.ID)
}

func (s *Store) UpdateColumnWIPLimit(ctx context.Context, boardID, columnID string, limit *int) (*board.Column, error) {
	c, err := scanColumn(s.pool.QueryRow(ctx,
		`UPDATE board_columns SET wip_limit = $3 WHERE board_id = $1 AND column_id = $2
		 RETURNING `+columnColumns,
		boardID, columnID, limit))
	if err != nil {
		return nil, notFoundWrap(err, "update wip limit %s/%s", boardID, columnID)
	}
	return &c, nil
}
