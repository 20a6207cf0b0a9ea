package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Strob0t/flowboard/internal/domain/board"
	"github.com/Strob0t/flowboard/internal/port/database"
)

// CatalogService owns board and column configuration. Boards and columns
// come from the catalog file; the WIP limit is the only field changed
// through the API, and catalog syncs never overwrite it.
type CatalogService struct {
	store database.Store
}

// NewCatalogService creates a catalog service.
func NewCatalogService(store database.Store) *CatalogService {
	return &CatalogService{store: store}
}

// Sync upserts every board and column of the catalog. Columns missing from
// the catalog are kept: stored events may still reference them.
func (s *CatalogService) Sync(ctx context.Context, defs []board.Definition) error {
	for i := range defs {
		def := &defs[i]
		b := def.Board
		if err := b.Validate(); err != nil {
			return err
		}
		if err := s.store.UpsertBoard(ctx, &b); err != nil {
			return fmt.Errorf("upsert board %s: %w", b.ID, err)
		}
		for j := range def.Columns {
			c := def.Columns[j]
			c.BoardID = b.ID
			if err := c.Validate(); err != nil {
				return err
			}
			if err := s.store.UpsertColumn(ctx, &c); err != nil {
				return fmt.Errorf("upsert column %s/%s: %w", b.ID, c.ID, err)
			}
		}
	}
	slog.Info("board catalog synced", "boards", len(defs))
	return nil
}

// ListBoards returns all boards.
func (s *CatalogService) ListBoards(ctx context.Context) ([]board.Board, error) {
	boards, err := s.store.ListBoards(ctx)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	return boards, nil
}

// GetBoard returns one board.
func (s *CatalogService) GetBoard(ctx context.Context, id string) (*board.Board, error) {
	b, err := s.store.GetBoard(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get board %s: %w", id, err)
	}
	return b, nil
}

// ListColumns returns the columns of a board in position order.
func (s *CatalogService) ListColumns(ctx context.Context, boardID string) ([]board.Column, error) {
	if _, err := s.GetBoard(ctx, boardID); err != nil {
		return nil, err
	}
	cols, err := s.store.ListColumns(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("list columns %s: %w", boardID, err)
	}
	return cols, nil
}

// UpdateWIPLimit sets or, with nil, clears the WIP limit of one column.
// Violations are derived on read, so the change applies to history at once.
func (s *CatalogService) UpdateWIPLimit(ctx context.Context, boardID, columnID string, limit *int) (*board.Column, error) {
	if err := board.ValidateWIPLimit(limit); err != nil {
		return nil, err
	}
	c, err := s.store.UpdateColumnWIPLimit(ctx, boardID, columnID, limit)
	if err != nil {
		return nil, fmt.Errorf("update wip limit %s/%s: %w", boardID, columnID, err)
	}
	slog.Info("wip limit updated", "board_id", boardID, "column_id", columnID, "wip_limit", limit)
	return c, nil
}
