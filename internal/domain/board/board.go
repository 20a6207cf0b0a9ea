// Package board defines boards and their column configuration.
package board

import (
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/flowboard/internal/domain"
)

// Board is the unit of work for the flow engine. Dates are evaluated in its timezone.
type Board struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Timezone  string    `json:"timezone" yaml:"timezone"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// Location resolves the board timezone. An empty timezone means UTC.
func (b *Board) Location() (*time.Location, error) {
	if b.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return nil, fmt.Errorf("board %s timezone %q: %w", b.ID, b.Timezone, err)
	}
	return loc, nil
}

// Column is the externally supplied configuration of one board column.
type Column struct {
	ID         string `json:"column_id" yaml:"id"`
	BoardID    string `json:"board_id" yaml:"-"`
	Name       string `json:"name" yaml:"name"`
	Position   int    `json:"position" yaml:"position"`
	WIPLimit   *int   `json:"wip_limit" yaml:"wip_limit"`
	IsTerminal bool   `json:"is_terminal" yaml:"terminal"`
}

// DisplayName falls back to the column id when no name is configured.
func (c *Column) DisplayName() string {
	if c.Name == "" {
		return c.ID
	}
	return c.Name
}

// UpdateWIPLimitRequest is the body of a column WIP limit PATCH.
// A nil limit clears it.
type UpdateWIPLimitRequest struct {
	WIPLimit *int `json:"wip_limit"`
}

// Validate checks a board definition.
func (b *Board) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return domain.Validationf("board id is required")
	}
	if _, err := b.Location(); err != nil {
		return domain.Validationf("invalid timezone %q", b.Timezone)
	}
	return nil
}

// Validate checks a column definition.
func (c *Column) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return domain.Validationf("column id is required")
	}
	if c.Position < 0 {
		return domain.Validationf("column %s: position must be >= 0", c.ID)
	}
	return ValidateWIPLimit(c.WIPLimit)
}

// ValidateWIPLimit accepts nil (no limit) or a non-negative limit.
func ValidateWIPLimit(limit *int) error {
	if limit != nil && *limit < 0 {
		return domain.Validationf("wip_limit must be >= 0 or null")
	}
	return nil
}

// TerminalSet returns the ids of columns flagged as terminal.
func TerminalSet(cols []Column) map[string]bool {
	set := make(map[string]bool)
	for i := range cols {
		if cols[i].IsTerminal {
			set[cols[i].ID] = true
		}
	}
	return set
}

// Definition is one board with its columns as supplied by the catalog.
type Definition struct {
	Board   `yaml:",inline"`
	Columns []Column `yaml:"columns"`
}
