package flow

import (
	"cmp"
	"encoding/json"
	"slices"

	"github.com/Strob0t/flowboard/internal/domain/board"
)

// WipViolation is derived from a snapshot and the current column configs.
// It is never stored: limits can change after the fact.
type WipViolation struct {
	ColumnID   string `json:"column_id"`
	ColumnName string `json:"column_name"`
	Date       Date   `json:"date"`
	Count      int    `json:"count"`
	Limit      int    `json:"limit"`
}

// MarshalJSON adds the column id under "column", the key dashboards read.
func (v WipViolation) MarshalJSON() ([]byte, error) {
	type plain WipViolation
	return json.Marshal(struct {
		plain
		Column string `json:"column"`
	}{plain(v), v.ColumnID})
}

// DetectViolations returns one violation per column whose count exceeds its
// configured WIP limit, ordered by column position.
func DetectViolations(s *DailySnapshot, cols []board.Column) []WipViolation {
	if s == nil {
		return nil
	}
	ordered := slices.Clone(cols)
	slices.SortStableFunc(ordered, func(a, b board.Column) int {
		if c := cmp.Compare(a.Position, b.Position); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	var out []WipViolation
	for i := range ordered {
		col := &ordered[i]
		if col.WIPLimit == nil {
			continue
		}
		count := s.PerColumnCounts[col.ID]
		if count > *col.WIPLimit {
			out = append(out, WipViolation{
				ColumnID:   col.ID,
				ColumnName: col.DisplayName(),
				Date:       s.Date,
				Count:      count,
				Limit:      *col.WIPLimit,
			})
		}
	}
	return out
}
