package flow

import (
	"cmp"
	"math"
	"slices"

	"github.com/Strob0t/flowboard/internal/domain/board"
)

// ThroughputPoint is one entry of the throughput series.
type ThroughputPoint struct {
	Date              Date     `json:"date"`
	CardsCompleted    int      `json:"cards_completed"`
	AvgLeadTimeHours  *float64 `json:"avg_lead_time_hours"`
	AvgCycleTimeHours *float64 `json:"avg_cycle_time_hours"`
	TotalWIP          int      `json:"total_wip"`
}

// CFDPoint is one (date, column) cell of the cumulative flow diagram.
type CFDPoint struct {
	Date       Date   `json:"date"`
	Column     string `json:"column"`
	ColumnName string `json:"column_name"`
	CardCount  int    `json:"card_count"`
}

// RollingAverage is the result of a rolling-average query. Value is nil when
// no snapshot in the window has a value.
type RollingAverage struct {
	Metric     Metric   `json:"metric"`
	WindowDays int      `json:"window_days"`
	Samples    int      `json:"samples"`
	Value      *float64 `json:"value"`
}

// LastN returns the last n snapshots of an ascending series.
func LastN(snaps []DailySnapshot, n int) []DailySnapshot {
	if n <= 0 {
		return nil
	}
	if len(snaps) <= n {
		return snaps
	}
	return snaps[len(snaps)-n:]
}

// Throughput projects snapshots onto the throughput series shape.
func Throughput(snaps []DailySnapshot) []ThroughputPoint {
	out := make([]ThroughputPoint, 0, len(snaps))
	for i := range snaps {
		s := &snaps[i]
		out = append(out, ThroughputPoint{
			Date:              s.Date,
			CardsCompleted:    s.CardsCompleted,
			AvgLeadTimeHours:  s.AvgLeadTimeHours,
			AvgCycleTimeHours: s.AvgCycleTimeHours,
			TotalWIP:          s.TotalWIP,
		})
	}
	return out
}

// CFD flattens per-column counts, ordered by date, then column position.
// Columns missing from cols sort last by id and are named by their id.
func CFD(snaps []DailySnapshot, cols []board.Column) []CFDPoint {
	byID := make(map[string]*board.Column, len(cols))
	for i := range cols {
		byID[cols[i].ID] = &cols[i]
	}
	position := func(id string) int {
		if c, ok := byID[id]; ok {
			return c.Position
		}
		return math.MaxInt
	}

	out := make([]CFDPoint, 0)
	for i := range snaps {
		s := &snaps[i]
		ids := make([]string, 0, len(s.PerColumnCounts))
		for id := range s.PerColumnCounts {
			ids = append(ids, id)
		}
		slices.SortFunc(ids, func(a, b string) int {
			if c := cmp.Compare(position(a), position(b)); c != 0 {
				return c
			}
			return cmp.Compare(a, b)
		})
		for _, id := range ids {
			name := id
			if c, ok := byID[id]; ok {
				name = c.DisplayName()
			}
			out = append(out, CFDPoint{
				Date:       s.Date,
				Column:     id,
				ColumnName: name,
				CardCount:  s.PerColumnCounts[id],
			})
		}
	}
	return out
}

// Average returns the mean of metric m over snapshots with a non-null value.
func Average(snaps []DailySnapshot, m Metric, window int) RollingAverage {
	res := RollingAverage{Metric: m, WindowDays: window}
	var sum float64
	for i := range snaps {
		v := m.value(&snaps[i])
		if v == nil {
			continue
		}
		sum += *v
		res.Samples++
	}
	if res.Samples > 0 {
		mean := sum / float64(res.Samples)
		res.Value = &mean
	}
	return res
}

// InWindow returns the snapshots dated within the window of days ending at
// (and including) last.
func InWindow(snaps []DailySnapshot, last Date, days int) []DailySnapshot {
	if days <= 0 {
		return nil
	}
	first := last.AddDays(-(days - 1))
	var out []DailySnapshot
	for i := range snaps {
		d := snaps[i].Date
		if !d.Before(first) && !last.Before(d) {
			out = append(out, snaps[i])
		}
	}
	return out
}
