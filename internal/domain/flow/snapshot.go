package flow

import (
	"encoding/json"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// DailySnapshot is the immutable per-board, per-day flow aggregate.
// Recomputing with the same event history yields identical bytes.
type DailySnapshot struct {
	BoardID           string         `json:"board_id"`
	Date              Date           `json:"date"`
	PerColumnCounts   map[string]int `json:"per_column_counts"`
	CardsCompleted    int            `json:"cards_completed"`
	AvgLeadTimeHours  *float64       `json:"avg_lead_time_hours"`
	AvgCycleTimeHours *float64       `json:"avg_cycle_time_hours"`
	TotalWIP          int            `json:"total_wip"`
	Fingerprint       string         `json:"fingerprint"`
}

// canonicalSnapshot fixes the field order of the fingerprinted encoding.
// encoding/json writes map keys sorted, so the output is deterministic.
type canonicalSnapshot struct {
	BoardID           string         `json:"board_id"`
	Date              Date           `json:"date"`
	PerColumnCounts   map[string]int `json:"per_column_counts"`
	CardsCompleted    int            `json:"cards_completed"`
	AvgLeadTimeHours  *float64       `json:"avg_lead_time_hours"`
	AvgCycleTimeHours *float64       `json:"avg_cycle_time_hours"`
	TotalWIP          int            `json:"total_wip"`
}

// Canonical returns the deterministic encoding of every field except the fingerprint.
func (s *DailySnapshot) Canonical() []byte {
	counts := s.PerColumnCounts
	if counts == nil {
		counts = map[string]int{}
	}
	data, _ := json.Marshal(canonicalSnapshot{
		BoardID:           s.BoardID,
		Date:              s.Date,
		PerColumnCounts:   counts,
		CardsCompleted:    s.CardsCompleted,
		AvgLeadTimeHours:  s.AvgLeadTimeHours,
		AvgCycleTimeHours: s.AvgCycleTimeHours,
		TotalWIP:          s.TotalWIP,
	})
	return data
}

// Seal computes and stores the fingerprint.
func (s *DailySnapshot) Seal() {
	s.Fingerprint = strconv.FormatUint(xxhash.Sum64(s.Canonical()), 16)
}

// CountSum returns the sum of the per-column counts.
func (s *DailySnapshot) CountSum() int {
	n := 0
	for _, c := range s.PerColumnCounts {
		n += c
	}
	return n
}

// Metric names a rolling-average input.
type Metric string

const (
	MetricLeadTime   Metric = "lead_time"
	MetricCycleTime  Metric = "cycle_time"
	MetricThroughput Metric = "throughput"
)

// Valid reports whether m is a known metric.
func (m Metric) Valid() bool {
	switch m {
	case MetricLeadTime, MetricCycleTime, MetricThroughput:
		return true
	}
	return false
}

// value extracts the metric from a snapshot; nil when the snapshot has no value.
func (m Metric) value(s *DailySnapshot) *float64 {
	switch m {
	case MetricLeadTime:
		return s.AvgLeadTimeHours
	case MetricCycleTime:
		return s.AvgCycleTimeHours
	case MetricThroughput:
		v := float64(s.CardsCompleted)
		return &v
	}
	return nil
}
