package flow

import (
	"slices"
	"time"

	"github.com/Strob0t/flowboard/internal/domain/card"
)

// Input is everything Aggregate needs. Events may include events at or after
// the end of the day; they are ignored.
type Input struct {
	BoardID  string
	Date     Date
	Location *time.Location
	Events   []card.Event
}

// Aggregate computes the snapshot for one board and day. Each card's column
// as of the end of the day comes from replaying its events up to that
// instant, never from live state, so late corrections recompute cleanly.
func Aggregate(in Input) DailySnapshot {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	start, end := in.Date.Bounds(loc)

	byCard := card.GroupByCard(in.Events)
	ids := make([]string, 0, len(byCard))
	for id := range byCard {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	snap := DailySnapshot{
		BoardID:         in.BoardID,
		Date:            in.Date,
		PerColumnCounts: make(map[string]int),
	}

	var leadSum, cycleSum float64
	var cycleN int
	for _, id := range ids {
		st := card.Replay(byCard[id], end)
		if st == nil {
			continue
		}
		if st.IsOpen() {
			snap.PerColumnCounts[st.CurrentColumn]++
			snap.TotalWIP++
			continue
		}
		done := *st.CompletedAt
		if done.Before(start) || !done.Before(end) {
			continue
		}
		snap.CardsCompleted++
		leadSum += done.Sub(st.CreatedAt).Hours()
		if st.FirstActiveAt != nil && !st.FirstActiveAt.After(done) {
			cycleSum += done.Sub(*st.FirstActiveAt).Hours()
			cycleN++
		}
	}

	if snap.CardsCompleted > 0 {
		lead := leadSum / float64(snap.CardsCompleted)
		snap.AvgLeadTimeHours = &lead
	}
	if cycleN > 0 {
		cycle := cycleSum / float64(cycleN)
		snap.AvgCycleTimeHours = &cycle
	}

	snap.Seal()
	return snap
}
