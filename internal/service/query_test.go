package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/flowboard/internal/config"
	"github.com/Strob0t/flowboard/internal/domain"
	"github.com/Strob0t/flowboard/internal/domain/card"
	"github.com/Strob0t/flowboard/internal/domain/flow"
)

// mapCache is a minimal cache.Cache for testing.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string][]byte)} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func newTestQuery(m *mockStore) *QueryService {
	q := NewQueryService(m, newMapCache(), time.Minute,
		config.Query{MaxDays: 365},
		config.Dashboard{WindowDays: 30, OverdueAfter: 14 * 24 * time.Hour})
	q.now = func() time.Time { return at(5, 18) }
	return q
}

// recordDays records snapshots for 2024-03-01 through 2024-03-<days>.
func recordDays(t *testing.T, a *AggregatorService, days int) {
	t.Helper()
	d := flow.Date("2024-03-01")
	for range days {
		if _, err := a.Record(context.Background(), "b1", d, TriggerRecompute); err != nil {
			t.Fatal(err)
		}
		d = d.AddDays(1)
	}
}

func TestQuery_ThroughputOnYoungBoard(t *testing.T) {
	m := newMockStore()
	m.seedBoard("b1", "UTC")
	seedEvents(t, m,
		ev("e1", "c1", card.EventCreated, "todo", at(1, 9)),
		ev("e2", "c1", card.EventCompleted, "done", at(3, 10)),
	)
	q := newTestQuery(m)
	recordDays(t, newTestAggregator(m, q, nil), 5)

	series, err := q.Throughput(context.Background(), "b1", 30)
	if err != nil {
		t.Fatal(err)
	}
	if len(series.Points) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(series.Points))
	}
	for i := 1; i < len(series.Points); i++ {
		if !series.Points[i-1].Date.Before(series.Points[i].Date) {
			t.Fatal("series is not ascending")
		}
	}
	if series.Points[2].CardsCompleted != 1 || series.Points[0].AvgLeadTimeHours != nil {
		t.Fatalf("unexpected points %+v", series.Points)
	}

	short, err := q.Throughput(context.Background(), "b1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(short.Points) != 2 || short.Points[1].Date != "2024-03-05" {
		t.Fatalf("expected the last two days, got %+v", short.Points)
	}
	if short.ETag == series.ETag || series.ETag == "" {
		t.Fatal("expected distinct etags for distinct windows")
	}
}

func TestQuery_ETagChangesWithSnapshots(t *testing.T) {
	m := newMockStore()
	m.seedBoard("b1", "UTC")
	q := newTestQuery(m)
	a := newTestAggregator(m, q, nil)
	recordDays(t, a, 2)

	first, _ := q.Throughput(context.Background(), "b1", 7)
	same, _ := q.Throughput(context.Background(), "b1", 7)
	if first.ETag != same.ETag {
		t.Fatal("etag must be stable for unchanged snapshots")
	}

	seedEvents(t, m, ev("e1", "c1", card.EventCreated, "todo", at(2, 9)))
	if _, err := a.Record(context.Background(), "b1", "2024-03-02", TriggerRecompute); err != nil {
		t.Fatal(err)
	}
	changed, _ := q.Throughput(context.Background(), "b1", 7)
	if changed.ETag == first.ETag {
		t.Fatal("etag must change when a snapshot changes")
	}
	if changed.Points[1].TotalWIP != 1 {
		t.Fatalf("expected a fresh series after invalidation, got %+v", changed.Points)
	}
}

func TestQuery_SeriesCache(t *testing.T) {
	m := newMockStore()
	m.seedBoard("b1", "UTC")
	q := newTestQuery(m)
	recordDays(t, newTestAggregator(m, nil, nil), 3)

	for range 3 {
		if _, err := q.CFD(context.Background(), "b1", 10); err != nil {
			t.Fatal(err)
		}
	}
	if got := m.listCalls.Load(); got != 1 {
		t.Fatalf("expected one store read, got %d", got)
	}

	q.Invalidate(context.Background(), "b1")
	if _, err := q.CFD(context.Background(), "b1", 10); err != nil {
		t.Fatal(err)
	}
	if got := m.listCalls.Load(); got != 2 {
		t.Fatalf("expected a reload after invalidation, got %d reads", got)
	}
}

func TestQuery_Validation(t *testing.T) {
	m := newMockStore()
	m.seedBoard("b1", "UTC")
	q := newTestQuery(m)
	ctx := context.Background()

	for _, days := range []int{0, -1, 366} {
		if _, err := q.Throughput(ctx, "b1", days); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("days=%d: expected ErrValidation, got %v", days, err)
		}
		if _, err := q.CFD(ctx, "b1", days); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("days=%d: expected ErrValidation, got %v", days, err)
		}
	}
	if _, err := q.RollingAverage(ctx, "b1", "velocity", 7); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown metric, got %v", err)
	}
	if _, err := q.RollingAverage(ctx, "b1", flow.MetricLeadTime, 0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for window 0, got %v", err)
	}
	if _, err := q.Throughput(ctx, "nope", 7); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := q.Dashboard(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQuery_EmptyBoard(t *testing.T) {
	m := newMockStore()
	m.seedBoard("b1", "UTC")
	q := newTestQuery(m)

	series, err := q.Throughput(context.Background(), "b1", 30)
	if err != nil {
		t.Fatal(err)
	}
	if series.Points == nil || len(series.Points) != 0 {
		t.Fatalf("expected an empty, non-nil series, got %+v", series.Points)
	}
	v, err := q.Violations(context.Background(), "b1")
	if err != nil || v == nil || len(v) != 0 {
		t.Fatalf("expected no violations, got %v, %v", v, err)
	}
	d, err := q.Dashboard(context.Background(), "b1")
	if err != nil {
		t.Fatal(err)
	}
	if d.LatestSnapshotDate != nil || d.AvgLeadTimeHours != nil || d.ThroughputAvg != nil {
		t.Fatalf("expected null metrics on an empty board, got %+v", d)
	}
}

func dashboardBoard(t *testing.T) (*mockStore, *QueryService) {
	t.Helper()
	m := newMockStore()
	m.seedBoard("b1", "UTC")
	seedEvents(t, m,
		ev("old", "c1", card.EventCreated, "todo", time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC)),
		ev("c2-create", "c2", card.EventCreated, "doing", at(2, 9)),
		card.Event{ID: "c2-block", BoardID: "b1", CardID: "c2", Type: card.EventBlocked, BlockedReason: "waiting", OccurredAt: at(2, 10)},
		ev("c3-create", "c3", card.EventCreated, "todo", at(1, 9)),
		ev("c3-move", "c3", card.EventMoved, "doing", at(2, 9)),
		ev("c3-done", "c3", card.EventCompleted, "done", at(3, 10)),
		ev("c4-create", "c4", card.EventCreated, "doing", at(4, 9)),
		ev("c5-create", "c5", card.EventCreated, "doing", at(4, 9)),
		ev("c6-create", "c6", card.EventCreated, "doing", at(4, 9)),
	)
	// Live state mirrors what the tracker would have written.
	for _, id := range []string{"c1", "c2", "c3", "c4", "c5", "c6"} {
		events, _ := m.ListCardEvents(context.Background(), "b1", id)
		st := card.Replay(events, time.Time{})
		m.states[cardKey("b1", id)] = *st
	}
	q := newTestQuery(m)
	recordDays(t, newTestAggregator(m, q, nil), 5)
	return m, q
}

func TestQuery_Dashboard(t *testing.T) {
	_, q := dashboardBoard(t)

	d, err := q.Dashboard(context.Background(), "b1")
	if err != nil {
		t.Fatal(err)
	}
	if d.LatestSnapshotDate == nil || *d.LatestSnapshotDate != "2024-03-05" {
		t.Fatalf("unexpected latest date %v", d.LatestSnapshotDate)
	}
	if d.TotalWIP != 5 {
		t.Fatalf("expected 5 cards in progress, got %d", d.TotalWIP)
	}
	if len(d.WIPViolations) != 1 || d.WIPViolations[0].ColumnID != "doing" || d.WIPViolations[0].Count != 4 {
		t.Fatalf("unexpected violations %+v", d.WIPViolations)
	}
	if d.BlockedCount != 1 || d.OverdueCount != 1 {
		t.Fatalf("expected 1 blocked and 1 overdue, got %d and %d", d.BlockedCount, d.OverdueCount)
	}
	if d.AvgLeadTimeHours == nil || *d.AvgLeadTimeHours != 49 {
		t.Fatalf("expected lead time 49h, got %v", d.AvgLeadTimeHours)
	}
	if d.AvgCycleTimeHours == nil || *d.AvgCycleTimeHours != 25 {
		t.Fatalf("expected cycle time 25h, got %v", d.AvgCycleTimeHours)
	}
	if d.ThroughputAvg == nil || *d.ThroughputAvg != 0.2 {
		t.Fatalf("expected throughput 0.2/day, got %v", d.ThroughputAvg)
	}
	if d.WindowDays != 30 {
		t.Fatalf("unexpected window %d", d.WindowDays)
	}
}

func TestQuery_RollingAverageWindowEndsToday(t *testing.T) {
	_, q := dashboardBoard(t)
	ctx := context.Background()

	recent, err := q.RollingAverage(ctx, "b1", flow.MetricLeadTime, 2)
	if err != nil {
		t.Fatal(err)
	}
	if recent.Value != nil || recent.Samples != 0 {
		t.Fatalf("expected no lead time in the last two days, got %+v", recent)
	}

	wider, err := q.RollingAverage(ctx, "b1", flow.MetricLeadTime, 3)
	if err != nil {
		t.Fatal(err)
	}
	if wider.Value == nil || *wider.Value != 49 || wider.Samples != 1 {
		t.Fatalf("expected 49h from one sample, got %+v", wider)
	}

	tp, err := q.RollingAverage(ctx, "b1", flow.MetricThroughput, 5)
	if err != nil {
		t.Fatal(err)
	}
	if tp.Samples != 5 || tp.Value == nil || *tp.Value != 0.2 {
		t.Fatalf("unexpected throughput average %+v", tp)
	}
}

func TestQuery_ViolationsFollowCurrentLimits(t *testing.T) {
	m, q := dashboardBoard(t)
	ctx := context.Background()

	v, err := q.Violations(ctx, "b1")
	if err != nil || len(v) != 1 {
		t.Fatalf("expected 1 violation, got %v, %v", v, err)
	}

	limit := 4
	if _, err := NewCatalogService(m).UpdateWIPLimit(ctx, "b1", "doing", &limit); err != nil {
		t.Fatal(err)
	}
	v, err = q.Violations(ctx, "b1")
	if err != nil || len(v) != 0 {
		t.Fatalf("expected no violations after raising the limit, got %v, %v", v, err)
	}
}
