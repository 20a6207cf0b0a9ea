package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	cfotel "github.com/Strob0t/flowboard/internal/adapter/otel"
	"github.com/Strob0t/flowboard/internal/config"
	"github.com/Strob0t/flowboard/internal/domain"
	"github.com/Strob0t/flowboard/internal/domain/board"
	"github.com/Strob0t/flowboard/internal/domain/flow"
	"github.com/Strob0t/flowboard/internal/port/cache"
	"github.com/Strob0t/flowboard/internal/port/database"
)

// ThroughputSeries is the throughput read model plus a validator derived
// from the fingerprints of the snapshots it covers.
type ThroughputSeries struct {
	Points []flow.ThroughputPoint `json:"points"`
	ETag   string                 `json:"-"`
}

// Dashboard is the composite a board's dashboard renders.
type Dashboard struct {
	BoardID            string              `json:"board_id"`
	LatestSnapshotDate *flow.Date          `json:"latest_snapshot_date"`
	TotalWIP           int                 `json:"total_wip"`
	WIPViolations      []flow.WipViolation `json:"wip_violations"`
	BlockedCount       int                 `json:"blocked_count"`
	OverdueCount       int                 `json:"overdue_count"`
	AvgLeadTimeHours   *float64            `json:"avg_lead_time"`
	AvgCycleTimeHours  *float64            `json:"avg_cycle_time"`
	ThroughputAvg      *float64            `json:"throughput_avg"`
	WindowDays         int                 `json:"window_days"`
}

// QueryService serves flow metrics from persisted snapshots. The recent
// series of each board is cached; writers invalidate it after a change.
type QueryService struct {
	store     database.Store
	cache     cache.Cache
	cacheTTL  time.Duration
	maxDays   int
	dashboard config.Dashboard
	now       func() time.Time

	// gen guards against caching a series loaded before an invalidation.
	mu  sync.Mutex
	gen map[string]uint64
}

// NewQueryService creates a query service. c may be nil to disable caching.
func NewQueryService(store database.Store, c cache.Cache, cacheTTL time.Duration, q config.Query, d config.Dashboard) *QueryService {
	return &QueryService{
		store:     store,
		cache:     c,
		cacheTTL:  cacheTTL,
		maxDays:   q.MaxDays,
		dashboard: d,
		now:       time.Now,
		gen:       make(map[string]uint64),
	}
}

// MaxDays is the largest accepted days or window parameter.
func (s *QueryService) MaxDays() int { return s.maxDays }

// Invalidate drops the cached series of a board.
func (s *QueryService) Invalidate(ctx context.Context, boardID string) {
	s.mu.Lock()
	s.gen[boardID]++
	s.mu.Unlock()
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.SeriesKey(boardID)); err != nil {
		slog.Warn("series cache invalidation failed", "board_id", boardID, "error", err)
	}
}

func (s *QueryService) generation(boardID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen[boardID]
}

func (s *QueryService) checkDays(name string, days int) error {
	if days < 1 || days > s.maxDays {
		return domain.Validationf("%s must be between 1 and %d", name, s.maxDays)
	}
	return nil
}

func (s *QueryService) getBoard(ctx context.Context, boardID string) (*board.Board, error) {
	b, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("get board %s: %w", boardID, err)
	}
	return b, nil
}

// series returns up to maxDays latest snapshots in ascending date order.
func (s *QueryService) series(ctx context.Context, boardID string) ([]flow.DailySnapshot, error) {
	key := cache.SeriesKey(boardID)
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err != nil {
			slog.Warn("series cache get failed", "board_id", boardID, "error", err)
		} else if ok {
			var snaps []flow.DailySnapshot
			if err := json.Unmarshal(data, &snaps); err == nil {
				return snaps, nil
			}
			slog.Warn("corrupt series cache entry", "board_id", boardID)
		}
	}

	gen := s.generation(boardID)
	snaps, err := s.store.ListSnapshots(ctx, boardID, s.maxDays)
	if err != nil {
		return nil, fmt.Errorf("list snapshots %s: %w", boardID, err)
	}

	if s.cache != nil && s.generation(boardID) == gen {
		if data, err := json.Marshal(snaps); err == nil {
			if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
				slog.Warn("series cache set failed", "board_id", boardID, "error", err)
			}
		}
	}
	return snaps, nil
}

// Throughput returns the last days snapshots as a throughput series.
func (s *QueryService) Throughput(ctx context.Context, boardID string, days int) (*ThroughputSeries, error) {
	if err := s.checkDays("days", days); err != nil {
		return nil, err
	}
	ctx, span := cfotel.StartQuerySpan(ctx, boardID, "throughput")
	defer span.End()

	if _, err := s.getBoard(ctx, boardID); err != nil {
		return nil, err
	}
	snaps, err := s.series(ctx, boardID)
	if err != nil {
		return nil, err
	}
	window := flow.LastN(snaps, days)
	return &ThroughputSeries{Points: flow.Throughput(window), ETag: seriesETag(window)}, nil
}

// seriesETag hashes the fingerprints of the snapshots in order.
func seriesETag(snaps []flow.DailySnapshot) string {
	d := xxhash.New()
	for i := range snaps {
		_, _ = d.WriteString(string(snaps[i].Date))
		_, _ = d.WriteString(snaps[i].Fingerprint)
	}
	return `"` + strconv.FormatUint(d.Sum64(), 16) + `"`
}

// CFD returns the cumulative flow series of the last days snapshots.
func (s *QueryService) CFD(ctx context.Context, boardID string, days int) ([]flow.CFDPoint, error) {
	if err := s.checkDays("days", days); err != nil {
		return nil, err
	}
	ctx, span := cfotel.StartQuerySpan(ctx, boardID, "cfd")
	defer span.End()

	if _, err := s.getBoard(ctx, boardID); err != nil {
		return nil, err
	}
	snaps, err := s.series(ctx, boardID)
	if err != nil {
		return nil, err
	}
	cols, err := s.store.ListColumns(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("list columns %s: %w", boardID, err)
	}
	return flow.CFD(flow.LastN(snaps, days), cols), nil
}

// RollingAverage averages metric over the snapshots dated within the
// window of days ending today in the board timezone.
func (s *QueryService) RollingAverage(ctx context.Context, boardID string, metric flow.Metric, windowDays int) (*flow.RollingAverage, error) {
	if !metric.Valid() {
		return nil, domain.Validationf("unknown metric %q, want lead_time, cycle_time or throughput", metric)
	}
	if err := s.checkDays("window", windowDays); err != nil {
		return nil, err
	}
	ctx, span := cfotel.StartQuerySpan(ctx, boardID, "rolling")
	defer span.End()

	b, err := s.getBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	snaps, err := s.series(ctx, boardID)
	if err != nil {
		return nil, err
	}
	today, err := s.today(b)
	if err != nil {
		return nil, err
	}
	avg := flow.Average(flow.InWindow(snaps, today, windowDays), metric, windowDays)
	return &avg, nil
}

func (s *QueryService) today(b *board.Board) (flow.Date, error) {
	loc, err := b.Location()
	if err != nil {
		return "", err
	}
	return flow.DateOf(s.now(), loc), nil
}

// Violations evaluates the latest snapshot against the current WIP limits.
func (s *QueryService) Violations(ctx context.Context, boardID string) ([]flow.WipViolation, error) {
	ctx, span := cfotel.StartQuerySpan(ctx, boardID, "violations")
	defer span.End()

	if _, err := s.getBoard(ctx, boardID); err != nil {
		return nil, err
	}
	snaps, err := s.series(ctx, boardID)
	if err != nil {
		return nil, err
	}
	return s.violations(ctx, boardID, snaps)
}

func (s *QueryService) violations(ctx context.Context, boardID string, snaps []flow.DailySnapshot) ([]flow.WipViolation, error) {
	out := []flow.WipViolation{}
	if len(snaps) == 0 {
		return out, nil
	}
	cols, err := s.store.ListColumns(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("list columns %s: %w", boardID, err)
	}
	return append(out, flow.DetectViolations(&snaps[len(snaps)-1], cols)...), nil
}

// Dashboard assembles the dashboard composite. Blocked and overdue counts
// come from live card state; everything else from persisted snapshots.
func (s *QueryService) Dashboard(ctx context.Context, boardID string) (*Dashboard, error) {
	ctx, span := cfotel.StartQuerySpan(ctx, boardID, "dashboard")
	defer span.End()

	b, err := s.getBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	snaps, err := s.series(ctx, boardID)
	if err != nil {
		return nil, err
	}
	violations, err := s.violations(ctx, boardID, snaps)
	if err != nil {
		return nil, err
	}
	open, err := s.store.ListOpenCardStates(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("list open cards %s: %w", boardID, err)
	}
	today, err := s.today(b)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{
		BoardID:       boardID,
		WIPViolations: violations,
		WindowDays:    s.dashboard.WindowDays,
	}
	if len(snaps) > 0 {
		latest := snaps[len(snaps)-1]
		d.LatestSnapshotDate = &latest.Date
		d.TotalWIP = latest.TotalWIP
	}

	cutoff := s.now().Add(-s.dashboard.OverdueAfter)
	for i := range open {
		if open[i].IsBlocked {
			d.BlockedCount++
		}
		if open[i].CreatedAt.Before(cutoff) {
			d.OverdueCount++
		}
	}

	window := flow.InWindow(snaps, today, s.dashboard.WindowDays)
	d.AvgLeadTimeHours = flow.Average(window, flow.MetricLeadTime, s.dashboard.WindowDays).Value
	d.AvgCycleTimeHours = flow.Average(window, flow.MetricCycleTime, s.dashboard.WindowDays).Value
	d.ThroughputAvg = flow.Average(window, flow.MetricThroughput, s.dashboard.WindowDays).Value
	return d, nil
}
