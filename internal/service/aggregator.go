package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	cfotel "github.com/Strob0t/flowboard/internal/adapter/otel"
	"github.com/Strob0t/flowboard/internal/config"
	"github.com/Strob0t/flowboard/internal/domain"
	"github.com/Strob0t/flowboard/internal/domain/flow"
	"github.com/Strob0t/flowboard/internal/port/database"
	"github.com/Strob0t/flowboard/internal/resilience"
)

// Snapshot triggers, reported in notifications and logs.
const (
	TriggerRecordDaily = "record_daily"
	TriggerRecompute   = "recompute"
	TriggerScheduler   = "scheduler"
	TriggerBackfill    = "backfill"
)

// SeriesInvalidator drops cached read models of a board after a snapshot change.
type SeriesInvalidator interface {
	Invalidate(ctx context.Context, boardID string)
}

// RecordResult is the outcome of one snapshot recomputation.
type RecordResult struct {
	Snapshot   flow.DailySnapshot  `json:"snapshot"`
	Changed    bool                `json:"changed"`
	Violations []flow.WipViolation `json:"wip_violations"`
}

// flight is one in-progress computation shared by every caller waiting on
// the same (board, date). Its context outlives individual callers and is
// cancelled once the last waiter leaves.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// AggregatorService computes and persists daily snapshots.
type AggregatorService struct {
	store       database.Store
	invalidator SeriesInvalidator
	notifier    *FlowNotifier
	metrics     *cfotel.Metrics
	cfg         config.Aggregator
	now         func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
	locks   map[string]*semaphore.Weighted
}

// NewAggregatorService creates an aggregator. invalidator, notifier and
// metrics may be nil.
func NewAggregatorService(store database.Store, invalidator SeriesInvalidator, notifier *FlowNotifier, metrics *cfotel.Metrics, cfg config.Aggregator) *AggregatorService {
	return &AggregatorService{
		store:       store,
		invalidator: invalidator,
		notifier:    notifier,
		metrics:     metrics,
		cfg:         cfg,
		now:         time.Now,
		flights:     make(map[string]*flight),
		locks:       make(map[string]*semaphore.Weighted),
	}
}

// Today returns the current calendar day in the board's timezone.
func (a *AggregatorService) Today(ctx context.Context, boardID string) (flow.Date, error) {
	b, err := a.store.GetBoard(ctx, boardID)
	if err != nil {
		return "", fmt.Errorf("get board %s: %w", boardID, err)
	}
	loc, err := b.Location()
	if err != nil {
		return "", err
	}
	return flow.DateOf(a.now(), loc), nil
}

// Compute builds the snapshot for (board, date) from stored events without
// writing anything.
func (a *AggregatorService) Compute(ctx context.Context, boardID string, date flow.Date) (*flow.DailySnapshot, error) {
	b, err := a.store.GetBoard(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("get board %s: %w", boardID, err)
	}
	loc, err := b.Location()
	if err != nil {
		return nil, err
	}
	_, end := date.Bounds(loc)
	events, err := a.store.ListBoardEvents(ctx, boardID, end)
	if err != nil {
		return nil, fmt.Errorf("load events %s: %w", boardID, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := flow.Aggregate(flow.Input{BoardID: boardID, Date: date, Location: loc, Events: events})
	return &snap, nil
}

// RecordToday records the snapshot of the current day in the board timezone.
func (a *AggregatorService) RecordToday(ctx context.Context, boardID, trigger string) (*RecordResult, error) {
	today, err := a.Today(ctx, boardID)
	if err != nil {
		return nil, err
	}
	return a.Record(ctx, boardID, today, trigger)
}

// Record computes and upserts the snapshot for (board, date). Concurrent
// calls for the same key share one computation; computations for one board
// run one at a time. The computation is bounded by the configured timeout
// and yields domain.ErrRecomputeTimeout when it expires.
func (a *AggregatorService) Record(ctx context.Context, boardID string, date flow.Date, trigger string) (*RecordResult, error) {
	key := boardID + "|" + string(date)
	for attempt := 0; ; attempt++ {
		res, err := a.join(ctx, key, boardID, date, trigger)
		// Joined a flight another caller abandoned: start a fresh one.
		if errors.Is(err, context.Canceled) && ctx.Err() == nil && attempt == 0 {
			continue
		}
		return res, err
	}
}

func (a *AggregatorService) join(ctx context.Context, key, boardID string, date flow.Date, trigger string) (*RecordResult, error) {
	a.mu.Lock()
	f := a.flights[key]
	if f == nil {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Timeout)
		f = &flight{ctx: fctx, cancel: cancel}
		a.flights[key] = f
	}
	f.waiters++
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		f.waiters--
		if f.waiters == 0 {
			f.cancel()
			if a.flights[key] == f {
				delete(a.flights, key)
			}
		}
		a.mu.Unlock()
	}()

	ch := a.group.DoChan(key, func() (any, error) {
		defer func() {
			a.mu.Lock()
			if a.flights[key] == f {
				delete(a.flights, key)
			}
			a.mu.Unlock()
		}()
		return a.record(f.ctx, boardID, date, trigger)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*RecordResult), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *AggregatorService) boardLock(boardID string) *semaphore.Weighted {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[boardID]
	if !ok {
		l = semaphore.NewWeighted(1)
		a.locks[boardID] = l
	}
	return l
}

func (a *AggregatorService) record(ctx context.Context, boardID string, date flow.Date, trigger string) (*RecordResult, error) {
	ctx, span := cfotel.StartRecomputeSpan(ctx, boardID, date.String(), trigger)
	defer span.End()
	start := a.now()

	lock := a.boardLock(boardID)
	if err := lock.Acquire(ctx, 1); err != nil {
		return nil, a.timeoutErr(ctx, boardID, date, err)
	}
	defer lock.Release(1)

	snap, err := a.Compute(ctx, boardID, date)
	if err != nil {
		return nil, a.timeoutErr(ctx, boardID, date, err)
	}

	changed, err := a.store.UpsertSnapshot(ctx, snap)
	if err != nil {
		return nil, a.timeoutErr(ctx, boardID, date, fmt.Errorf("upsert snapshot: %w", err))
	}

	cols, err := a.store.ListColumns(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("load columns %s: %w", boardID, err)
	}
	res := &RecordResult{
		Snapshot:   *snap,
		Changed:    changed,
		Violations: flow.DetectViolations(snap, cols),
	}
	if res.Violations == nil {
		res.Violations = []flow.WipViolation{}
	}

	// Notifications outlive the computation deadline.
	notifyCtx := context.WithoutCancel(ctx)
	if changed {
		if a.invalidator != nil {
			a.invalidator.Invalidate(notifyCtx, boardID)
		}
		a.notifier.SnapshotRecorded(notifyCtx, snap, trigger, res.Violations)
	}
	a.metrics.RecordSnapshot(notifyCtx, boardID, changed, len(res.Violations), a.now().Sub(start).Seconds())

	slog.Info("snapshot recorded",
		"board_id", boardID,
		"date", date,
		"trigger", trigger,
		"changed", changed,
		"fingerprint", snap.Fingerprint,
		"total_wip", snap.TotalWIP,
		"cards_completed", snap.CardsCompleted,
	)
	return res, nil
}

// timeoutErr maps an expired computation deadline onto ErrRecomputeTimeout.
func (a *AggregatorService) timeoutErr(ctx context.Context, boardID string, date flow.Date, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("record %s/%s after %s: %w", boardID, date, a.cfg.Timeout, domain.ErrRecomputeTimeout)
	}
	return err
}

// Recompute records the snapshot of a past or current date and then refreshes
// every later stored snapshot. Future dates are rejected. The returned count
// includes the requested date when its row changed.
func (a *AggregatorService) Recompute(ctx context.Context, boardID string, date flow.Date) (*RecordResult, int, error) {
	today, err := a.Today(ctx, boardID)
	if err != nil {
		return nil, 0, err
	}
	if today.Before(date) {
		return nil, 0, domain.Validationf("date %s is in the future for board %s", date, boardID)
	}
	res, err := a.Record(ctx, boardID, date, TriggerRecompute)
	if err != nil {
		return nil, 0, err
	}
	changed := 0
	if res.Changed {
		changed++
	}
	if date.Before(today) {
		n, err := a.Backfill(ctx, boardID, date.AddDays(1))
		changed += n
		if err != nil {
			return res, changed, err
		}
	}
	return res, changed, nil
}

// Backfill recomputes every stored snapshot dated from onward, retrying
// storage failures with backoff. Dates never recorded are not created and
// unchanged snapshots are not rewritten. Returns the number of rows that
// changed.
func (a *AggregatorService) Backfill(ctx context.Context, boardID string, from flow.Date) (int, error) {
	dates, err := a.store.ListSnapshotDates(ctx, boardID, from)
	if err != nil {
		return 0, fmt.Errorf("list snapshot dates %s: %w", boardID, err)
	}
	if len(dates) == 0 {
		return 0, nil
	}
	if limit := a.cfg.BackfillMaxDays; limit > 0 && len(dates) > limit {
		slog.Warn("backfill truncated", "board_id", boardID, "from", from, "dates", len(dates), "limit", limit)
		dates = dates[len(dates)-limit:]
	}

	changed := 0
	for _, d := range dates {
		err := resilience.RetryStorage(ctx, "backfill", a.cfg.RetryMaxTime, func(ctx context.Context) error {
			res, err := a.Record(ctx, boardID, d, TriggerBackfill)
			if err == nil && res.Changed {
				changed++
			}
			return err
		})
		if err != nil {
			return changed, fmt.Errorf("backfill %s at %s: %w", boardID, d, err)
		}
	}
	slog.Info("backfill complete", "board_id", boardID, "from", from, "dates", len(dates), "changed", changed)
	return changed, nil
}
