package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/flowboard/internal/config"
	"github.com/Strob0t/flowboard/internal/domain/flow"
	"github.com/Strob0t/flowboard/internal/port/database"
	"github.com/Strob0t/flowboard/internal/resilience"
)

// SnapshotRecorder records the snapshot of one board and day.
type SnapshotRecorder interface {
	Record(ctx context.Context, boardID string, date flow.Date, trigger string) (*RecordResult, error)
}

// SchedulerService finalizes the previous day's snapshot of every board
// once the board's local midnight has passed.
type SchedulerService struct {
	store    database.Store
	recorder SnapshotRecorder
	cfg      config.Scheduler
	now      func() time.Time

	mu       sync.Mutex
	lastDone map[string]flow.Date

	stopOnce sync.Once
	stop     chan struct{}
}

// NewSchedulerService creates a scheduler.
func NewSchedulerService(store database.Store, recorder SnapshotRecorder, cfg config.Scheduler) *SchedulerService {
	return &SchedulerService{
		store:    store,
		recorder: recorder,
		cfg:      cfg,
		now:      time.Now,
		lastDone: make(map[string]flow.Date),
		stop:     make(chan struct{}),
	}
}

// Start runs the scheduler in the background until ctx is done or Stop is called.
func (s *SchedulerService) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.RunOnce(ctx)
		for {
			select {
			case <-ticker.C:
				s.RunOnce(ctx)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	slog.Info("daily snapshot scheduler started", "interval", s.cfg.Interval, "max_parallel", s.cfg.MaxParallel)
}

// Stop stops the background loop.
func (s *SchedulerService) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// RunOnce records yesterday's snapshot for every board that has not been
// finalized for it yet. Boards created after yesterday are skipped. Returns the number of boards recorded.
func (s *SchedulerService) RunOnce(ctx context.Context) int {
	boards, err := s.store.ListBoards(ctx)
	if err != nil {
		slog.Error("scheduler: list boards", "error", err)
		return 0
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.MaxParallel, 1))

	var mu sync.Mutex
	recorded := 0
	for i := range boards {
		b := boards[i]
		loc, err := b.Location()
		if err != nil {
			slog.Warn("scheduler: skipping board", "board_id", b.ID, "error", err)
			continue
		}
		yesterday := flow.DateOf(s.now(), loc).AddDays(-1)
		if !b.CreatedAt.IsZero() && yesterday.Before(flow.DateOf(b.CreatedAt, loc)) {
			continue
		}
		if !s.due(b.ID, yesterday) {
			continue
		}

		g.Go(func() error {
			err := resilience.RetryStorage(gctx, "scheduler", s.cfg.RetryMaxTime, func(ctx context.Context) error {
				_, err := s.recorder.Record(ctx, b.ID, yesterday, TriggerScheduler)
				return err
			})
			if err != nil {
				// One board failing must not stop the others; it is retried next tick.
				slog.Error("scheduler: record snapshot", "board_id", b.ID, "date", yesterday, "error", err)
				return nil
			}
			s.markDone(b.ID, yesterday)
			mu.Lock()
			recorded++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return recorded
}

func (s *SchedulerService) due(boardID string, d flow.Date) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastDone[boardID]
	return !ok || last.Before(d)
}

func (s *SchedulerService) markDone(boardID string, d flow.Date) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastDone[boardID]; !ok || last.Before(d) {
		s.lastDone[boardID] = d
	}
}
