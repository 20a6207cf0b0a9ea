package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cfotel "github.com/Strob0t/flowboard/internal/adapter/otel"
	"github.com/Strob0t/flowboard/internal/config"
	"github.com/Strob0t/flowboard/internal/domain"
	"github.com/Strob0t/flowboard/internal/domain/board"
	"github.com/Strob0t/flowboard/internal/domain/card"
	"github.com/Strob0t/flowboard/internal/domain/flow"
	"github.com/Strob0t/flowboard/internal/port/database"
)

// Ingest statuses of a single event.
const (
	StatusApplied   = "applied"
	StatusIgnored   = "ignored"
	StatusDuplicate = "duplicate"
	StatusBuffered  = "buffered"
	StatusRejected  = "rejected"
)

// ErrTrackerClosed is returned by Ingest after Close.
var ErrTrackerClosed = errors.New("tracker closed")

// IngestResult reports what happened to one event.
type IngestResult struct {
	EventID string       `json:"event_id"`
	CardID  string       `json:"card_id"`
	Status  string       `json:"status"`
	Outcome card.Outcome `json:"outcome,omitempty"`
	Late    bool         `json:"late,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// IngestSummary aggregates the results of one batch.
type IngestSummary struct {
	Applied   int            `json:"applied"`
	Ignored   int            `json:"ignored"`
	Duplicate int            `json:"duplicate"`
	Buffered  int            `json:"buffered"`
	Rejected  int            `json:"rejected"`
	Results   []IngestResult `json:"results"`
}

func (s *IngestSummary) add(r IngestResult) {
	switch r.Status {
	case StatusApplied:
		s.Applied++
	case StatusIgnored:
		s.Ignored++
	case StatusDuplicate:
		s.Duplicate++
	case StatusBuffered:
		s.Buffered++
	case StatusRejected:
		s.Rejected++
	}
	s.Results = append(s.Results, r)
}

// Backfiller re-aggregates stored snapshots after history changed.
type Backfiller interface {
	Backfill(ctx context.Context, boardID string, from flow.Date) (int, error)
}

type ingestJob struct {
	ctx    context.Context
	events []card.Event
	reply  chan ingestReply
}

type ingestReply struct {
	summary *IngestSummary
	err     error
}

type boardWorker struct {
	jobs    chan ingestJob
	pending int // submitted jobs not yet finished; guarded by TrackerService.mu
}

// TrackerService applies card events to live card state. Each board has a
// single writer goroutine, so events of one board are applied in order
// while boards proceed in parallel. Idle workers exit.
type TrackerService struct {
	store      database.Store
	pending    *PendingBuffer
	backfiller Backfiller
	notifier   *FlowNotifier
	metrics    *cfotel.Metrics
	cfg        config.Tracker
	now        func() time.Time

	mu      sync.Mutex
	workers map[string]*boardWorker
	closed  bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewTrackerService creates a tracker. backfiller, notifier and metrics may be nil.
func NewTrackerService(store database.Store, pending *PendingBuffer, backfiller Backfiller, notifier *FlowNotifier, metrics *cfotel.Metrics, cfg config.Tracker) *TrackerService {
	return &TrackerService{
		store:      store,
		pending:    pending,
		backfiller: backfiller,
		notifier:   notifier,
		metrics:    metrics,
		cfg:        cfg,
		now:        time.Now,
		workers:    make(map[string]*boardWorker),
		stop:       make(chan struct{}),
	}
}

// GetCard returns the live state of one card.
func (t *TrackerService) GetCard(ctx context.Context, boardID, cardID string) (*card.State, error) {
	if _, err := t.store.GetBoard(ctx, boardID); err != nil {
		return nil, fmt.Errorf("get board %s: %w", boardID, err)
	}
	st, err := t.store.GetCardState(ctx, boardID, cardID)
	if err != nil {
		return nil, fmt.Errorf("get card %s: %w", cardID, err)
	}
	return st, nil
}

// Ingest applies a batch of events to one board and waits for the result.
// Per-event problems are reported in the summary; the error is non-nil only
// when the batch as a whole failed (unknown board, storage failure).
func (t *TrackerService) Ingest(ctx context.Context, boardID string, events []card.Event) (*IngestSummary, error) {
	if len(events) == 0 {
		return &IngestSummary{Results: []IngestResult{}}, nil
	}
	if t.cfg.MaxBatch > 0 && len(events) > t.cfg.MaxBatch {
		return nil, domain.Validationf("batch of %d events exceeds the limit of %d", len(events), t.cfg.MaxBatch)
	}
	if _, err := t.store.GetBoard(ctx, boardID); err != nil {
		return nil, fmt.Errorf("get board %s: %w", boardID, err)
	}

	job := ingestJob{ctx: ctx, events: events, reply: make(chan ingestReply, 1)}
	if err := t.submit(ctx, boardID, job); err != nil {
		return nil, err
	}
	select {
	case r := <-job.reply:
		return r.summary, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.stop:
		return nil, ErrTrackerClosed
	}
}

func (t *TrackerService) submit(ctx context.Context, boardID string, job ingestJob) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTrackerClosed
	}
	w, ok := t.workers[boardID]
	if !ok {
		size := t.cfg.QueueSize
		if size < 1 {
			size = 1
		}
		w = &boardWorker{jobs: make(chan ingestJob, size)}
		t.workers[boardID] = w
		t.wg.Add(1)
		go t.run(boardID, w)
	}
	w.pending++
	t.mu.Unlock()

	select {
	case w.jobs <- job:
		return nil
	case <-ctx.Done():
		t.finish(w)
		return ctx.Err()
	case <-t.stop:
		t.finish(w)
		return ErrTrackerClosed
	}
}

func (t *TrackerService) finish(w *boardWorker) {
	t.mu.Lock()
	w.pending--
	t.mu.Unlock()
}

func (t *TrackerService) run(boardID string, w *boardWorker) {
	defer t.wg.Done()
	idle := t.cfg.IdleTimeout
	if idle <= 0 {
		idle = time.Minute
	}
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		select {
		case job := <-w.jobs:
			t.process(boardID, job)
			t.finish(w)
			timer.Reset(idle)
		case <-timer.C:
			t.mu.Lock()
			if w.pending == 0 {
				delete(t.workers, boardID)
				t.mu.Unlock()
				return
			}
			t.mu.Unlock()
			timer.Reset(idle)
		case <-t.stop:
			return
		}
	}
}

// Close stops accepting events and waits for workers to exit.
func (t *TrackerService) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.stop)
	t.mu.Unlock()
	t.wg.Wait()
}

// ActiveWorkers returns the number of live board workers.
func (t *TrackerService) ActiveWorkers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.workers)
}

// batchState is the per-batch context of a board worker.
type batchState struct {
	boardID  string
	loc      *time.Location
	terminal map[string]bool
	summary  *IngestSummary
	touched  map[string]*card.State
	// backfillFrom is the earliest day whose snapshots the batch invalidated.
	backfillFrom flow.Date
}

func (b *batchState) invalidate(d flow.Date) {
	if b.backfillFrom == "" || d.Before(b.backfillFrom) {
		b.backfillFrom = d
	}
}

func (t *TrackerService) process(boardID string, job ingestJob) {
	if err := job.ctx.Err(); err != nil {
		job.reply <- ingestReply{err: err}
		return
	}
	// A started batch runs to completion even if the caller stops waiting.
	ctx, span := cfotel.StartIngestSpan(context.WithoutCancel(job.ctx), boardID, len(job.events))
	defer span.End()

	summary, bs, err := t.apply(ctx, boardID, job.events)
	job.reply <- ingestReply{summary: summary, err: err}

	if bs == nil {
		return
	}
	for _, st := range bs.touched {
		t.notifier.CardUpdated(ctx, st)
	}
	if bs.backfillFrom != "" && t.backfiller != nil {
		if _, err := t.backfiller.Backfill(ctx, boardID, bs.backfillFrom); err != nil {
			slog.Error("backfill after ingest failed", "board_id", boardID, "from", bs.backfillFrom, "error", err)
		}
	}
}

func (t *TrackerService) apply(ctx context.Context, boardID string, events []card.Event) (*IngestSummary, *batchState, error) {
	b, err := t.store.GetBoard(ctx, boardID)
	if err != nil {
		return nil, nil, fmt.Errorf("get board %s: %w", boardID, err)
	}
	loc, err := b.Location()
	if err != nil {
		return nil, nil, err
	}
	cols, err := t.store.ListColumns(ctx, boardID)
	if err != nil {
		return nil, nil, fmt.Errorf("list columns %s: %w", boardID, err)
	}

	bs := &batchState{
		boardID:  boardID,
		loc:      loc,
		terminal: board.TerminalSet(cols),
		summary:  &IngestSummary{Results: make([]IngestResult, 0, len(events))},
		touched:  make(map[string]*card.State),
	}
	today := flow.DateOf(t.now(), loc)

	queue := make([]card.Event, len(events))
	copy(queue, events)
	for len(queue) > 0 {
		ev := queue[0]
		queue = queue[1:]

		follow, res, err := t.applyOne(ctx, bs, &ev)
		if err != nil {
			return bs.summary, bs, err
		}
		bs.summary.add(res)
		t.metrics.RecordIngest(ctx, boardID, metricOutcome(res))

		if res.Status == StatusApplied {
			if d := flow.DateOf(ev.OccurredAt, loc); res.Late || d.Before(today) {
				bs.invalidate(d)
			}
		}
		queue = append(follow, queue...)
	}

	slog.Info("events ingested",
		"board_id", boardID,
		"applied", bs.summary.Applied,
		"ignored", bs.summary.Ignored,
		"duplicate", bs.summary.Duplicate,
		"buffered", bs.summary.Buffered,
		"rejected", bs.summary.Rejected,
	)
	return bs.summary, bs, nil
}

func metricOutcome(r IngestResult) string {
	switch r.Status {
	case StatusApplied:
		return "applied"
	case StatusRejected:
		return "rejected"
	case StatusBuffered:
		return "pending"
	case StatusDuplicate:
		return "duplicate"
	}
	return string(r.Outcome)
}

// applyOne stores one event and folds it into the card state. It returns
// events that must be applied right after it: a synthesized completion or
// events that were waiting for this card's creation.
func (t *TrackerService) applyOne(ctx context.Context, bs *batchState, ev *card.Event) ([]card.Event, IngestResult, error) {
	ev.Normalize(t.now())
	res := IngestResult{EventID: ev.ID, CardID: ev.CardID}
	if ev.BoardID == "" {
		ev.BoardID = bs.boardID
	}

	if err := ev.Validate(bs.boardID); err != nil {
		res.Status = StatusRejected
		res.Error = err.Error()
		slog.Warn("event rejected", "board_id", bs.boardID, "event_id", ev.ID, "error", err)
		return nil, res, nil
	}

	state, err := t.store.GetCardState(ctx, ev.BoardID, ev.CardID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, res, fmt.Errorf("load card %s: %w", ev.CardID, err)
	}
	if errors.Is(err, domain.ErrNotFound) {
		state = nil
	}

	if state != nil && ev.OccurredAt.Before(state.LastEventAt) {
		return t.applyLate(ctx, bs, ev, res)
	}

	next, outcome, err := card.Fold(state, ev)
	switch {
	case errors.Is(err, domain.ErrUnknownCard):
		if t.pending != nil && t.pending.Add(ev) {
			res.Status = StatusBuffered
			slog.Debug("event buffered for unknown card", "board_id", bs.boardID, "card_id", ev.CardID, "event_id", ev.ID)
			return nil, res, nil
		}
		res.Status = StatusRejected
		res.Error = err.Error()
		slog.Warn("event for unknown card dropped", "board_id", bs.boardID, "card_id", ev.CardID, "event_id", ev.ID)
		return nil, res, nil
	case err != nil:
		res.Status = StatusRejected
		res.Error = err.Error()
		return nil, res, nil
	}

	inserted, err := t.store.RecordEvent(ctx, ev, next)
	if err != nil {
		return nil, res, fmt.Errorf("record event %s: %w", ev.ID, err)
	}
	if !inserted {
		res.Status = StatusDuplicate
		return nil, res, nil
	}

	res.Outcome = outcome
	if outcome.Ignored() {
		res.Status = StatusIgnored
		slog.Info("event ignored", "board_id", bs.boardID, "card_id", ev.CardID, "event_id", ev.ID, "outcome", outcome)
		return nil, res, nil
	}
	res.Status = StatusApplied
	bs.touched[ev.CardID] = next
	return t.followUps(bs, ev, next), res, nil
}

// applyLate handles an event older than the card's latest event: the card
// is rebuilt from its whole history including the new event.
func (t *TrackerService) applyLate(ctx context.Context, bs *batchState, ev *card.Event, res IngestResult) ([]card.Event, IngestResult, error) {
	history, err := t.store.ListCardEvents(ctx, ev.BoardID, ev.CardID)
	if err != nil {
		return nil, res, fmt.Errorf("load history %s: %w", ev.CardID, err)
	}
	for i := range history {
		if history[i].ID == ev.ID {
			res.Status = StatusDuplicate
			return nil, res, nil
		}
	}
	replayed := card.Replay(append(history, *ev), time.Time{})

	inserted, err := t.store.RecordEvent(ctx, ev, replayed)
	if err != nil {
		return nil, res, fmt.Errorf("record event %s: %w", ev.ID, err)
	}
	if !inserted {
		res.Status = StatusDuplicate
		return nil, res, nil
	}

	res.Status = StatusApplied
	res.Outcome = card.OutcomeApplied
	res.Late = true
	slog.Info("late event replayed", "board_id", bs.boardID, "card_id", ev.CardID, "event_id", ev.ID, "occurred_at", ev.OccurredAt)
	if replayed != nil {
		bs.touched[ev.CardID] = replayed
	}
	return t.followUps(bs, ev, replayed), res, nil
}

func (t *TrackerService) followUps(bs *batchState, ev *card.Event, st *card.State) []card.Event {
	var follow []card.Event
	if ev.Type == card.EventMoved && t.cfg.CompleteOnTerminal && bs.terminal[ev.ToColumn] &&
		st != nil && st.IsOpen() && st.CurrentColumn == ev.ToColumn {
		follow = append(follow, card.SynthesizedCompletion(ev))
	}
	if ev.Type == card.EventCreated && t.pending != nil {
		released := t.pending.Take(ev.BoardID, ev.CardID)
		if len(released) > 0 {
			card.SortEvents(released)
			t.metrics.PendingReleased(context.Background(), ev.BoardID, len(released))
			slog.Info("buffered events released", "board_id", ev.BoardID, "card_id", ev.CardID, "count", len(released))
			follow = append(follow, released...)
		}
	}
	return follow
}

// SweepPending drops buffered events whose card never appeared.
func (t *TrackerService) SweepPending(ctx context.Context) int {
	if t.pending == nil {
		return 0
	}
	expired := t.pending.Sweep()
	for i := range expired {
		ev := &expired[i]
		slog.Warn("buffered event expired, card never created",
			"board_id", ev.BoardID, "card_id", ev.CardID, "event_id", ev.ID, "type", ev.Type)
		t.metrics.PendingReleased(ctx, ev.BoardID, 1)
	}
	return len(expired)
}

// RunPendingSweeper sweeps the pending buffer until ctx is done.
func (t *TrackerService) RunPendingSweeper(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.SweepPending(ctx)
		}
	}
}
