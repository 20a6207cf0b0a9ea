package service

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Strob0t/flowboard/internal/domain"
	"github.com/Strob0t/flowboard/internal/domain/board"
	"github.com/Strob0t/flowboard/internal/domain/card"
	"github.com/Strob0t/flowboard/internal/domain/flow"
	"github.com/Strob0t/flowboard/internal/port/database"
)

var _ database.Store = (*mockStore)(nil)

// mockStore is an in-memory database.Store with the same semantics as the
// SQL adapters: idempotent event inserts, WIP limits kept across column
// upserts and snapshot upserts skipped on equal fingerprints.
type mockStore struct {
	mu        sync.Mutex
	boards    map[string]board.Board
	columns   map[string][]board.Column
	events    []card.Event
	states    map[string]card.State
	snapshots map[string]flow.DailySnapshot
	seq       int64

	eventsDelay  time.Duration // slows ListBoardEvents; honors ctx
	upserts      atomic.Int64  // UpsertSnapshot calls that changed a row
	listCalls    atomic.Int64  // ListSnapshots calls
	eventLoads   atomic.Int64  // ListBoardEvents calls
	failSnapshot error         // returned by UpsertSnapshot when set
}

func newMockStore() *mockStore {
	return &mockStore{
		boards:    make(map[string]board.Board),
		columns:   make(map[string][]board.Column),
		states:    make(map[string]card.State),
		snapshots: make(map[string]flow.DailySnapshot),
	}
}

func cardKey(boardID, cardID string) string { return boardID + "/" + cardID }
func snapKey(boardID string, d flow.Date) string {
	return boardID + "/" + string(d)
}

// seedBoard adds a board created on 2024-01-01 with todo, doing (limit 3)
// and a terminal done column.
func (m *mockStore) seedBoard(id, tz string) {
	limit := 3
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = m.UpsertBoard(context.Background(), &board.Board{ID: id, Name: strings.ToUpper(id), Timezone: tz, CreatedAt: created})
	for i, c := range []board.Column{
		{ID: "todo", Name: "To Do"},
		{ID: "doing", Name: "Doing", WIPLimit: &limit},
		{ID: "done", Name: "Done", IsTerminal: true},
	} {
		c.BoardID = id
		c.Position = i
		_ = m.UpsertColumn(context.Background(), &c)
	}
}

func (m *mockStore) ListBoards(_ context.Context) ([]board.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]board.Board, 0, len(m.boards))
	for _, b := range m.boards {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) GetBoard(_ context.Context, id string) (*board.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &b, nil
}

func (m *mockStore) UpsertBoard(_ context.Context, b *board.Board) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.boards[b.ID]; ok {
		b.CreatedAt = old.CreatedAt
	} else if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	m.boards[b.ID] = *b
	return nil
}

func (m *mockStore) ListColumns(_ context.Context, boardID string) ([]board.Column, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Clone(m.columns[boardID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	if out == nil {
		out = []board.Column{}
	}
	return out, nil
}

func (m *mockStore) UpsertColumn(_ context.Context, c *board.Column) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cols := m.columns[c.BoardID]
	for i := range cols {
		if cols[i].ID == c.ID {
			limit := cols[i].WIPLimit
			cols[i] = *c
			cols[i].WIPLimit = limit
			return nil
		}
	}
	m.columns[c.BoardID] = append(cols, *c)
	return nil
}

func (m *mockStore) UpdateColumnWIPLimit(_ context.Context, boardID, columnID string, limit *int) (*board.Column, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cols := m.columns[boardID]
	for i := range cols {
		if cols[i].ID == columnID {
			cols[i].WIPLimit = limit
			c := cols[i]
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) RecordEvent(_ context.Context, ev *card.Event, st *card.State) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID == ev.ID {
			return false, nil
		}
	}
	m.seq++
	ev.Seq = m.seq
	m.events = append(m.events, *ev)
	if st != nil {
		m.states[cardKey(st.BoardID, st.CardID)] = *st
	}
	return true, nil
}

func (m *mockStore) ListCardEvents(_ context.Context, boardID, cardID string) ([]card.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []card.Event
	for _, ev := range m.events {
		if ev.BoardID == boardID && ev.CardID == cardID {
			out = append(out, ev)
		}
	}
	card.SortEvents(out)
	return out, nil
}

func (m *mockStore) ListBoardEvents(ctx context.Context, boardID string, before time.Time) ([]card.Event, error) {
	m.eventLoads.Add(1)
	if m.eventsDelay > 0 {
		select {
		case <-time.After(m.eventsDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []card.Event
	for _, ev := range m.events {
		if ev.BoardID != boardID {
			continue
		}
		if !before.IsZero() && !ev.OccurredAt.Before(before) {
			continue
		}
		out = append(out, ev)
	}
	card.SortEvents(out)
	return out, nil
}

func (m *mockStore) GetCardState(_ context.Context, boardID, cardID string) (*card.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[cardKey(boardID, cardID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &st, nil
}

func (m *mockStore) ListOpenCardStates(_ context.Context, boardID string) ([]card.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []card.State{}
	for _, st := range m.states {
		if st.BoardID == boardID && st.IsOpen() {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CardID < out[j].CardID })
	return out, nil
}

func (m *mockStore) GetSnapshot(_ context.Context, boardID string, date flow.Date) (*flow.DailySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[snapKey(boardID, date)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &s, nil
}

func (m *mockStore) UpsertSnapshot(_ context.Context, snap *flow.DailySnapshot) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSnapshot != nil {
		return false, m.failSnapshot
	}
	key := snapKey(snap.BoardID, snap.Date)
	if old, ok := m.snapshots[key]; ok && old.Fingerprint == snap.Fingerprint {
		return false, nil
	}
	m.snapshots[key] = *snap
	m.upserts.Add(1)
	return true, nil
}

func (m *mockStore) ListSnapshots(_ context.Context, boardID string, limit int) ([]flow.DailySnapshot, error) {
	m.listCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []flow.DailySnapshot{}
	for _, s := range m.snapshots {
		if s.BoardID == boardID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return flow.LastN(out, limit), nil
}

func (m *mockStore) ListSnapshotDates(_ context.Context, boardID string, from flow.Date) ([]flow.Date, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []flow.Date
	for _, s := range m.snapshots {
		if s.BoardID == boardID && !s.Date.Before(from) {
			out = append(out, s.Date)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (m *mockStore) Ping(_ context.Context) error { return nil }

func (m *mockStore) snapshotCount(boardID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.snapshots {
		if s.BoardID == boardID {
			n++
		}
	}
	return n
}
