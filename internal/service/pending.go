package service

import (
	"sync"
	"time"

	"github.com/Strob0t/flowboard/internal/domain/card"
)

type pendingKey struct {
	boardID string
	cardID  string
}

type pendingEvent struct {
	ev       card.Event
	expireAt time.Time
}

// PendingBuffer holds events that reference a card whose created event has
// not arrived yet. Entries expire after ttl; the buffer holds at most max
// events in total.
type PendingBuffer struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	size    int
	entries map[pendingKey][]pendingEvent
	now     func() time.Time
}

// NewPendingBuffer creates a buffer. max <= 0 disables buffering.
func NewPendingBuffer(ttl time.Duration, maxEvents int) *PendingBuffer {
	return &PendingBuffer{
		ttl:     ttl,
		max:     maxEvents,
		entries: make(map[pendingKey][]pendingEvent),
		now:     time.Now,
	}
}

// Add buffers ev. Returns false when the buffer is full or already holds
// an event with the same id.
func (b *PendingBuffer) Add(ev *card.Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size >= b.max {
		return false
	}
	key := pendingKey{ev.BoardID, ev.CardID}
	for _, p := range b.entries[key] {
		if p.ev.ID == ev.ID {
			return false
		}
	}
	b.entries[key] = append(b.entries[key], pendingEvent{ev: *ev, expireAt: b.now().Add(b.ttl)})
	b.size++
	return true
}

// Take removes and returns the unexpired events buffered for a card.
func (b *PendingBuffer) Take(boardID, cardID string) []card.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := pendingKey{boardID, cardID}
	entries, ok := b.entries[key]
	if !ok {
		return nil
	}
	delete(b.entries, key)
	b.size -= len(entries)

	now := b.now()
	out := make([]card.Event, 0, len(entries))
	for _, p := range entries {
		if now.Before(p.expireAt) {
			out = append(out, p.ev)
		}
	}
	return out
}

// Sweep drops expired entries and returns them.
func (b *PendingBuffer) Sweep() []card.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	var expired []card.Event
	for key, entries := range b.entries {
		kept := entries[:0]
		for _, p := range entries {
			if now.Before(p.expireAt) {
				kept = append(kept, p)
			} else {
				expired = append(expired, p.ev)
			}
		}
		if len(kept) == 0 {
			delete(b.entries, key)
		} else {
			b.entries[key] = kept
		}
	}
	b.size -= len(expired)
	return expired
}

// Len returns the number of buffered events.
func (b *PendingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}
