package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var errBroker = errors.New("nats: no responders")

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int) (*Breaker, *clock) {
	c := &clock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	b := NewBreaker("test", maxFailures, time.Minute)
	b.now = c.now
	return b, c
}

func fail() error    { return errBroker }
func succeed() error { return nil }

func TestBreaker_Transitions(t *testing.T) {
	b, c := newTestBreaker(2)

	steps := []struct {
		name    string
		advance time.Duration
		fn      func() error
		wantErr error
		want    State
	}{
		{"first failure stays closed", 0, fail, errBroker, StateClosed},
		{"threshold opens", 0, fail, errBroker, StateOpen},
		{"open rejects", 30 * time.Second, succeed, ErrCircuitOpen, StateOpen},
		{"probe failure reopens", 30 * time.Second, fail, errBroker, StateOpen},
		{"still open after reopen", 59 * time.Second, succeed, ErrCircuitOpen, StateOpen},
		{"probe success closes", time.Second, succeed, nil, StateClosed},
		{"failure count was reset", 0, fail, errBroker, StateClosed},
	}
	for _, s := range steps {
		c.advance(s.advance)
		err := b.Execute(s.fn)
		if !errors.Is(err, s.wantErr) {
			t.Fatalf("%s: err = %v, want %v", s.name, err, s.wantErr)
		}
		if got := b.State(); got != s.want {
			t.Fatalf("%s: state = %s, want %s", s.name, got, s.want)
		}
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(3)
	for range 5 {
		_ = b.Execute(fail)
		_ = b.Execute(fail)
		_ = b.Execute(succeed)
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("interleaved successes must keep breaker closed, got %s", got)
	}
}

func TestBreaker_CanceledDoesNotTrip(t *testing.T) {
	b, _ := newTestBreaker(1)
	err := b.Execute(func() error { return fmt.Errorf("publish: %w", context.Canceled) })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled error passed through, got %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("expected closed, got %s", got)
	}
}

func TestBreaker_SingleProbe(t *testing.T) {
	b, c := newTestBreaker(1)
	_ = b.Execute(fail)
	c.advance(time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := b.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second call during probe: got %v, want ErrCircuitOpen", err)
	}
	close(release)
	wg.Wait()

	if err := b.Execute(succeed); err != nil {
		t.Fatalf("after successful probe: %v", err)
	}
}

func TestBreaker_Ping(t *testing.T) {
	b, c := newTestBreaker(1)
	if err := b.Ping(context.Background()); err != nil {
		t.Fatalf("closed breaker ping: %v", err)
	}
	_ = b.Execute(fail)
	if err := b.Ping(context.Background()); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("open breaker ping: got %v", err)
	}
	c.advance(time.Minute)
	if err := b.Ping(context.Background()); err != nil {
		t.Fatalf("half-open breaker ping: %v", err)
	}
}
