package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func hit(h http.Handler, path, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, http.NoBody)
	req.RemoteAddr = addr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterBurstThenReject(t *testing.T) {
	rl := NewRateLimiter(10, 5, nil)
	handler := rl.Handler(okHandler())

	for i := range 5 {
		if rec := hit(handler, "/", "192.168.1.1:1234"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	rec := hit(handler, "/", "192.168.1.1:1234")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("expected Retry-After 1, got %q", rec.Header().Get("Retry-After"))
	}
}

func TestRateLimiterRefills(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, 1, nil)
	rl.now = func() time.Time { return now }
	handler := rl.Handler(okHandler())

	hit(handler, "/", "10.0.0.1:1")
	if rec := hit(handler, "/", "10.0.0.1:1"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	now = now.Add(500 * time.Millisecond)
	if rec := hit(handler, "/", "10.0.0.1:1"); rec.Code != http.StatusOK {
		t.Fatalf("expected refill after 500ms, got %d", rec.Code)
	}
}

func TestRateLimiterPerIP(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	handler := rl.Handler(okHandler())

	hit(handler, "/", "10.0.0.1:1")
	if rec := hit(handler, "/", "10.0.0.2:1"); rec.Code != http.StatusOK {
		t.Fatalf("expected a separate bucket per IP, got %d", rec.Code)
	}
	if rl.Len() != 2 {
		t.Fatalf("expected 2 buckets, got %d", rl.Len())
	}
}

func TestRateLimiterByBoard(t *testing.T) {
	rl := NewRateLimiter(1, 1, ByBoardAndIP)
	r := chi.NewRouter()
	r.With(rl.Handler).Post("/boards/{id}/events", okHandler().ServeHTTP)

	if rec := hit(r, "/boards/a/events", "10.0.0.1:1"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := hit(r, "/boards/b/events", "10.0.0.1:1"); rec.Code != http.StatusOK {
		t.Fatalf("expected a separate bucket per board, got %d", rec.Code)
	}
	if rec := hit(r, "/boards/a/events", "10.0.0.1:1"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 1, nil)
	rl.now = func() time.Time { return now }

	rl.allow("a")
	now = now.Add(time.Hour)
	rl.allow("b")
	rl.cleanup(10 * time.Minute)

	if rl.Len() != 1 {
		t.Fatalf("expected the idle bucket to be removed, got %d buckets", rl.Len())
	}
}
