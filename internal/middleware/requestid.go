// Package middleware provides HTTP middleware for the flowboard API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Strob0t/flowboard/internal/logger"
)

const (
	headerRequestID = "X-Request-ID"
	maxRequestIDLen = 128
)

// RequestID takes X-Request-ID from the request or generates one, stores it
// in the context for logging and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerRequestID))
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BoardContext tags the request context with the {id} route parameter so
// every log line of a board-scoped request carries board_id. Mount it
// inside the /boards/{id} route.
func BoardContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := chi.URLParam(r, "id"); id != "" {
			r = r.WithContext(logger.WithBoardID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
