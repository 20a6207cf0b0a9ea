package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/flowboard/internal/middleware"
)

// RouteOptions holds optional middleware applied to specific route groups.
// Nil fields are skipped.
type RouteOptions struct {
	// Idempotency wraps every mutating API route.
	Idempotency func(http.Handler) http.Handler
	// IngestLimit wraps event ingest and snapshot triggers.
	IngestLimit func(http.Handler) http.Handler
}

func passthrough(next http.Handler) http.Handler { return next }

func orPassthrough(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return passthrough
	}
	return mw
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, opts RouteOptions) {
	idem := orPassthrough(opts.Idempotency)
	limit := orPassthrough(opts.IngestLimit)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		r.Get("/boards", h.ListBoards)

		r.Route("/boards/{id}", func(r chi.Router) {
			r.Use(middleware.BoardContext)

			r.Get("/", h.GetBoard)

			// Columns
			r.Get("/columns", h.ListColumns)
			r.With(idem).Patch("/columns/{column_id}", h.UpdateColumn)

			// Cards
			r.With(limit, idem).Post("/events", h.IngestEvents)
			r.Get("/cards/{card_id}", h.GetCard)

			// Metrics
			r.Get("/metrics/throughput", h.Throughput)
			r.Get("/metrics/cfd", h.CFD)
			r.Get("/metrics/rolling", h.RollingAverage)
			r.Get("/metrics/wip-violations", h.WIPViolations)
			r.With(limit, idem).Post("/metrics/record-daily", h.RecordDaily)
			r.With(limit, idem).Post("/metrics/recompute", h.Recompute)

			r.Get("/dashboard", h.Dashboard)
		})
	})
}
