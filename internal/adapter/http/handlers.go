package http

import (
	"context"
	"net/http"
	"time"

	"github.com/Strob0t/flowboard/internal/domain/card"
	"github.com/Strob0t/flowboard/internal/domain/flow"
	"github.com/Strob0t/flowboard/internal/service"
)

const defaultDays = 30

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Handlers holds the services the HTTP API dispatches to.
type Handlers struct {
	Catalog    *service.CatalogService
	Tracker    *service.TrackerService
	Aggregator *service.AggregatorService
	Query      *service.QueryService
	Health     map[string]HealthChecker
}

// --- Catalog ---

// ListBoards handles GET /api/v1/boards.
func (h *Handlers) ListBoards(w http.ResponseWriter, r *http.Request) {
	handleList(h.Catalog.ListBoards)(w, r)
}

// GetBoard handles GET /api/v1/boards/{id}.
func (h *Handlers) GetBoard(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Catalog.GetBoard, "board not found")(w, r)
}

// ListColumns handles GET /api/v1/boards/{id}/columns.
func (h *Handlers) ListColumns(w http.ResponseWriter, r *http.Request) {
	handleListByParam("id", h.Catalog.ListColumns, "board not found")(w, r)
}

type updateColumnRequest struct {
	WIPLimit *int `json:"wip_limit"`
}

// UpdateColumn handles PATCH /api/v1/boards/{id}/columns/{column_id}.
// Only the WIP limit is mutable; null removes it.
func (h *Handlers) UpdateColumn(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[updateColumnRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	col, err := h.Catalog.UpdateWIPLimit(r.Context(), urlParam(r, "id"), urlParam(r, "column_id"), req.WIPLimit)
	if err != nil {
		writeDomainError(w, err, "column not found")
		return
	}
	writeJSON(w, http.StatusOK, col)
}

// --- Events ---

// IngestEvents handles POST /api/v1/boards/{id}/events. The body is a JSON
// array of card events; a missing board_id defaults to the path board.
func (h *Handlers) IngestEvents(w http.ResponseWriter, r *http.Request) {
	events, ok := readJSON[[]card.Event](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	boardID := urlParam(r, "id")
	for i := range events {
		if events[i].BoardID == "" {
			events[i].BoardID = boardID
		}
	}
	// Ingest outlives a disconnecting client so a retried batch finds it applied.
	summary, err := h.Tracker.Ingest(context.WithoutCancel(r.Context()), boardID, events)
	if err != nil {
		writeDomainError(w, err, "board not found")
		return
	}
	status := http.StatusAccepted
	if len(events) > 0 && summary.Rejected == len(events) {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, summary)
}

// GetCard handles GET /api/v1/boards/{id}/cards/{card_id}.
func (h *Handlers) GetCard(w http.ResponseWriter, r *http.Request) {
	st, err := h.Tracker.GetCard(r.Context(), urlParam(r, "id"), urlParam(r, "card_id"))
	if err != nil {
		writeDomainError(w, err, "card not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// --- Metrics ---

// Throughput handles GET /api/v1/boards/{id}/metrics/throughput?days=N.
// The response carries an ETag derived from the snapshot fingerprints.
func (h *Handlers) Throughput(w http.ResponseWriter, r *http.Request) {
	days, ok := queryInt(w, r, "days", defaultDays)
	if !ok {
		return
	}
	series, err := h.Query.Throughput(r.Context(), urlParam(r, "id"), days)
	if err != nil {
		writeDomainError(w, err, "board not found")
		return
	}
	w.Header().Set("ETag", series.ETag)
	w.Header().Set("Cache-Control", "no-cache")
	if match := r.Header.Get("If-None-Match"); match != "" && match == series.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, series.Points)
}

// CFD handles GET /api/v1/boards/{id}/metrics/cfd?days=N.
func (h *Handlers) CFD(w http.ResponseWriter, r *http.Request) {
	handleWindowed("days", defaultDays, h.Query.CFD)(w, r)
}

// RollingAverage handles GET /api/v1/boards/{id}/metrics/rolling?metric=M&window=N.
func (h *Handlers) RollingAverage(w http.ResponseWriter, r *http.Request) {
	metric := flow.Metric(r.URL.Query().Get("metric"))
	handleWindowed("window", defaultDays, func(ctx context.Context, boardID string, n int) (*flow.RollingAverage, error) {
		return h.Query.RollingAverage(ctx, boardID, metric, n)
	})(w, r)
}

// WIPViolations handles GET /api/v1/boards/{id}/metrics/wip-violations.
func (h *Handlers) WIPViolations(w http.ResponseWriter, r *http.Request) {
	handleListByParam("id", h.Query.Violations, "board not found")(w, r)
}

// Dashboard handles GET /api/v1/boards/{id}/dashboard.
func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Query.Dashboard, "board not found")(w, r)
}

// RecordDaily handles POST /api/v1/boards/{id}/metrics/record-daily and
// records today's snapshot in the board timezone.
func (h *Handlers) RecordDaily(w http.ResponseWriter, r *http.Request) {
	res, err := h.Aggregator.RecordToday(r.Context(), urlParam(r, "id"), service.TriggerRecordDaily)
	if err != nil {
		writeDomainError(w, err, "board not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Recompute handles POST /api/v1/boards/{id}/metrics/recompute?date=YYYY-MM-DD.
// A past date also refreshes every later stored snapshot.
func (h *Handlers) Recompute(w http.ResponseWriter, r *http.Request) {
	date, err := flow.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	res, _, err := h.Aggregator.Recompute(r.Context(), urlParam(r, "id"), date)
	if err != nil {
		writeDomainError(w, err, "board not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Health ---

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HealthCheck handles GET /health.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(h.Health))}
	for name, c := range h.Health {
		if err := c.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
