package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hyperengineering/pillars/internal/scoring"
	"github.com/hyperengineering/pillars/internal/types"
	"github.com/hyperengineering/pillars/internal/validation"
)

// ListPillars handles GET /api/v1/pillars. Each pillar carries its score,
// status and evaluated metrics.
func (h *Handler) ListPillars(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pillars, err := h.store.ListPillars(ctx)
	if err != nil {
		slog.Error("list pillars failed", "component", "api", "action", "list_pillars", "error", err)
		MapStoreError(w, r, err)
		return
	}

	metrics, err := h.store.ListMetrics(ctx, "")
	if err != nil {
		slog.Error("list metrics failed", "component", "api", "action", "list_pillars", "error", err)
		MapStoreError(w, r, err)
		return
	}
	byPillar := make(map[string][]types.Metric, len(pillars))
	for _, m := range metrics {
		byPillar[m.PillarID] = append(byPillar[m.PillarID], m)
	}

	now := h.now()
	out := make([]scoring.PillarEvaluation, 0, len(pillars))
	for _, p := range pillars {
		out = append(out, scoring.EvaluatePillar(p, byPillar[p.ID], now))
	}
	writeJSON(w, http.StatusOK, out)
}

// CreatePillar handles POST /api/v1/pillars
func (h *Handler) CreatePillar(w http.ResponseWriter, r *http.Request) {
	var req types.NewPillar
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := validation.ValidateNewPillar(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}
	if req.Thresholds == nil {
		th := h.defaults
		req.Thresholds = &th
	}

	p, err := h.store.CreatePillar(r.Context(), req)
	if err != nil {
		slog.Error("create pillar failed", "component", "api", "action", "create_pillar", "error", err)
		MapStoreError(w, r, err)
		return
	}

	slog.Info("pillar created", "component", "api", "action", "create_pillar", "pillar_id", p.ID)
	writeJSON(w, http.StatusCreated, scoring.EvaluatePillar(*p, nil, h.now()))
}

// GetPillar handles GET /api/v1/pillars/{id}
func (h *Handler) GetPillar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := h.store.GetPillar(ctx, chi.URLParam(r, "id"))
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	metrics, err := h.store.ListMetrics(ctx, p.ID)
	if err != nil {
		slog.Error("list metrics failed", "component", "api", "action", "get_pillar", "pillar_id", p.ID, "error", err)
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scoring.EvaluatePillar(*p, metrics, h.now()))
}

// ListMetrics handles GET /api/v1/metrics, optionally filtered by ?pillar_id=.
func (h *Handler) ListMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.store.ListMetrics(r.Context(), r.URL.Query().Get("pillar_id"))
	if err != nil {
		slog.Error("list metrics failed", "component", "api", "action", "list_metrics", "error", err)
		MapStoreError(w, r, err)
		return
	}

	now := h.now()
	out := make([]scoring.MetricEvaluation, 0, len(metrics))
	for _, m := range metrics {
		out = append(out, scoring.MetricEvaluation{Metric: m, Evaluation: scoring.Evaluate(m, now)})
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateMetric handles POST /api/v1/metrics
func (h *Handler) CreateMetric(w http.ResponseWriter, r *http.Request) {
	var req types.NewMetric
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := validation.ValidateNewMetric(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}
	if req.Thresholds == nil {
		th := h.defaults
		req.Thresholds = &th
	}

	m, err := h.store.CreateMetric(r.Context(), req)
	if err != nil {
		slog.Error("create metric failed", "component", "api", "action", "create_metric", "error", err)
		MapStoreError(w, r, err)
		return
	}

	slog.Info("metric created",
		"component", "api",
		"action", "create_metric",
		"metric_id", m.ID,
		"pillar_id", m.PillarID,
	)
	writeJSON(w, http.StatusCreated, scoring.MetricEvaluation{Metric: *m, Evaluation: scoring.Evaluate(*m, h.now())})
}

// GetMetric handles GET /api/v1/metrics/{id}
func (h *Handler) GetMetric(w http.ResponseWriter, r *http.Request) {
	m, err := h.store.GetMetric(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scoring.MetricEvaluation{Metric: *m, Evaluation: scoring.Evaluate(*m, h.now())})
}

// MetricValueRequest is the body of a manual value entry.
type MetricValueRequest struct {
	Value *float64 `json:"value"`
}

// UpdateMetricValue handles PUT /api/v1/metrics/{id}/value
func (h *Handler) UpdateMetricValue(w http.ResponseWriter, r *http.Request) {
	var req MetricValueRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var c validation.Collector
	if req.Value == nil {
		c.Add(&validation.ValidationError{Field: "value", Message: "is required"})
	} else {
		c.Add(validation.ValidateFinite("value", *req.Value))
	}
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", c.Errors())
		return
	}

	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if err := h.store.UpdateMetricValue(ctx, id, *req.Value); err != nil {
		MapStoreError(w, r, err)
		return
	}
	m, err := h.store.GetMetric(ctx, id)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}

	slog.Info("metric value updated",
		"component", "api",
		"action", "update_metric_value",
		"metric_id", id,
		"value", *req.Value,
	)
	writeJSON(w, http.StatusOK, scoring.MetricEvaluation{Metric: *m, Evaluation: scoring.Evaluate(*m, h.now())})
}
