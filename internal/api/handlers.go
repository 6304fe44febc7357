package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hyperengineering/pillars/internal/placeholder"
	"github.com/hyperengineering/pillars/internal/provider"
	"github.com/hyperengineering/pillars/internal/store"
	pillarsync "github.com/hyperengineering/pillars/internal/sync"
	"github.com/hyperengineering/pillars/internal/types"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// Syncer runs a sync for one integration type.
type Syncer interface {
	Sync(ctx context.Context, t types.IntegrationType) (*pillarsync.Result, error)
}

// Handler implements the API handlers
type Handler struct {
	store    store.Store
	syncer   Syncer
	clients  provider.Factory
	cache    *provider.MetadataCache
	apiKey   string
	version  string
	defaults types.Thresholds
	now      func() time.Time
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithClock sets the clock used for scoring and placeholder previews.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithDefaultThresholds sets the thresholds given to new pillars and metrics
// that do not specify their own.
func WithDefaultThresholds(th types.Thresholds) HandlerOption {
	return func(h *Handler) {
		h.defaults = th
	}
}

// WithMetadataCache attaches the provider metadata cache so the API can
// invalidate it. The same cache must be passed to the client factory.
func WithMetadataCache(c *provider.MetadataCache) HandlerOption {
	return func(h *Handler) {
		h.cache = c
	}
}

// NewHandler creates a new Handler.
func NewHandler(s store.Store, syncer Syncer, clients provider.Factory, apiKey, version string, opts ...HandlerOption) *Handler {
	h := &Handler{
		store:    s,
		syncer:   syncer,
		clients:  clients,
		apiKey:   apiKey,
		version:  version,
		defaults: types.DefaultThresholds,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		slog.Error("health check failed", "component", "api", "action", "health", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:      "healthy",
		Version:     h.version,
		PillarCount: stats.PillarCount,
		MetricCount: stats.MetricCount,
	})
}

// PlaceholderValue is one date token and what it resolves to today.
type PlaceholderValue struct {
	Token string `json:"token"`
	Value string `json:"value"`
}

// PlaceholdersResponse lists the supported date tokens.
type PlaceholdersResponse struct {
	Date         string             `json:"date"`
	Placeholders []PlaceholderValue `json:"placeholders"`
}

// Placeholders handles GET /api/v1/placeholders
func (h *Handler) Placeholders(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	values := placeholder.Values(now)

	resp := PlaceholdersResponse{
		Date:         now.Format(placeholder.DateLayout),
		Placeholders: make([]PlaceholderValue, 0, len(values)),
	}
	for _, tok := range placeholder.Tokens() {
		resp.Placeholders = append(resp.Placeholders, PlaceholderValue{Token: tok, Value: values[tok]})
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeJSON reads a bounded JSON body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "component", "api", "error", err)
	}
}
