package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hyperengineering/pillars/internal/store"
	"github.com/hyperengineering/pillars/internal/types"
)

const (
	// DefaultSyncLogLimit is the number of sync logs returned when no limit is given.
	DefaultSyncLogLimit = 20

	// MaxSyncLogLimit is the maximum number of sync logs per request.
	MaxSyncLogLimit = 100
)

// SyncResponse is the success body of POST /integrations/{type}/sync.
// A partial success is still success; compare RecordsUpdated with the
// mapping count or read the sync log to detect failed mappings.
type SyncResponse struct {
	Success         bool   `json:"success"`
	RecordsFetched  int    `json:"recordsFetched"`
	RecordsUpdated  int    `json:"recordsUpdated"`
	MappingsFailed  int    `json:"mappingsFailed"`
	ValuesDiscarded int    `json:"valuesDiscarded"`
	SyncLogID       string `json:"syncLogId"`
}

// SyncIntegration handles POST /api/v1/integrations/{type}/sync
//
// The run is detached from the request context: a client that disconnects
// does not abort an in-flight sync, which still writes its log and values.
func (h *Handler) SyncIntegration(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	t := mustIntegrationType(r.Context())

	res, err := h.syncer.Sync(context.WithoutCancel(r.Context()), t)
	if err != nil {
		slog.Warn("sync request failed",
			"component", "api",
			"action", "sync",
			"integration_type", t,
			"error", err,
		)
		WriteSyncProblem(w, r, err)
		return
	}

	slog.Info("sync request completed",
		"component", "api",
		"action", "sync",
		"integration_type", t,
		"records_fetched", res.RecordsFetched,
		"records_updated", res.RecordsUpdated,
		"mappings_failed", res.MappingsFailed,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	writeJSON(w, http.StatusOK, SyncResponse{
		Success:         true,
		RecordsFetched:  res.RecordsFetched,
		RecordsUpdated:  res.RecordsUpdated,
		MappingsFailed:  res.MappingsFailed,
		ValuesDiscarded: res.ValuesDiscarded,
		SyncLogID:       res.LogID,
	})
}

// ListSyncLogs handles GET /api/v1/integrations/{type}/sync-logs?limit=N
func (h *Handler) ListSyncLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t := mustIntegrationType(ctx)

	limit := DefaultSyncLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			WriteProblem(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, MaxSyncLogLimit)
	}

	in, err := h.store.GetIntegrationByType(ctx, t)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteProblem(w, r, http.StatusNotFound, "Integration not configured")
			return
		}
		MapStoreError(w, r, err)
		return
	}

	logs, err := h.store.ListSyncLogs(ctx, in.ID, limit)
	if err != nil {
		slog.Error("list sync logs failed",
			"component", "api",
			"action", "list_sync_logs",
			"integration_type", t,
			"error", err,
		)
		MapStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Logs []types.SyncLog `json:"logs"`
	}{Logs: logs})
}
