// Package sync pulls metric values from external systems. One run loads an
// integration and its active mappings, aggregates each mapping remotely and
// writes the result into the mapped metric, recording the run in a sync log.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/pillars/internal/placeholder"
	"github.com/hyperengineering/pillars/internal/provider"
	"github.com/hyperengineering/pillars/internal/store"
	"github.com/hyperengineering/pillars/internal/types"
	"golang.org/x/sync/errgroup"
)

// Store is the persistence surface the orchestrator needs.
type Store interface {
	GetIntegrationByType(ctx context.Context, t types.IntegrationType) (*types.Integration, error)
	ListActiveMappings(ctx context.Context, integrationID string) ([]types.IntegrationMapping, error)
	UpdateMetricValue(ctx context.Context, id string, value float64) error
	CreateSyncLog(ctx context.Context, integrationID string, startedAt time.Time) (*types.SyncLog, error)
	CompleteSyncLog(ctx context.Context, id string, c types.SyncCompletion) error
	UpdateIntegrationSync(ctx context.Context, id string, status types.SyncStatus, at time.Time, errMsg *string) error
}

var _ Store = (store.Store)(nil)

// Recorder observes sync outcomes. Implemented by the metrics package.
type Recorder interface {
	SyncCompleted(integrationType types.IntegrationType, status types.SyncStatus, d time.Duration)
	MappingProcessed(integrationType types.IntegrationType, ok bool)
	ValuesDiscarded(integrationType types.IntegrationType, n int)
}

type nopRecorder struct{}

func (nopRecorder) SyncCompleted(types.IntegrationType, types.SyncStatus, time.Duration) {}
func (nopRecorder) MappingProcessed(types.IntegrationType, bool)                         {}
func (nopRecorder) ValuesDiscarded(types.IntegrationType, int)                           {}

// Result summarizes a completed run.
type Result struct {
	LogID           string           `json:"log_id"`
	RecordsFetched  int              `json:"records_fetched"`
	RecordsUpdated  int              `json:"records_updated"`
	MappingsFailed  int              `json:"mappings_failed"`
	ValuesDiscarded int              `json:"values_discarded"`
	Mappings        []MappingOutcome `json:"mappings"`
}

// MappingOutcome is the result of one mapping within a run.
type MappingOutcome struct {
	MappingID string   `json:"mapping_id"`
	MetricID  string   `json:"metric_id"`
	Value     *float64 `json:"value,omitempty"`
	Matched   int      `json:"matched"`
	Discarded int      `json:"discarded"`
	Fetched   bool     `json:"fetched"`
	Updated   bool     `json:"updated"`
	Error     string   `json:"error,omitempty"`
}

// Orchestrator runs syncs for integrations.
type Orchestrator struct {
	store          Store
	clients        provider.Factory
	recorder       Recorder
	now            func() time.Time
	concurrency    int
	mappingTimeout time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock used for placeholder resolution and timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithConcurrency bounds how many mappings run at once. Values below 1 mean 1.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n < 1 {
			n = 1
		}
		o.concurrency = n
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithMappingTimeout bounds the remote work of each mapping. Zero disables it.
func WithMappingTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.mappingTimeout = d
	}
}

// NewOrchestrator creates an orchestrator over s, building clients with f.
func NewOrchestrator(s Store, f provider.Factory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       s,
		clients:     f,
		recorder:    nopRecorder{},
		now:         func() time.Time { return time.Now().UTC() },
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Sync runs one sync for the integration of type t.
//
// Per-mapping failures are logged and counted, and do not fail the run.
// Errors before the mapping loop mark the log and integration failed and
// are returned.
func (o *Orchestrator) Sync(ctx context.Context, t types.IntegrationType) (*Result, error) {
	in, err := o.store.GetIntegrationByType(ctx, t)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrIntegrationNotFound, t)
		}
		return nil, fmt.Errorf("load integration: %w", err)
	}
	if !in.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrIntegrationNotFound, t)
	}

	started := o.now()
	log, err := o.store.CreateSyncLog(ctx, in.ID, started)
	if err != nil {
		return nil, o.fail(ctx, in, nil, started, fmt.Errorf("create sync log: %w", err))
	}

	slog.Info("sync started",
		"component", "sync",
		"action", "sync_start",
		"integration_type", in.Type,
		"sync_log_id", log.ID,
	)

	if err := o.store.UpdateIntegrationSync(ctx, in.ID, types.SyncRunning, started, nil); err != nil {
		return nil, o.fail(ctx, in, log, started, fmt.Errorf("mark integration running: %w", err))
	}

	mappings, err := o.store.ListActiveMappings(ctx, in.ID)
	if err != nil {
		return nil, o.fail(ctx, in, log, started, fmt.Errorf("load mappings: %w", err))
	}

	result := &Result{LogID: log.ID, Mappings: []MappingOutcome{}}
	if len(mappings) > 0 {
		client, err := o.clients.Client(in)
		if err != nil {
			return nil, o.fail(ctx, in, log, started, fmt.Errorf("build client: %w", err))
		}
		result.Mappings = o.runMappings(ctx, in, client, mappings)
	}

	for _, m := range result.Mappings {
		if m.Fetched {
			result.RecordsFetched++
		}
		if m.Updated {
			result.RecordsUpdated++
		} else {
			result.MappingsFailed++
		}
		result.ValuesDiscarded += m.Discarded
	}

	// Terminal writes survive cancellation so the audit trail always closes.
	wctx := context.WithoutCancel(ctx)
	completed := o.now()
	err = o.store.CompleteSyncLog(wctx, log.ID, types.SyncCompletion{
		Status:          types.SyncSuccess,
		CompletedAt:     completed,
		RecordsFetched:  result.RecordsFetched,
		RecordsUpdated:  result.RecordsUpdated,
		MappingsFailed:  result.MappingsFailed,
		ValuesDiscarded: result.ValuesDiscarded,
	})
	if err != nil {
		return nil, o.fail(ctx, in, log, started, fmt.Errorf("complete sync log: %w", err))
	}
	if err := o.store.UpdateIntegrationSync(wctx, in.ID, types.SyncSuccess, completed, nil); err != nil {
		return nil, fmt.Errorf("record integration sync: %w", err)
	}

	o.recorder.SyncCompleted(in.Type, types.SyncSuccess, completed.Sub(started))
	o.recorder.ValuesDiscarded(in.Type, result.ValuesDiscarded)

	slog.Info("sync completed",
		"component", "sync",
		"action", "sync_complete",
		"integration_type", in.Type,
		"sync_log_id", log.ID,
		"records_fetched", result.RecordsFetched,
		"records_updated", result.RecordsUpdated,
		"mappings_failed", result.MappingsFailed,
		"values_discarded", result.ValuesDiscarded,
		"duration_ms", completed.Sub(started).Milliseconds(),
	)

	return result, nil
}

// runMappings processes every mapping with at most o.concurrency in flight.
// Outcomes keep the mapping order.
func (o *Orchestrator) runMappings(ctx context.Context, in *types.Integration, client provider.Client, mappings []types.IntegrationMapping) []MappingOutcome {
	outcomes := make([]MappingOutcome, len(mappings))
	now := o.now()

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i := range mappings {
		g.Go(func() error {
			outcomes[i] = o.runMapping(ctx, in, client, mappings[i], now)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (o *Orchestrator) runMapping(ctx context.Context, in *types.Integration, client provider.Client, m types.IntegrationMapping, now time.Time) MappingOutcome {
	out := MappingOutcome{MappingID: m.ID, MetricID: m.MetricID}

	err := func() error {
		if m.RequiresValueField() && m.ValueField == "" {
			return fmt.Errorf("%w: %s", ErrMissingValueField, m.AggregationMethod)
		}

		query := placeholder.Resolve(m.Query, now)

		rctx := ctx
		if o.mappingTimeout > 0 {
			var cancel context.CancelFunc
			rctx, cancel = context.WithTimeout(ctx, o.mappingTimeout)
			defer cancel()
		}

		res, err := client.ExecuteQueryWithAggregation(rctx, query, m.AggregationMethod, m.ValueField)
		if err != nil {
			return fmt.Errorf("aggregate: %w", err)
		}
		out.Fetched = true
		out.Matched = res.Matched
		out.Discarded = res.Discarded

		value := m.TransformationRules.Apply(res.Value)
		out.Value = &value

		if err := o.store.UpdateMetricValue(ctx, m.MetricID, value); err != nil {
			return fmt.Errorf("update metric: %w", err)
		}
		out.Updated = true
		return nil
	}()

	o.recorder.MappingProcessed(in.Type, err == nil)

	if err != nil {
		out.Error = err.Error()
		slog.Warn("mapping sync failed",
			"component", "sync",
			"action", "mapping_failed",
			"integration_type", in.Type,
			"mapping_id", m.ID,
			"metric_id", m.MetricID,
			"error", err,
		)
		return out
	}

	slog.Debug("mapping synced",
		"component", "sync",
		"action", "mapping_synced",
		"integration_type", in.Type,
		"mapping_id", m.ID,
		"metric_id", m.MetricID,
		"value", *out.Value,
		"matched", out.Matched,
	)
	return out
}

// fail records cause on the sync log (when one exists) and the integration,
// then returns cause.
func (o *Orchestrator) fail(ctx context.Context, in *types.Integration, log *types.SyncLog, started time.Time, cause error) error {
	wctx := context.WithoutCancel(ctx)
	at := o.now()
	msg := cause.Error()

	if log != nil {
		if err := o.store.CompleteSyncLog(wctx, log.ID, types.SyncCompletion{
			Status:       types.SyncFailed,
			CompletedAt:  at,
			ErrorMessage: msg,
		}); err != nil && !errors.Is(err, store.ErrAlreadyCompleted) {
			slog.Error("failed to record sync failure on log",
				"component", "sync",
				"action", "sync_failed",
				"sync_log_id", log.ID,
				"error", err,
			)
		}
	}
	if err := o.store.UpdateIntegrationSync(wctx, in.ID, types.SyncFailed, at, &msg); err != nil {
		slog.Error("failed to record sync failure on integration",
			"component", "sync",
			"action", "sync_failed",
			"integration_type", in.Type,
			"error", err,
		)
	}

	o.recorder.SyncCompleted(in.Type, types.SyncFailed, at.Sub(started))

	slog.Error("sync failed",
		"component", "sync",
		"action", "sync_failed",
		"integration_type", in.Type,
		"error", cause,
	)
	return cause
}
