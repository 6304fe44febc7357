package store

import (
	"context"
	"time"

	"github.com/hyperengineering/pillars/internal/types"
)

// Store defines the persistence contract for pillars, metrics, integrations,
// mappings and sync logs.
type Store interface {
	CreatePillar(ctx context.Context, p types.NewPillar) (*types.Pillar, error)
	GetPillar(ctx context.Context, id string) (*types.Pillar, error)
	ListPillars(ctx context.Context) ([]types.Pillar, error)

	CreateMetric(ctx context.Context, m types.NewMetric) (*types.Metric, error)
	GetMetric(ctx context.Context, id string) (*types.Metric, error)
	// ListMetrics returns the metrics of one pillar, or every metric when
	// pillarID is empty, ordered by sort order.
	ListMetrics(ctx context.Context, pillarID string) ([]types.Metric, error)
	// UpdateMetricValue overwrites the current value. The old current value
	// becomes the previous value.
	UpdateMetricValue(ctx context.Context, id string, value float64) error

	GetIntegrationByType(ctx context.Context, t types.IntegrationType) (*types.Integration, error)
	// SaveIntegration inserts or replaces the integration of in.Type.
	SaveIntegration(ctx context.Context, in types.Integration) (*types.Integration, error)
	UpdateIntegrationSync(ctx context.Context, id string, status types.SyncStatus, at time.Time, errMsg *string) error

	ListMappings(ctx context.Context, integrationID string) ([]types.IntegrationMapping, error)
	ListActiveMappings(ctx context.Context, integrationID string) ([]types.IntegrationMapping, error)
	GetMapping(ctx context.Context, id string) (*types.IntegrationMapping, error)
	CreateMapping(ctx context.Context, m types.IntegrationMapping) (*types.IntegrationMapping, error)
	UpdateMapping(ctx context.Context, m types.IntegrationMapping) (*types.IntegrationMapping, error)
	DeleteMapping(ctx context.Context, id string) error

	CreateSyncLog(ctx context.Context, integrationID string, startedAt time.Time) (*types.SyncLog, error)
	CompleteSyncLog(ctx context.Context, id string, c types.SyncCompletion) error
	ListSyncLogs(ctx context.Context, integrationID string, limit int) ([]types.SyncLog, error)

	GetStats(ctx context.Context) (*types.StoreStats, error)
	Close() error
}
