package store

import (
	"context"
	"time"

	"github.com/hyperengineering/pillars/internal/types"
)

// mockStore is a compile-time check that the Store interface can be implemented.
type mockStore struct{}

var _ Store = (*mockStore)(nil)

func (m *mockStore) CreatePillar(ctx context.Context, p types.NewPillar) (*types.Pillar, error) {
	return nil, nil
}
func (m *mockStore) GetPillar(ctx context.Context, id string) (*types.Pillar, error) { return nil, nil }
func (m *mockStore) ListPillars(ctx context.Context) ([]types.Pillar, error)         { return nil, nil }
func (m *mockStore) CreateMetric(ctx context.Context, in types.NewMetric) (*types.Metric, error) {
	return nil, nil
}
func (m *mockStore) GetMetric(ctx context.Context, id string) (*types.Metric, error) { return nil, nil }
func (m *mockStore) ListMetrics(ctx context.Context, pillarID string) ([]types.Metric, error) {
	return nil, nil
}
func (m *mockStore) UpdateMetricValue(ctx context.Context, id string, value float64) error {
	return nil
}
func (m *mockStore) GetIntegrationByType(ctx context.Context, t types.IntegrationType) (*types.Integration, error) {
	return nil, nil
}
func (m *mockStore) SaveIntegration(ctx context.Context, in types.Integration) (*types.Integration, error) {
	return nil, nil
}
func (m *mockStore) UpdateIntegrationSync(ctx context.Context, id string, status types.SyncStatus, at time.Time, errMsg *string) error {
	return nil
}
func (m *mockStore) ListMappings(ctx context.Context, integrationID string) ([]types.IntegrationMapping, error) {
	return nil, nil
}
func (m *mockStore) ListActiveMappings(ctx context.Context, integrationID string) ([]types.IntegrationMapping, error) {
	return nil, nil
}
func (m *mockStore) GetMapping(ctx context.Context, id string) (*types.IntegrationMapping, error) {
	return nil, nil
}
func (m *mockStore) CreateMapping(ctx context.Context, mp types.IntegrationMapping) (*types.IntegrationMapping, error) {
	return nil, nil
}
func (m *mockStore) UpdateMapping(ctx context.Context, mp types.IntegrationMapping) (*types.IntegrationMapping, error) {
	return nil, nil
}
func (m *mockStore) DeleteMapping(ctx context.Context, id string) error { return nil }
func (m *mockStore) CreateSyncLog(ctx context.Context, integrationID string, startedAt time.Time) (*types.SyncLog, error) {
	return nil, nil
}
func (m *mockStore) CompleteSyncLog(ctx context.Context, id string, c types.SyncCompletion) error {
	return nil
}
func (m *mockStore) ListSyncLogs(ctx context.Context, integrationID string, limit int) ([]types.SyncLog, error) {
	return nil, nil
}
func (m *mockStore) GetStats(ctx context.Context) (*types.StoreStats, error) { return nil, nil }
func (m *mockStore) Close() error                                           { return nil }
