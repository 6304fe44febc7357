package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/pillars/internal/provider"
	"github.com/hyperengineering/pillars/internal/store"
	pillarsync "github.com/hyperengineering/pillars/internal/sync"
	"github.com/hyperengineering/pillars/internal/types"
)

const testAPIKey = "test-secret-key-12345"

var testNow = time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

// --- Mock Implementations for Testing ---

// mockStore is an in-memory store.Store.
type mockStore struct {
	mu sync.Mutex

	seq          int
	pillars      []types.Pillar
	metrics      []types.Metric
	integrations map[types.IntegrationType]*types.Integration
	mappings     []types.IntegrationMapping
	logs         []types.SyncLog

	statsErr     error
	saveErr      error
	listLogLimit int
}

var _ store.Store = (*mockStore)(nil)

func newMockStore() *mockStore {
	return &mockStore{integrations: make(map[types.IntegrationType]*types.Integration)}
}

// nextID returns a distinct valid ULID per call.
func (m *mockStore) nextID() string {
	m.seq++
	return fmt.Sprintf("01ARZ3NDEKTSV4RRFFQ69G%04d", m.seq)
}

func (m *mockStore) CreatePillar(ctx context.Context, p types.NewPillar) (*types.Pillar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := types.Pillar{ID: m.nextID(), Name: p.Name, Description: p.Description, SortOrder: p.SortOrder}
	if p.Thresholds != nil {
		out.Thresholds = *p.Thresholds
	}
	m.pillars = append(m.pillars, out)
	return &out, nil
}

func (m *mockStore) GetPillar(ctx context.Context, id string) (*types.Pillar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pillars {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockStore) ListPillars(ctx context.Context) ([]types.Pillar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Pillar(nil), m.pillars...), nil
}

func (m *mockStore) CreateMetric(ctx context.Context, nm types.NewMetric) (*types.Metric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for _, p := range m.pillars {
		if p.ID == nm.PillarID {
			found = true
		}
	}
	if !found {
		return nil, store.ErrInvalidReference
	}
	out := types.Metric{
		ID:             m.nextID(),
		PillarID:       nm.PillarID,
		Name:           nm.Name,
		MetricType:     nm.MetricType,
		DataSource:     nm.DataSource,
		CurrentValue:   nm.CurrentValue,
		TargetValue:    nm.TargetValue,
		ComparisonMode: nm.ComparisonMode,
		Cadence:        nm.Cadence,
		Format:         nm.Format,
	}
	if out.MetricType == "" {
		out.MetricType = types.MetricKeyResult
	}
	if out.ComparisonMode == "" {
		out.ComparisonMode = types.ModeAtOrAbove
	}
	if nm.Thresholds != nil {
		out.Thresholds = *nm.Thresholds
	}
	m.metrics = append(m.metrics, out)
	return &out, nil
}

func (m *mockStore) GetMetric(ctx context.Context, id string) (*types.Metric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mt := range m.metrics {
		if mt.ID == id {
			return &mt, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockStore) ListMetrics(ctx context.Context, pillarID string) ([]types.Metric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Metric
	for _, mt := range m.metrics {
		if pillarID == "" || mt.PillarID == pillarID {
			out = append(out, mt)
		}
	}
	return out, nil
}

func (m *mockStore) UpdateMetricValue(ctx context.Context, id string, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.metrics {
		if m.metrics[i].ID == id {
			prev := m.metrics[i].CurrentValue
			m.metrics[i].PreviousValue = &prev
			m.metrics[i].CurrentValue = value
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *mockStore) GetIntegrationByType(ctx context.Context, t types.IntegrationType) (*types.Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.integrations[t]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *in
	return &cp, nil
}

func (m *mockStore) SaveIntegration(ctx context.Context, in types.Integration) (*types.Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return nil, m.saveErr
	}
	if prev, ok := m.integrations[in.Type]; ok {
		in.ID = prev.ID
	} else {
		in.ID = m.nextID()
	}
	cp := in
	m.integrations[in.Type] = &cp
	return &in, nil
}

func (m *mockStore) UpdateIntegrationSync(ctx context.Context, id string, status types.SyncStatus, at time.Time, errMsg *string) error {
	return nil
}

func (m *mockStore) ListMappings(ctx context.Context, integrationID string) ([]types.IntegrationMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.IntegrationMapping
	for _, mp := range m.mappings {
		if mp.IntegrationID == integrationID {
			out = append(out, mp)
		}
	}
	return out, nil
}

func (m *mockStore) ListActiveMappings(ctx context.Context, integrationID string) ([]types.IntegrationMapping, error) {
	all, err := m.ListMappings(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	var out []types.IntegrationMapping
	for _, mp := range all {
		if mp.IsActive {
			out = append(out, mp)
		}
	}
	return out, nil
}

func (m *mockStore) GetMapping(ctx context.Context, id string) (*types.IntegrationMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mp := range m.mappings {
		if mp.ID == id {
			return &mp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockStore) CreateMapping(ctx context.Context, mp types.IntegrationMapping) (*types.IntegrationMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp.ID = m.nextID()
	m.mappings = append(m.mappings, mp)
	return &mp, nil
}

func (m *mockStore) UpdateMapping(ctx context.Context, mp types.IntegrationMapping) (*types.IntegrationMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.mappings {
		if m.mappings[i].ID == mp.ID {
			m.mappings[i] = mp
			return &mp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockStore) DeleteMapping(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.mappings {
		if m.mappings[i].ID == id {
			m.mappings = append(m.mappings[:i], m.mappings[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *mockStore) CreateSyncLog(ctx context.Context, integrationID string, startedAt time.Time) (*types.SyncLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := types.SyncLog{ID: m.nextID(), IntegrationID: integrationID, Status: types.SyncRunning, StartedAt: startedAt}
	m.logs = append(m.logs, l)
	return &l, nil
}

func (m *mockStore) CompleteSyncLog(ctx context.Context, id string, c types.SyncCompletion) error {
	return nil
}

func (m *mockStore) ListSyncLogs(ctx context.Context, integrationID string, limit int) ([]types.SyncLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listLogLimit = limit
	var out []types.SyncLog
	for _, l := range m.logs {
		if l.IntegrationID == integrationID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockStore) GetStats(ctx context.Context) (*types.StoreStats, error) {
	if m.statsErr != nil {
		return nil, m.statsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return &types.StoreStats{PillarCount: int64(len(m.pillars)), MetricCount: int64(len(m.metrics))}, nil
}

func (m *mockStore) Close() error { return nil }

// mockSyncer returns a canned result or error.
type mockSyncer struct {
	result *pillarsync.Result
	err    error
	calls  []types.IntegrationType
	ctxErr error
}

func (s *mockSyncer) Sync(ctx context.Context, t types.IntegrationType) (*pillarsync.Result, error) {
	s.calls = append(s.calls, t)
	s.ctxErr = ctx.Err()
	return s.result, s.err
}

// mockClient is a provider client whose connection test result is fixed.
type mockClient struct {
	connected bool
}

func (c *mockClient) TestConnection(ctx context.Context) bool { return c.connected }

func (c *mockClient) ExecuteQueryWithAggregation(ctx context.Context, query string, method types.AggregationMethod, valueField string) (*provider.Result, error) {
	return &provider.Result{}, nil
}

// mockListerClient also exposes properties.
type mockListerClient struct {
	mockClient
	props         []provider.Property
	err           error
	gotObjectType string
}

func (c *mockListerClient) Properties(ctx context.Context, objectType string) ([]provider.Property, error) {
	c.gotObjectType = objectType
	return c.props, c.err
}

// mockFactory hands out one client and records the integration it was built for.
type mockFactory struct {
	client provider.Client
	err    error
	got    *types.Integration
}

func (f *mockFactory) Client(in *types.Integration) (provider.Client, error) {
	f.got = in
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

type testEnv struct {
	store   *mockStore
	syncer  *mockSyncer
	factory *mockFactory
	cache   *provider.MetadataCache
	router  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:   newMockStore(),
		syncer:  &mockSyncer{result: &pillarsync.Result{}},
		factory: &mockFactory{client: &mockClient{connected: true}},
		cache:   provider.NewMetadataCache(time.Minute, nil),
	}
	h := NewHandler(env.store, env.syncer, env.factory, testAPIKey, "1.0.0",
		WithClock(func() time.Time { return testNow }),
		WithMetadataCache(env.cache),
	)
	env.router = NewRouter(h, nil, nil)
	return env
}
