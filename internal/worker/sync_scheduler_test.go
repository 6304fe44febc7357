package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	pillarsync "github.com/hyperengineering/pillars/internal/sync"
	"github.com/hyperengineering/pillars/internal/types"
)

// mockSyncer records sync calls per integration type.
type mockSyncer struct {
	mu    sync.Mutex
	calls map[types.IntegrationType]int
	err   error
	block time.Duration
}

func newMockSyncer() *mockSyncer {
	return &mockSyncer{calls: make(map[types.IntegrationType]int)}
}

func (m *mockSyncer) Sync(ctx context.Context, t types.IntegrationType) (*pillarsync.Result, error) {
	m.mu.Lock()
	m.calls[t]++
	m.mu.Unlock()
	if m.block > 0 {
		select {
		case <-time.After(m.block):
		case <-ctx.Done():
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &pillarsync.Result{RecordsUpdated: 1}, nil
}

func (m *mockSyncer) getCalls(t types.IntegrationType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[t]
}

func TestNewSyncScheduler_ParsesAndSorts(t *testing.T) {
	s, err := NewSyncScheduler(newMockSyncer(), map[string]string{
		"spreadsheet": "@hourly",
		"crm":         "0 6 * * 1-5",
	}, nil)
	if err != nil {
		t.Fatalf("NewSyncScheduler() error = %v", err)
	}

	got := s.Schedules()
	if len(got) != 2 {
		t.Fatalf("len(Schedules()) = %d, want 2", len(got))
	}
	if got[0].Type != types.IntegrationCRM || got[1].Type != types.IntegrationSpreadsheet {
		t.Errorf("order = %s, %s; want crm, spreadsheet", got[0].Type, got[1].Type)
	}
}

func TestNewSyncScheduler_Errors(t *testing.T) {
	tests := []struct {
		name      string
		schedules map[string]string
		wantErr   string
	}{
		{"unknown type", map[string]string{"erp": "@daily"}, "unknown integration type"},
		{"bad expression", map[string]string{"crm": "whenever"}, "parse schedule for crm"},
		{"too many fields", map[string]string{"crm": "0 0 6 * * *"}, "parse schedule for crm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSyncScheduler(newMockSyncer(), tt.schedules, nil)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestSyncScheduler_Next(t *testing.T) {
	// Given: a weekday 06:00 schedule
	s, err := NewSyncScheduler(newMockSyncer(), map[string]string{"crm": "0 6 * * 1-5"}, time.UTC)
	if err != nil {
		t.Fatalf("NewSyncScheduler() error = %v", err)
	}

	// When: asked on a Friday evening
	friday := time.Date(2024, 5, 17, 20, 0, 0, 0, time.UTC)
	next := s.Next(friday)

	// Then: the next run is Monday morning
	want := time.Date(2024, 5, 20, 6, 0, 0, 0, time.UTC)
	if !next[types.IntegrationCRM].Equal(want) {
		t.Errorf("Next = %v, want %v", next[types.IntegrationCRM], want)
	}
}

func TestSyncScheduler_RunTriggersSync(t *testing.T) {
	syncer := newMockSyncer()
	s, err := NewSyncScheduler(syncer, map[string]string{"issue_tracker": "@every 1s"}, nil)
	if err != nil {
		t.Fatalf("NewSyncScheduler() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for syncer.getCalls(types.IntegrationIssueTracker) == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	if syncer.getCalls(types.IntegrationIssueTracker) == 0 {
		t.Error("expected at least one scheduled sync")
	}
}

func TestSyncScheduler_RunWithoutSchedulesReturns(t *testing.T) {
	s, err := NewSyncScheduler(newMockSyncer(), nil, nil)
	if err != nil {
		t.Fatalf("NewSyncScheduler() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return immediately with no schedules")
	}
}

func TestSyncScheduler_RunSync(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"success", nil, true},
		{"integration missing", pillarsync.ErrIntegrationNotFound, false},
		{"failure", errors.New("remote down"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncer := newMockSyncer()
			syncer.err = tt.err
			s := &SyncScheduler{syncer: syncer, location: time.UTC}

			if got := s.runSync(context.Background(), types.IntegrationCRM); got != tt.want {
				t.Errorf("runSync() = %v, want %v", got, tt.want)
			}
			if syncer.getCalls(types.IntegrationCRM) != 1 {
				t.Errorf("calls = %d, want 1", syncer.getCalls(types.IntegrationCRM))
			}
		})
	}
}

func TestSyncScheduler_RunSyncSkipsAfterCancel(t *testing.T) {
	syncer := newMockSyncer()
	s := &SyncScheduler{syncer: syncer, location: time.UTC}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if s.runSync(ctx, types.IntegrationCRM) {
		t.Error("runSync() should report false after cancellation")
	}
	if syncer.getCalls(types.IntegrationCRM) != 0 {
		t.Error("no sync should start after cancellation")
	}
}
