package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	pillarsync "github.com/hyperengineering/pillars/internal/sync"
	"github.com/hyperengineering/pillars/internal/types"
	"github.com/robfig/cron/v3"
)

// Syncer runs one sync for an integration type. Implemented by pillarsync.Orchestrator.
type Syncer interface {
	Sync(ctx context.Context, t types.IntegrationType) (*pillarsync.Result, error)
}

var _ Syncer = (*pillarsync.Orchestrator)(nil)

// ScheduledSync describes one configured schedule.
type ScheduledSync struct {
	Type     types.IntegrationType
	Spec     string
	Schedule cron.Schedule
}

// SyncScheduler triggers syncs on cron schedules, one per integration type.
// A run that is still going when its next tick fires is skipped.
type SyncScheduler struct {
	syncer    Syncer
	schedules []ScheduledSync
	location  *time.Location
}

// NewSyncScheduler parses schedules (integration type to cron expression).
// Standard five-field expressions and descriptors such as "@hourly" or
// "@every 15m" are accepted.
func NewSyncScheduler(syncer Syncer, schedules map[string]string, loc *time.Location) (*SyncScheduler, error) {
	if loc == nil {
		loc = time.UTC
	}

	keys := make([]string, 0, len(schedules))
	for k := range schedules {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s := &SyncScheduler{syncer: syncer, location: loc}
	for _, k := range keys {
		t := types.IntegrationType(k)
		if !t.Valid() {
			return nil, fmt.Errorf("schedule for unknown integration type %q", k)
		}
		sched, err := cron.ParseStandard(schedules[k])
		if err != nil {
			return nil, fmt.Errorf("parse schedule for %s: %w", k, err)
		}
		s.schedules = append(s.schedules, ScheduledSync{Type: t, Spec: schedules[k], Schedule: sched})
	}
	return s, nil
}

// Schedules returns the parsed schedules sorted by integration type.
func (s *SyncScheduler) Schedules() []ScheduledSync {
	return s.schedules
}

// Next returns the next activation of every schedule after now.
func (s *SyncScheduler) Next(now time.Time) map[types.IntegrationType]time.Time {
	out := make(map[types.IntegrationType]time.Time, len(s.schedules))
	for _, sc := range s.schedules {
		out[sc.Type] = sc.Schedule.Next(now.In(s.location))
	}
	return out
}

// Run starts the scheduler. It blocks until ctx is cancelled, then waits for
// in-flight syncs to finish.
func (s *SyncScheduler) Run(ctx context.Context) {
	if len(s.schedules) == 0 {
		slog.Info("sync scheduler has no schedules, not starting",
			"component", "worker",
			"worker", "sync-scheduler",
		)
		return
	}

	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(s.location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	for _, sc := range s.schedules {
		t := sc.Type
		c.Schedule(sc.Schedule, cron.FuncJob(func() { s.runSync(ctx, t) }))
	}

	c.Start()
	slog.Info("sync scheduler started",
		"component", "worker",
		"worker", "sync-scheduler",
		"schedules", len(s.schedules),
	)

	<-ctx.Done()
	<-c.Stop().Done()

	slog.Info("sync scheduler stopped",
		"component", "worker",
		"worker", "sync-scheduler",
		"reason", "context_cancelled",
	)
}

// runSync triggers one sync and logs its outcome. Returns true on success.
func (s *SyncScheduler) runSync(ctx context.Context, t types.IntegrationType) bool {
	if ctx.Err() != nil {
		return false
	}

	res, err := s.syncer.Sync(ctx, t)
	if err != nil {
		if errors.Is(err, pillarsync.ErrIntegrationNotFound) {
			slog.Info("scheduled sync skipped, integration not configured",
				"component", "worker",
				"worker", "sync-scheduler",
				"integration_type", t,
			)
			return false
		}
		if ctx.Err() != nil {
			return false // Graceful shutdown, don't log as error
		}
		slog.Error("scheduled sync failed",
			"component", "worker",
			"worker", "sync-scheduler",
			"integration_type", t,
			"error", err,
		)
		return false
	}

	slog.Info("scheduled sync completed",
		"component", "worker",
		"worker", "sync-scheduler",
		"integration_type", t,
		"records_updated", res.RecordsUpdated,
		"mappings_failed", res.MappingsFailed,
	)
	return true
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	args := append([]any{"component", "worker", "worker", "sync-scheduler"}, keysAndValues...)
	slog.Debug("cron: "+msg, args...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]any{"component", "worker", "worker", "sync-scheduler", "error", err}, keysAndValues...)
	slog.Error("cron: "+msg, args...)
}
