package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hyperengineering/pillars/internal/api"
	"github.com/hyperengineering/pillars/internal/config"
	"github.com/hyperengineering/pillars/internal/metrics"
	"github.com/hyperengineering/pillars/internal/provider"
	"github.com/hyperengineering/pillars/internal/store"
	pillarsync "github.com/hyperengineering/pillars/internal/sync"
	"github.com/hyperengineering/pillars/internal/worker"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "pillars",
	Short: "Pillars - executive KPI dashboard service",
	Long: "Serves the pillar and metric API, syncs metric values from HubSpot, " +
		"Jira and Google Sheets, and scores every pillar against its targets.",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(scorecardCmd)
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 3. Initialize logger
	slog.SetDefault(newLogger(os.Stdout, cfg.Log))
	slog.Info("configuration loaded")
	slog.Info("logger initialized", "level", cfg.Log.Level, "format", cfg.Log.Format)
	if cfg.Auth.APIKey == "" {
		slog.Warn("API authentication disabled", "reason", "dev mode without PILLARS_API_KEY")
	}

	// 4. Initialize store, metrics and sync services
	svc, err := newServices(cfg)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	// 5. Initialize HTTP router
	handler := api.NewHandler(svc.store, svc.orchestrator, svc.factory, cfg.Auth.APIKey, Version,
		api.WithDefaultThresholds(cfg.Scoring.Thresholds()),
		api.WithMetadataCache(svc.cache),
	)
	router := api.NewRouter(handler, svc.metrics, svc.metrics.Handler())
	slog.Info("router initialized")

	// 6. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 7. Workers
	scheduler, err := worker.NewSyncScheduler(svc.orchestrator, cfg.Sync.Schedules, time.Local)
	if err != nil {
		svc.close()
		return err
	}
	var wg sync.WaitGroup
	startWorker(ctx, &wg, "sync-scheduler", scheduler.Run)

	// 8. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		// Any other error indicates an actual server failure that should trigger shutdown.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 9. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 10. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 10a. Stop HTTP server (drains in-flight requests, including syncs)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 10b. Wait for workers to complete
	wg.Wait()

	// 10c. Close store
	svc.close()

	slog.Info("shutdown complete")
	return nil
}

// services are the long-lived components shared by the server and the
// offline commands.
type services struct {
	store        *store.SQLiteStore
	metrics      *metrics.Metrics
	cache        *provider.MetadataCache
	factory      provider.DefaultFactory
	orchestrator *pillarsync.Orchestrator
}

func newServices(cfg *config.Config) (*services, error) {
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	cache := provider.NewMetadataCache(time.Duration(cfg.Providers.MetadataCacheTTL), nil)
	factory := provider.DefaultFactory{Options: provider.Options{
		HTTPClient:     &http.Client{Timeout: time.Duration(cfg.Sync.RequestTimeout)},
		MaxRecords:     cfg.Sync.MaxRecords,
		Cache:          cache,
		HubSpotBaseURL: cfg.Providers.HubSpotBaseURL,
		JiraBaseURL:    cfg.Providers.JiraBaseURL,
		SheetsBaseURL:  cfg.Providers.SheetsBaseURL,
	}}
	orch := pillarsync.NewOrchestrator(db, factory,
		pillarsync.WithConcurrency(cfg.Sync.Concurrency),
		pillarsync.WithMappingTimeout(time.Duration(cfg.Sync.MappingTimeout)),
		pillarsync.WithRecorder(m),
	)

	return &services{
		store:        db,
		metrics:      m,
		cache:        cache,
		factory:      factory,
		orchestrator: orch,
	}, nil
}

func (s *services) close() {
	if err := s.store.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}
}

// newLogger builds the process logger. Format "text" selects the
// human-readable handler; anything else is JSON.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
