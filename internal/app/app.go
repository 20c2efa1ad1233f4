// Package app assembles the engine's components from configuration. Both the
// HTTP server and the MCP server start from the same App.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/rx-safety-engine/internal/cache"
	"github.com/rx-safety-engine/internal/database"
	"github.com/rx-safety-engine/internal/domain"
	"github.com/rx-safety-engine/internal/evidence"
	"github.com/rx-safety-engine/internal/metrics"
	"github.com/rx-safety-engine/internal/repository"
	"github.com/rx-safety-engine/internal/rules"
	"github.com/rx-safety-engine/internal/service"
	"github.com/rx-safety-engine/internal/snapshot"
)

// App holds every long-lived component. Optional parts are nil when disabled.
type App struct {
	Config *domain.Config
	Logger *logrus.Logger

	Registry *prometheus.Registry
	Metrics  *metrics.EngineMetrics

	Rules      *rules.Provider
	Normalizer domain.EvidenceNormalizer
	Matcher    domain.InteractionMatcher
	Deriver    domain.PhenotypeDeriver
	Calculator domain.DoseCalculator
	Safety     *service.SafetyService

	Evidence  evidence.Store
	Snapshots *snapshot.Builder
	Cache     *cache.InteractionCache
	DB        *database.DB
	Reports   *repository.ReportRepository

	watcher   *rules.Watcher
	scheduler *snapshot.Scheduler
}

// New builds the component graph. Nothing runs in the background until Start.
func New(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	if cfg.Metrics.Enabled {
		a.Registry = prometheus.NewRegistry()
		a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a.Metrics = metrics.NewEngineMetrics(cfg.Metrics, a.Registry)
	}

	provider, err := rules.NewProvider(cfg.Rules.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule tables: %w", err)
	}
	provider.OnReload(a.Metrics.RecordRuleReload)
	a.Rules = provider

	if cfg.Rules.Watch && cfg.Rules.Path != "" {
		a.watcher, err = rules.NewWatcher(provider, 0, logger)
		if err != nil {
			return nil, err
		}
	}

	a.Normalizer = service.NewEvidenceNormalizer(logger)
	a.Matcher = service.NewInteractionMatcher(provider, logger)
	a.Deriver = service.NewPhenotypeDeriver(provider, logger)
	a.Calculator = service.NewDoseCalculator(provider, logger)

	if err := a.openEvidence(); err != nil {
		a.Close()
		return nil, err
	}

	a.Snapshots = snapshot.NewBuilder(a.Evidence, a.Normalizer, cfg.Snapshot, logger)
	a.Snapshots.SetMetrics(a.Metrics)
	a.scheduler = snapshot.NewScheduler(a.Snapshots, cfg.Snapshot.RebuildSchedule, logger)

	if cfg.Cache.RedisURL != "" {
		a.Cache, err = cache.NewInteractionCache(cfg.Cache)
		if err != nil {
			// The snapshot works without Redis; only publication is lost.
			logger.WithError(err).Warn("Redis interaction cache unavailable, publishing disabled")
		} else {
			a.Snapshots.SetPublisher(a.Cache)
		}
	}

	if cfg.Database.Enabled {
		if err := a.openReports(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Safety = service.NewSafetyService(a.Matcher, a.Deriver, a.Calculator, a.Snapshots, logger)
	a.Safety.SetReportCache(cache.NewMemoryCache[*domain.SafetyReport](cfg.Cache.MemoryMaxItems, cfg.Cache.MemoryTTL))
	a.Safety.SetMetrics(a.Metrics)

	return a, nil
}

func (a *App) openEvidence() error {
	cfg := a.Config.Evidence
	switch cfg.Driver {
	case "postgres":
		if err := a.migrate(cfg.PostgresURL); err != nil {
			return err
		}
		store, err := evidence.NewPostgresStoreFromURL(cfg.PostgresURL)
		if err != nil {
			return fmt.Errorf("failed to open evidence store: %w", err)
		}
		a.Evidence = store
	default:
		store, err := evidence.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to open evidence store: %w", err)
		}
		a.Evidence = store
	}

	a.Logger.WithField("driver", cfg.Driver).Info("Evidence store opened")
	return nil
}

func (a *App) openReports(ctx context.Context) error {
	runner, err := database.NewMigrationRunnerFromConfig(a.Config.Database, a.Logger)
	if err != nil {
		return err
	}
	err = runner.Up()
	runner.Close()
	if err != nil {
		return err
	}

	db, err := database.NewConnection(ctx, a.Config.Database, a.Logger)
	if err != nil {
		return err
	}
	a.DB = db
	a.Reports = repository.NewReportRepository(db.Pool, a.Logger)
	return nil
}

func (a *App) migrate(url string) error {
	path := a.Config.Database.MigrationsPath
	if path == "" {
		path = "migrations"
	}
	runner, err := database.NewMigrationRunner(url, path, a.Logger)
	if err != nil {
		return err
	}
	defer runner.Close()

	return runner.Up()
}

// Start launches the rule watcher and the snapshot scheduler, and builds the
// first snapshot when configured to. A failed first build is logged; lookups
// report the snapshot as not ready until a later rebuild succeeds.
func (a *App) Start(ctx context.Context) error {
	if a.watcher != nil {
		go func() {
			if err := a.watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.WithError(err).Error("Rule watcher stopped")
			}
		}()
	}

	if a.Config.Snapshot.BuildOnStart {
		if _, err := a.Snapshots.Rebuild(ctx); err != nil {
			a.Logger.WithError(err).Warn("Initial snapshot build failed")
		}
	}

	return a.scheduler.Start(ctx)
}

// Close releases stores and connections and stops the rule watcher.
func (a *App) Close() {
	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			a.Logger.WithError(err).Warn("Failed to close rule watcher")
		}
	}
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.Logger.WithError(err).Warn("Failed to close Redis client")
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
	if a.Evidence != nil {
		if err := a.Evidence.Close(); err != nil {
			a.Logger.WithError(err).Warn("Failed to close evidence store")
		}
	}
}

// ReportStore returns the report repository, or nil when persistence is disabled.
func (a *App) ReportStore() domain.ReportRepository {
	if a.Reports == nil {
		return nil
	}
	return a.Reports
}
