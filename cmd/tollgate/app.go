package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/tollgate/pkg/audit"
	"mercator-hq/tollgate/pkg/catalog"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/fallback"
	"mercator-hq/tollgate/pkg/ingress"
	"mercator-hq/tollgate/pkg/ledger"
	"mercator-hq/tollgate/pkg/ledger/storage"
	"mercator-hq/tollgate/pkg/monitor"
	"mercator-hq/tollgate/pkg/reconcile"
	"mercator-hq/tollgate/pkg/selection"
	"mercator-hq/tollgate/pkg/server"
	"mercator-hq/tollgate/pkg/server/handlers"
	"mercator-hq/tollgate/pkg/telemetry/health"
	"mercator-hq/tollgate/pkg/telemetry/logging"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
)

// app holds the wired components of a running service.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	repo      ledger.Repository
	ledger    *ledger.Ledger
	monitor   *monitor.Monitor
	scheduler *monitor.RolloverScheduler
	catalog   *catalog.Catalog
	watcher   *catalog.Watcher
	server    *server.Server
}

// newLogger builds the process logger from the telemetry config.
func newLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	level := cfg.Level
	if verbose {
		level = "debug"
	}
	return logging.New(logging.Config{
		Level:     level,
		Format:    cfg.Format,
		AddSource: cfg.AddSource,
		Writer:    os.Stderr,
	})
}

// newNotifier delivers threshold notifications through the audit sink, or
// through the logger when audit logging is off.
func newNotifier(cfg config.LoggingConfig, sink audit.Sink, logger *slog.Logger) monitor.Notifier {
	if cfg.Audit {
		return monitor.AuditNotifier{Sink: sink}
	}
	return monitor.LogNotifier{Logger: logger}
}

// newApp wires every component from cfg. A catalog that fails to load is
// logged and left empty; selection then reports the catalog unavailable
// and readiness fails until a reload succeeds.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	collector := metrics.NewCollector(cfg.Telemetry.Metrics, prometheus.NewRegistry())
	var sink audit.Sink = audit.Discard
	if cfg.Telemetry.Logging.Audit {
		sink = audit.NewSlogSink(logger)
	}

	repo, alerts, err := storage.Open(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, repo: repo}

	a.ledger = ledger.New(repo,
		ledger.WithAudit(sink),
		ledger.WithMetrics(collector),
		ledger.WithLogger(logger),
	)
	a.monitor = monitor.New(alerts, a.ledger,
		monitor.WithNotifier(newNotifier(cfg.Telemetry.Logging, sink, logger)),
		monitor.WithAudit(sink),
		monitor.WithMetrics(collector),
		monitor.WithLogger(logger),
	)
	a.ledger.AddObserver(a.monitor)
	a.scheduler = monitor.NewRolloverScheduler(a.ledger, cfg.Monitor.RolloverSchedule, logger)

	if err := seedBudgets(ctx, a.ledger, cfg.Budgets, logger); err != nil {
		_ = repo.Close()
		return nil, err
	}

	a.catalog = catalog.New(cfg.Catalog.Path, catalog.WithAudit(sink), catalog.WithLogger(logger))
	if err := a.catalog.Reload(ctx); err != nil {
		logger.Error("catalog not loaded, selection unavailable until the file is fixed", "path", cfg.Catalog.Path, "error", err)
	}
	if cfg.Catalog.Watch {
		if a.watcher, err = catalog.NewWatcher(a.catalog, cfg.Catalog.Debounce, logger); err != nil {
			_ = repo.Close()
			return nil, err
		}
	}

	history := selection.NewHistory()
	engine := selection.NewEngineFromConfig(cfg.Selection, history)
	service := selection.NewService(engine, a.catalog, a.ledger, a.monitor,
		selection.WithStatusTimeout(cfg.Selection.StatusTimeout),
		selection.WithAudit(sink),
		selection.WithMetrics(collector),
		selection.WithLogger(logger),
	)
	reconciler := reconcile.New(a.catalog, a.ledger,
		reconcile.WithHistory(history),
		reconcile.WithAudit(sink),
		reconcile.WithMetrics(collector),
		reconcile.WithLogger(logger),
	)

	checker := health.New(0)
	checker.Register("catalog", health.Catalog(a.catalog))
	checker.Register("ledger", health.Ledger(a.ledger))

	opts := []server.Option{
		server.WithHealth(checker, versionInfo()),
		server.WithLogger(logger),
	}
	if cfg.Telemetry.Metrics.Enabled {
		opts = append(opts, server.WithMetrics(cfg.Telemetry.Metrics.Path, collector.Handler()))
	}

	if cfg.Ingress.Enabled {
		h, err := a.newIngress(service, engine, reconciler, collector, sink, checker)
		if err != nil {
			_ = repo.Close()
			return nil, err
		}
		opts = append(opts, server.WithIngress(h))
	}

	api := handlers.New(handlers.Deps{
		Budgets:    a.ledger,
		Alerts:     a.monitor,
		Selector:   service,
		Catalog:    a.catalog,
		Reconciler: reconciler,
	}, logger)
	a.server = server.New(cfg.Server, api, opts...)
	return a, nil
}

// newIngress wires the steering adapter in front of the provider proxy.
func (a *app) newIngress(
	service *selection.Service,
	engine *selection.Engine,
	reconciler *reconcile.Reconciler,
	collector *metrics.Collector,
	sink audit.Sink,
	checker *health.Checker,
) (http.Handler, error) {
	status := ingress.NewStatusSource(a.ledger, a.cfg.Ingress, collector, a.logger)
	a.ledger.AddObserver(status)
	checker.Register("ledger-breaker", health.Breaker(status.BreakerState))

	adapter, err := ingress.NewAdapter(service, status, reconciler, a.cfg.Ingress,
		ingress.WithAudit(sink),
		ingress.WithMetrics(collector),
		ingress.WithLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}

	resolver := fallback.NewResolver(a.catalog, engine,
		fallback.WithAudit(sink),
		fallback.WithMetrics(collector),
		fallback.WithLogger(a.logger),
	)
	executor := fallback.NewExecutor(resolver, a.cfg.Fallback, a.logger)

	proxy, err := ingress.NewProxy(a.cfg.Ingress.Upstream, adapter, executor, a.logger)
	if err != nil {
		return nil, err
	}
	return adapter.Middleware(proxy), nil
}

// run starts the background workers and serves until ctx is done.
func (a *app) run(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	defer a.scheduler.Stop()

	if a.watcher != nil {
		go func() {
			if err := a.watcher.Watch(ctx); err != nil {
				a.logger.Error("catalog watcher stopped", "error", err)
			}
		}()
		defer func() { _ = a.watcher.Stop() }()
	}

	return a.server.Start(ctx)
}

// close releases storage.
func (a *app) close() error {
	if err := a.repo.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}
	return nil
}
