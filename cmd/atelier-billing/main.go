// Command atelier-billing runs the billing sweep on a cron schedule and
// serves Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/xraph/atelier"
	audit_hook "github.com/xraph/atelier/audit_hook"
	"github.com/xraph/atelier/lock/redislock"
	"github.com/xraph/atelier/observability"
	"github.com/xraph/atelier/store"
	"github.com/xraph/atelier/store/memory"
	"github.com/xraph/atelier/store/mongo"
	"github.com/xraph/atelier/store/postgres"
	"github.com/xraph/atelier/store/sqlite"
	"github.com/xraph/atelier/store/sqlstore"
	"github.com/xraph/atelier/sweep"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to the YAML config file")
	envFile := flag.String("env-file", ".env", "Path to a .env file (ignored when missing)")
	runOnce := flag.Bool("run-once", false, "Run one sweep and exit")
	flag.Parse()

	cfg, err := LoadConfig(*configPath, *envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "atelier-billing:", err)
		os.Exit(2)
	}

	level, _ := cfg.level() //nolint:errcheck // checked by Validate
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *runOnce); err != nil {
		logger.Error("atelier-billing failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, logger *slog.Logger, once bool) error {
	s, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []atelier.Option{
		atelier.WithLogger(logger),
		atelier.WithPaymentTermsDays(cfg.Billing.PaymentTermsDays),
		atelier.WithDunningPolicy(atelier.DunningPolicy{
			PastDueAfter: cfg.Billing.PastDueAfter,
			ExpireAfter:  cfg.Billing.ExpireAfter,
		}),
		atelier.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(registry))),
		atelier.WithPlugin(audit_hook.New(auditLog(logger), audit_hook.WithLogger(logger))),
	}

	sweepOpts := []sweep.Option{
		sweep.WithLogger(logger),
		sweep.WithBatchSize(cfg.Sweep.BatchSize),
		sweep.WithConcurrency(cfg.Sweep.Concurrency),
	}

	if cfg.RedisURL != "" {
		locker, err := redislock.NewFromURL(cfg.RedisURL, redislock.WithLogger(logger))
		if err != nil {
			s.Close() //nolint:errcheck // best-effort
			return err
		}
		defer locker.Close() //nolint:errcheck // best-effort
		opts = append(opts, atelier.WithLocker(locker))
		sweepOpts = append(sweepOpts, sweep.WithLocker(locker))
	}

	engine := atelier.New(s, opts...)
	if err := engine.Start(ctx); err != nil {
		s.Close() //nolint:errcheck // best-effort
		return err
	}
	defer func() {
		if err := engine.Stop(); err != nil {
			logger.Warn("engine stop failed", "error", err)
		}
	}()

	sweeper := sweep.New(engine, sweepOpts...)
	runSweep := func() {
		if _, err := sweeper.Run(ctx); err != nil {
			logger.Error("sweep failed", "error", err)
		}
	}

	if once {
		_, err := sweeper.Run(ctx)
		return err
	}

	scheduler := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := scheduler.AddFunc(cfg.Sweep.Schedule, runSweep); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           newMux(registry, engine.Store()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	scheduler.Start()
	logger.Info("atelier-billing started",
		"store", cfg.Store.Driver,
		"schedule", cfg.Sweep.Schedule,
		"metrics_addr", cfg.MetricsAddr,
	)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}

	logger.Info("shutting down")
	<-scheduler.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore connects to the configured backend. Schema migrations run in
// engine.Start.
func openStore(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case DriverPostgres:
		return postgres.Open(ctx, cfg.DSN, sqlstore.WithLogger(logger))
	case DriverSQLite:
		return sqlite.Open(ctx, cfg.DSN, sqlstore.WithLogger(logger))
	case DriverMongo:
		return mongo.Open(ctx, cfg.DSN, cfg.Database)
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func newMux(registry *prometheus.Registry, s store.Store) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := s.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// auditLog writes audit events to the structured log.
func auditLog(logger *slog.Logger) audit_hook.Recorder {
	return audit_hook.RecorderFunc(func(ctx context.Context, ev *audit_hook.AuditEvent) error {
		logger.InfoContext(ctx, "audit",
			"action", ev.Action,
			"resource", ev.Resource,
			"resource_id", ev.ResourceID,
			"actor", ev.Actor,
			"outcome", ev.Outcome,
			"severity", ev.Severity,
			"reason", ev.Reason,
		)
		return nil
	})
}
