// Command analytics starts the query analytics service.
//
// It consumes the query log that searchers publish to Kafka, aggregates it
// in memory (query volume, latency percentiles, cache hit rate, unusable
// and zero-hit queries, most queried documents and builds), periodically
// snapshots the aggregates to PostgreSQL, and exposes them at
// GET /api/v1/analytics.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if err := run(cfg); err != nil {
		slog.Error("analytics service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("analytics service stopped")
}

func run(cfg *config.Config) error {
	if !cfg.Kafka.Enabled {
		return fmt.Errorf("analytics needs kafka: set kafka.enabled")
	}
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, nil)
		defer shutdown(context.Background())
	}
	agg := analytics.NewAggregator()

	kcfg := cfg.Kafka
	kcfg.ConsumerGroup = kcfg.ConsumerGroup + "-analytics"
	consumer := kafka.NewConsumer(kcfg, kcfg.Topics.QueryLog, analytics.HandleEvent(agg))
	go func() {
		if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
			slog.Error("query log consumer error", "error", err)
		}
	}()
	slog.Info("aggregating query log", "topic", kcfg.Topics.QueryLog, "group", kcfg.ConsumerGroup)

	checker := health.NewChecker()
	checker.Register("kafka", func(ctx context.Context) health.ComponentHealth {
		st := consumer.Stats()
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d events handled, %d skipped", st.Handled, st.Skipped),
		}
	})

	// Snapshots are optional; without postgres only live stats are served.
	var snapshots analytics.SnapshotLister
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, snapshots disabled", "error", err)
	} else {
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		store := aggregator.NewStore(db)
		qlog := cfg.Search.QueryLog
		go store.Run(ctx, agg, qlog.SnapshotInterval, qlog.SnapshotRetention)
		snapshots = store
		checker.Register("postgres", health.Degradable(db.Ping))
	}

	mux := http.NewServeMux()
	analytics.NewHandler(agg, snapshots).Mount(mux)
	checker.Mount(mux)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, middleware.RequestID, middleware.Metrics(m)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
