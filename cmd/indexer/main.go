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

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/artifact"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/resource"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/store"
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
		slog.Error("indexer service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("indexer service stopped")
}

func run(cfg *config.Config) error {
	slog.Info("starting indexer service",
		"corpus", cfg.Corpus.Name,
		"vocabulary", cfg.Corpus.Vocabulary,
		"storage", cfg.Storage.Backend,
	)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, nil)
		defer shutdown(context.Background())
	}

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	src := store.NewPostgres(db)

	v, err := src.Vocabulary(ctx, cfg.Corpus.Vocabulary)
	if err != nil {
		return fmt.Errorf("loading vocabulary %q: %w", cfg.Corpus.Vocabulary, err)
	}
	cache, err := artifact.OpenCache(ctx, *cfg, m)
	if err != nil {
		return err
	}
	budget := resource.NewBudget(cfg.Build.MemoryLimitBytes, 1)
	engine, err := indexer.NewEngine(cfg.Corpus.Name, src, cache, v, budget, indexer.OptionsFromConfig(cfg))
	if err != nil {
		return err
	}
	engine.WithMetrics(m)

	var publisher kafka.Publisher
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexBuilt)
		defer producer.Close()
		publisher = producer
	}

	checker := health.NewChecker()
	checker.Register("postgres", health.Ping(db.Ping))
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		ix := engine.Current()
		if ix == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "no index built yet"}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: "build " + ix.BuildID}
	})
	mux := http.NewServeMux()
	checker.Mount(mux)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, middleware.RequestID, middleware.Metrics(m)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		slog.Info("indexer health endpoint listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	ix, err := engine.Build(ctx)
	if err != nil {
		slog.Error("initial build failed", "error", err)
	} else if publisher != nil {
		if err := publisher.Publish(ctx, ix.Corpus, ix.Event()); err != nil {
			slog.Warn("failed to announce index", "error", err)
		}
	}

	if !cfg.Kafka.Enabled {
		slog.Info("kafka disabled, serving the initial build only")
		<-ctx.Done()
		return nil
	}
	kafkaConsumer := kafka.NewConsumer(
		cfg.Kafka,
		cfg.Kafka.Topics.CorpusChanged,
		consumer.HandleCorpusChanged(engine, publisher),
	)
	indexConsumer := consumer.New(kafkaConsumer)
	slog.Info("indexer service ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.CorpusChanged,
		"group", cfg.Kafka.ConsumerGroup,
	)
	if err := indexConsumer.Start(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("consumer: %w", err)
	}
	return nil
}
