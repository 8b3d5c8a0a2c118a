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

	"golang.org/x/time/rate"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/analytics/collector"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/artifact"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/auth"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/redis"
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
		slog.Error("search service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}

func run(cfg *config.Config) error {
	slog.Info("starting search service", "port", cfg.Server.Port, "corpus", cfg.Corpus.Name)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, nil)
		defer shutdown(context.Background())
	}

	artifacts, err := artifact.OpenCache(ctx, *cfg, m)
	if err != nil {
		return err
	}
	holder := &indexer.Holder{}
	reloader := indexer.NewReloader(artifacts, cfg.Corpus.Name, holder).WithMetrics(m)
	if _, err := reloader.Reload(ctx); err != nil {
		if !errors.Is(err, apperrors.ErrIndexNotReady) {
			return fmt.Errorf("loading index: %w", err)
		}
		slog.Warn("no index stored yet, serving 503 until one is built", "corpus", cfg.Corpus.Name)
	}

	// Document queries need the descriptor source; without it only
	// descriptor queries are served.
	var src store.Source
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, document queries disabled", "error", err)
	} else {
		defer db.Close()
		src = store.NewPostgres(db)
	}

	var queryCache *cache.QueryCache
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, query caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		queryCache = cache.New(redisClient, cfg.Redis.CacheTTL)
		slog.Info("query cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	if cfg.Kafka.Enabled {
		kcfg := cfg.Kafka
		host, _ := os.Hostname()
		// Every searcher must see every build, so each gets its own group.
		kcfg.ConsumerGroup = fmt.Sprintf("%s-searcher-%s", kcfg.ConsumerGroup, host)
		builds := kafka.NewConsumer(kcfg, kcfg.Topics.IndexBuilt,
			consumer.HandleIndexBuilt(cfg.Corpus.Name, func(ctx context.Context, _ kafka.IndexBuilt) error {
				_, err := reloader.Reload(ctx)
				return err
			}))
		go func() {
			if err := builds.Start(ctx); err != nil && ctx.Err() == nil {
				slog.Error("index-built consumer error", "error", err)
			}
		}()
		slog.Info("following index builds", "topic", kcfg.Topics.IndexBuilt, "group", kcfg.ConsumerGroup)
	} else if cfg.Search.ReloadInterval > 0 {
		go reloader.Poll(ctx, cfg.Search.ReloadInterval)
		slog.Info("polling for index builds", "interval", cfg.Search.ReloadInterval)
	}

	checker := health.NewChecker()
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		ix := holder.Current()
		if ix == nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: "no index loaded"}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: "build " + ix.BuildID}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		return health.Degradable(redisClient.Ping)(ctx)
	})
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if db == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		return health.Degradable(db.Ping)(ctx)
	})

	exec := executor.New(holder, src, executor.Options{
		DefaultLimit:   cfg.Search.DefaultLimit,
		MaxResults:     cfg.Search.MaxResults,
		MaxDescriptors: cfg.Search.MaxDescriptors,
		K:              cfg.Forest.K,
		Timeout:        cfg.Search.Timeout,
	}).WithMetrics(m)
	h := handler.New(exec, holder, queryCache)

	if cfg.Kafka.Enabled && cfg.Search.QueryLog.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.QueryLog)
		defer producer.Close()
		queryLog := collector.NewBatchCollector(producer, cfg.Search.QueryLog.BatchSize, cfg.Search.QueryLog.FlushInterval)
		queryLog.Start(ctx)
		defer func() {
			stop()
			queryLog.Close()
		}()
		h.WithQueryLog(queryLog)
	}

	mux := http.NewServeMux()
	h.Mount(mux)
	checker.Mount(mux)

	mws := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.Metrics(m),
		middleware.CORS(middleware.DefaultCORSConfig()),
	}
	if cfg.Auth.Enabled {
		if db == nil {
			return fmt.Errorf("auth.enabled needs postgres for api keys")
		}
		limiter := ratelimit.New(10 * time.Minute)
		go limiter.Run(ctx)
		mws = append(mws, auth.Middleware(apikey.New(db), limiter, m))
		slog.Info("api key auth enabled")
	}
	if cfg.RateLimit.Enabled {
		mws = append(mws, middleware.RateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst), m))
	}
	mws = append(mws, middleware.Timeout(cfg.Server.WriteTimeout))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, mws...),
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

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
