// Package main wires together the focus-collection service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/lensfeed/focus-collector/internal/adapter/darknet"
	"github.com/lensfeed/focus-collector/internal/adapter/search"
	"github.com/lensfeed/focus-collector/internal/adapter/social"
	"github.com/lensfeed/focus-collector/internal/adapter/web"
	"github.com/lensfeed/focus-collector/internal/api"
	"github.com/lensfeed/focus-collector/internal/clock/system"
	"github.com/lensfeed/focus-collector/internal/collector"
	"github.com/lensfeed/focus-collector/internal/config"
	"github.com/lensfeed/focus-collector/internal/dispatcher"
	"github.com/lensfeed/focus-collector/internal/events"
	"github.com/lensfeed/focus-collector/internal/expand"
	"github.com/lensfeed/focus-collector/internal/focus"
	"github.com/lensfeed/focus-collector/internal/id/uuid"
	"github.com/lensfeed/focus-collector/internal/logging"
	"github.com/lensfeed/focus-collector/internal/metrics"
	"github.com/lensfeed/focus-collector/internal/proxy"
	"github.com/lensfeed/focus-collector/internal/queue"
	queueMemory "github.com/lensfeed/focus-collector/internal/queue/memory"
	storeMemory "github.com/lensfeed/focus-collector/internal/store/memory"
	storePostgres "github.com/lensfeed/focus-collector/internal/store/postgres"
	"github.com/lensfeed/focus-collector/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.NewUUIDGenerator()

	registry := prometheus.NewRegistry()
	recorder, err := metrics.NewRecorder(registry)
	if err != nil {
		logger.Fatal("metrics init failed", zap.Error(err))
	}

	runs, catalog, content, closeStores, err := buildStores(ctx, cfg, clock, logger)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer closeStores()

	bus := events.NewBus(logger.Named("events"))

	backoffInitial, backoffMax := cfg.QueueBackoff()
	jobQueue := queueMemory.NewQueue(cfg.Queue.Depth, queueMemory.Config{
		MaxAttempts: cfg.Queue.MaxAttempts,
		Backoff:     queue.NewExponentialBackoff(backoffInitial, backoffMax),
	}, logger.Named("queue"))
	defer jobQueue.Close()

	var renderer web.Renderer
	if cfg.Headless.Enabled {
		chromeRenderer, rendererErr := web.NewChromedpRenderer(web.RendererConfig{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTTP.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if rendererErr != nil {
			logger.Warn("headless renderer init failed", zap.Error(rendererErr))
		} else {
			renderer = chromeRenderer
		}
	}

	adapters := []focus.SourceAdapter{
		web.New(web.Config{
			UserAgent: cfg.HTTP.UserAgent,
			Timeout:   cfg.HTTPTimeout(),
		}, renderer, logger.Named("web")),
		darknet.New(darknet.Config{
			UserAgent: cfg.HTTP.UserAgent,
			Timeout:   cfg.HTTPTimeout(),
		}, logger.Named("darknet")),
		search.New(search.Config{
			UserAgent: cfg.HTTP.UserAgent,
			Timeout:   cfg.HTTPTimeout(),
		}, logger.Named("search")),
		social.New(social.Config{
			UserAgent: cfg.HTTP.UserAgent,
			Timeout:   cfg.HTTPTimeout(),
		}, logger.Named("social")),
	}

	var expander focus.Expander
	if cfg.Expand.Endpoint != "" {
		client, expandErr := expand.New(expand.Config{
			Endpoint: cfg.Expand.Endpoint,
			APIKey:   cfg.Expand.APIKey,
			Timeout:  time.Duration(cfg.Expand.TimeoutSeconds) * time.Second,
			MaxTerms: cfg.Expand.MaxTerms,
		}, logger.Named("expand"))
		if expandErr != nil {
			logger.Warn("expander init failed", zap.Error(expandErr))
		} else {
			expander = client
		}
	}

	coll := collector.New(
		catalog,
		runs,
		content,
		proxy.NewResolver(catalog, logger.Named("proxy")),
		adapters,
		expander,
		bus,
		recorder,
		idGen,
		clock,
		collector.Config{
			ParallelSources: cfg.Collector.ParallelSources,
			SourceTimeout:   cfg.SourceTimeout(),
		},
		logger.Named("collector"),
	)

	var workers []*worker.Worker
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(
			jobQueue,
			runs,
			coll,
			bus,
			clock,
			recorder,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(jobQueue, workers)

	apiServer := api.NewServer(
		runs,
		catalog,
		dispatch,
		bus,
		bus,
		idGen,
		clock,
		cfg,
		registry,
		logger.Named("api"),
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", cfg.Worker.Concurrency))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// buildStores selects Postgres when a DSN is configured, otherwise the
// in-memory implementations.
func buildStores(
	ctx context.Context,
	cfg config.Config,
	clock focus.Clock,
	logger *zap.Logger,
) (focus.RunStore, focus.CatalogStore, focus.ContentStore, func(), error) {
	if cfg.DB.DSN == "" {
		logger.Info("using in-memory stores")
		return storeMemory.NewRunStore(clock), storeMemory.NewCatalog(), storeMemory.NewContentStore(), func() {}, nil
	}

	pool, err := storePostgres.NewPool(ctx, storePostgres.PoolConfig{
		DSN:             cfg.DB.DSN,
		MaxConns:        int32(cfg.DB.MaxConns),
		MinConns:        int32(cfg.DB.MinConns),
		MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeMin) * time.Minute,
	})
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("postgres pool: %w", err)
	}
	runs, err := storePostgres.NewRunStore(pool, clock)
	if err != nil {
		pool.Close()
		return nil, nil, nil, nil, err
	}
	catalog, err := storePostgres.NewCatalogStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, nil, err
	}
	content, err := storePostgres.NewContentStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, nil, err
	}
	logger.Info("using postgres stores")
	return runs, catalog, content, pool.Close, nil
}
