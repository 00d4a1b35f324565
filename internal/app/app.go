// Package app initializes and holds long-lived application services,
// acting as the dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/changhorizon/content-collector/internal/api"
	"github.com/changhorizon/content-collector/internal/clock/system"
	"github.com/changhorizon/content-collector/internal/collector"
	"github.com/changhorizon/content-collector/internal/config"
	"github.com/changhorizon/content-collector/internal/counter"
	"github.com/changhorizon/content-collector/internal/dispatcher"
	collyfetcher "github.com/changhorizon/content-collector/internal/fetcher/colly"
	"github.com/changhorizon/content-collector/internal/hash/sha256"
	"github.com/changhorizon/content-collector/internal/id/uuid"
	"github.com/changhorizon/content-collector/internal/limiter"
	"github.com/changhorizon/content-collector/internal/logging"
	"github.com/changhorizon/content-collector/internal/media"
	"github.com/changhorizon/content-collector/internal/metrics"
	goqueryparser "github.com/changhorizon/content-collector/internal/parser/goquery"
	"github.com/changhorizon/content-collector/internal/pipeline"
	"github.com/changhorizon/content-collector/internal/policy"
	pubmemory "github.com/changhorizon/content-collector/internal/publisher/memory"
	"github.com/changhorizon/content-collector/internal/publisher/pubsub"
	"github.com/changhorizon/content-collector/internal/queue/memory"
	"github.com/changhorizon/content-collector/internal/scheduler"
	"github.com/changhorizon/content-collector/internal/storage/postgres"
	"github.com/changhorizon/content-collector/internal/worker"
)

// App holds all shared, long-lived services. It is built once at startup
// and fails fast when a critical service cannot be initialized.
type App struct {
	Config     config.Config
	Logger     *zap.Logger
	Store      *postgres.Store
	Queue      *memory.Queue
	Publisher  collector.Publisher
	Starter    *pipeline.Starter
	Dispatcher *dispatcher.Dispatcher
	Server     *api.Server

	redisClient *redis.Client
}

// New wires every service from configuration.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	metrics.Init()

	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	store, err := postgres.New(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		logger.Info("redis fast path enabled", zap.String("addr", cfg.Redis.Addr))
	} else {
		logger.Info("redis disabled, durable fallbacks only")
	}

	var pub collector.Publisher
	if cfg.PubSub.Enabled {
		p, err := pubsub.Connect(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("connect pubsub: %w", err)
		}
		pub = p
	} else {
		pub = pubmemory.New()
	}

	clk := system.New()
	hasher := sha256.New()
	ids := uuid.New()
	q := memory.NewQueue(cfg.Workers.QueueDepth)

	counters := counter.NewProvider(redisClient, cfg.Redis.TaskCountPrefix, logger)
	lim := limiter.New(redisClient, store, logger)

	fetcher := collyfetcher.New(hasher)
	parser := goqueryparser.New()
	downloader := media.NewDownloader(cfg.Storage.MediaRoot, logger)

	crawlPolicy := policy.NewCrawlPolicy(store)
	persistPolicy := policy.NewPersistencePolicy(store)

	pageSched := scheduler.NewPageScheduler(store, crawlPolicy, counters, clk, logger)
	mediaSched := scheduler.NewMediaScheduler(q)
	finalizer := pipeline.NewTaskFinalizer(store, store, pub, cfg.PubSub.TopicName, clk, logger)

	fetchStage := pipeline.NewFetchStage(store, store, crawlPolicy, persistPolicy, fetcher, finalizer, q, clk, logger)
	parseStage := pipeline.NewParseStage(
		store, store, persistPolicy, parser, pageSched, mediaSched, finalizer, q, clk, logger,
	)
	mediaStage := pipeline.NewMediaStage(store, store, lim, downloader, hasher, clk, logger)
	starter := pipeline.NewStarter(store, store, fetcher, q, ids, clk, logger)

	base := worker.Config{
		MaxAttempts: cfg.Workers.MaxAttempts,
		JobTimeout:  time.Duration(cfg.Workers.JobTimeoutSeconds) * time.Second,
		RetryDelay:  time.Duration(cfg.Workers.RetryDelayMs) * time.Millisecond,
	}
	crawlCfg := base
	crawlCfg.Queue = cfg.Queues.Crawl
	crawlCfg.Concurrency = cfg.Workers.CrawlConcurrency
	parseCfg := base
	parseCfg.Queue = cfg.Queues.Parse
	parseCfg.Concurrency = cfg.Workers.ParseConcurrency
	mediaCfg := base
	mediaCfg.Queue = cfg.Queues.Media
	mediaCfg.Concurrency = cfg.Workers.MediaConcurrency

	disp := dispatcher.New(
		worker.New(q, fetchStage, parseStage, mediaStage, crawlCfg, logger),
		worker.New(q, fetchStage, parseStage, mediaStage, parseCfg, logger),
		worker.New(q, fetchStage, parseStage, mediaStage, mediaCfg, logger),
	)

	server := api.NewServer(store, store, starter, cfg.ToParams(), logger)

	logger.Info("application services initialized")
	return &App{
		Config:      cfg,
		Logger:      logger,
		Store:       store,
		Queue:       q,
		Publisher:   pub,
		Starter:     starter,
		Dispatcher:  disp,
		Server:      server,
		redisClient: redisClient,
	}, nil
}

// Close shuts down all services in the container.
func (a *App) Close() {
	a.Logger.Info("shutting down application services")
	a.Queue.Close()
	a.Store.Close()
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.Logger.Warn("error closing redis client", zap.Error(err))
		}
	}
	if closer, ok := a.Publisher.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			a.Logger.Warn("error closing publisher", zap.Error(err))
		}
	}
	_ = a.Logger.Sync()
}
