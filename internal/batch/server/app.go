package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/scoutbatch-go/internal/batch/adapters/db"
	"github.com/scoutbatch-go/internal/batch/adapters/elasticsearch"
	"github.com/scoutbatch-go/internal/batch/adapters/stream"
	"github.com/scoutbatch-go/internal/batch/app/service"
	"github.com/scoutbatch-go/internal/batch/app/store"
	"github.com/scoutbatch-go/internal/batch/ports"
	"github.com/scoutbatch-go/pkg/cache"
	"github.com/scoutbatch-go/pkg/config"
	"github.com/scoutbatch-go/pkg/database"
	"github.com/scoutbatch-go/pkg/logger"
)

// App holds the batching core shared by the server and the CLI commands.
type App struct {
	Config  *config.Config
	Logger  logger.Logger
	Redis   *redis.Client
	Store   *store.Store
	Catalog *service.Catalog
	Service *service.BatchService
	Indexer *elasticsearch.Indexer
	DB      *database.DB
	Stream  *stream.Hub
}

func NewApp(cfg *config.Config, log logger.Logger) (*App, error) {
	// Initialize Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	// Test Redis connection
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	cacheOpts := cache.DefaultOptions()
	cacheOpts.MaxTxRetries = cfg.Batching.MaxConflictRetries
	st := store.New(cache.NewRedisCache(redisClient, cacheOpts), store.NewKeyBuilder(cfg.Batching.CacheKeyPrefix))

	// Initialize Elasticsearch client
	esClient, err := elasticsearch.NewClient(cfg.Elasticsearch.Addresses, cfg.Elasticsearch.Username, cfg.Elasticsearch.Password)
	if err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}
	esCfg := elasticsearch.DefaultConfig()
	esCfg.IndexPrefix = cfg.Elasticsearch.IndexPrefix
	esCfg.Refresh = cfg.Elasticsearch.Refresh
	indexer := elasticsearch.NewIndexer(esClient, esCfg, log)

	app := &App{
		Config:  cfg,
		Logger:  log,
		Redis:   redisClient,
		Store:   st,
		Catalog: service.NewCatalog(),
		Indexer: indexer,
		Stream:  stream.NewHub(log),
	}

	var source ports.RecordSource
	if cfg.Database.Enabled {
		// Initialize database
		conn, err := database.New(cfg.Database.ToDatabaseConfig(), log)
		if err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		app.DB = conn

		tables := db.NewSource(conn)
		for _, e := range cfg.Batching.Entities {
			tables.RegisterTable(e.Type, tableFor(e), keyColumnFor(e), e.SoftDeletes)
		}
		source = tables
	}

	if err := app.bindEntities(source); err != nil {
		_ = app.Close()
		return nil, err
	}

	app.Service = service.NewBatchService(st, app.Catalog, service.Config{
		MaxBatchSize:     cfg.Batching.MaxBatchSize,
		DebounceInterval: cfg.Batching.DebounceInterval(),
	}, log, service.WithObserver(app.Stream))

	for _, w := range cfg.Warnings() {
		log.Warn("Questionable configuration", "detail", w)
	}

	return app, nil
}

func (a *App) bindEntities(source ports.RecordSource) error {
	for _, e := range a.Config.Batching.Entities {
		if err := a.Catalog.Bind(service.Binding{
			EntityType:  e.Type,
			Indexer:     a.Indexer,
			Source:      source,
			SoftDeletes: e.SoftDeletes,
		}); err != nil {
			return fmt.Errorf("failed to bind %s: %w", e.Type, err)
		}
	}
	a.Logger.Info("Bound entity types", "types", a.Catalog.Types())
	return nil
}

func (a *App) Close() error {
	var errs []error
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if err := a.Redis.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close redis: %w", err))
	}
	return errors.Join(errs...)
}

func tableFor(e config.EntityConfig) string {
	if e.Table != "" {
		return e.Table
	}
	return e.Type
}

func keyColumnFor(e config.EntityConfig) string {
	if e.KeyColumn != "" {
		return e.KeyColumn
	}
	return "id"
}
