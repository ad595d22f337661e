package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	_ "modernc.org/sqlite" // driver registration

	"github.com/AntonStoeckl/eventstore-projections-go/config"
	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
	"github.com/AntonStoeckl/eventstore-projections-go/eventstore/oteladapters"
	"github.com/AntonStoeckl/eventstore-projections-go/eventstore/redisengine"
	"github.com/AntonStoeckl/eventstore-projections-go/eventstore/sqlengine"
	"github.com/AntonStoeckl/eventstore-projections-go/example/orders"
	"github.com/AntonStoeckl/eventstore-projections-go/projections"
	"github.com/AntonStoeckl/eventstore-projections-go/projections/sqlrepo"
)

const (
	instrumentationName = "github.com/AntonStoeckl/eventstore-projections-go/cmd/projector"

	logMsgStarted       = "projector: started"
	logMsgRebuildsRan   = "projector: rebuild pass finished"
	logMsgRebuildFailed = "projector: rebuild pass failed"
	logMsgShutdown      = "projector: shutting down"
	logAttrInstance     = "instance"
	logAttrDialect      = "dialect"
	logAttrRebuilds     = "rebuilds"
	logAttrIndexStateKV = "index_state_store"
	logAttrError        = "error"
	indexStateKVSQL     = "sql"
	indexStateKVRedis   = "redis"
)

// storage bundles the stores one database connection provides.
type storage struct {
	store   *sqlengine.EventStore
	backend *sqlrepo.Backend
	close   func()
}

func openStorage(cfg config.Config, logger *slog.Logger) (storage, error) {
	dialect := cfg.SQLDialect()

	storeOptions := []sqlengine.Option{
		sqlengine.WithDialect(dialect),
		sqlengine.WithTableName(cfg.EventsTable),
		sqlengine.WithItemsTableName(cfg.ItemsTable),
		sqlengine.WithLogger(logger),
		sqlengine.WithContextualLogger(oteladapters.NewSlogBridgeLoggerWithHandler(instrumentationName, logger.Handler())),
		sqlengine.WithMetrics(oteladapters.NewMetricsCollector(otel.Meter(instrumentationName))),
		sqlengine.WithTracing(oteladapters.NewTracingCollector(otel.Tracer(instrumentationName))),
	}

	backendOptions := []sqlrepo.Option{
		sqlrepo.WithDialect(dialect),
		sqlrepo.WithTablePrefix(cfg.IndexPrefix),
		sqlrepo.WithLogger(logger),
	}

	if dialect == sqlengine.DialectSQLite {
		db, err := sql.Open("sqlite", cfg.DatabaseURL)
		if err != nil {
			return storage{}, err
		}

		db.SetMaxOpenConns(1)

		return newStorage(
			func() (*sqlengine.EventStore, error) { return sqlengine.NewEventStoreFromSQLDB(db, storeOptions...) },
			func() (*sqlrepo.Backend, error) { return sqlrepo.NewFromSQLDB(db, backendOptions...) },
			func() { _ = db.Close() },
		)
	}

	poolConfig, err := cfg.PGXPoolConfig()
	if err != nil {
		return storage{}, err
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return storage{}, err
	}

	if cfg.ReplicaDatabaseURL == "" {
		return newStorage(
			func() (*sqlengine.EventStore, error) { return sqlengine.NewEventStoreFromPGXPool(pool, storeOptions...) },
			func() (*sqlrepo.Backend, error) { return sqlrepo.NewFromPGXPool(pool, backendOptions...) },
			pool.Close,
		)
	}

	replicaConfig, err := cfg.ReplicaPGXPoolConfig()
	if err != nil {
		pool.Close()
		return storage{}, err
	}

	replica, err := pgxpool.NewWithConfig(context.Background(), replicaConfig)
	if err != nil {
		pool.Close()
		return storage{}, err
	}

	return newStorage(
		func() (*sqlengine.EventStore, error) {
			return sqlengine.NewEventStoreFromPGXPoolAndReplica(pool, replica, storeOptions...)
		},
		func() (*sqlrepo.Backend, error) { return sqlrepo.NewFromPGXPool(pool, backendOptions...) },
		func() {
			replica.Close()
			pool.Close()
		},
	)
}

func newStorage(
	newStore func() (*sqlengine.EventStore, error),
	newBackend func() (*sqlrepo.Backend, error),
	closeFn func(),
) (storage, error) {

	store, err := newStore()
	if err != nil {
		closeFn()
		return storage{}, err
	}

	backend, err := newBackend()
	if err != nil {
		closeFn()
		return storage{}, err
	}

	return storage{store: store, backend: backend, close: closeFn}, nil
}

// indexStateStore returns the KeyValueStore for index and rebuild states: Redis if configured, else the SQL items table.
func indexStateStore(ctx context.Context, cfg config.Config, fallback eventstore.KeyValueStore, logger *slog.Logger) (eventstore.KeyValueStore, func(), string, error) {
	if cfg.RedisAddr == "" {
		return fallback, func() {}, indexStateKVSQL, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	kv, err := redisengine.NewStore(client, redisengine.WithLogger(logger))
	if err != nil {
		_ = client.Close()
		return nil, nil, "", err
	}

	if err = kv.Initialize(ctx); err != nil {
		_ = client.Close()
		return nil, nil, "", err
	}

	return kv, func() { _ = client.Close() }, indexStateKVRedis, nil
}

// run rebuilds, tails the event log every TailInterval and repeats the rebuild pass every RebuildInterval until ctx is done.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	s, err := openStorage(cfg, logger)
	if err != nil {
		return err
	}
	defer s.close()

	if err = s.store.Initialize(ctx); err != nil {
		return err
	}

	kv, closeKV, kvName, err := indexStateStore(ctx, cfg, s.store, logger)
	if err != nil {
		return err
	}
	defer closeKV()

	options := []projections.Option{
		projections.WithStallThreshold(cfg.StallThreshold),
		projections.WithLockPrecision(cfg.LockPrecision),
		projections.WithReplayChunkSize(cfg.ReplayChunkSize),
		projections.WithLogger(logger),
		projections.WithMetrics(oteladapters.NewMetricsCollector(otel.Meter(instrumentationName))),
		projections.WithTracing(oteladapters.NewTracingCollector(otel.Tracer(instrumentationName))),
	}

	registry := projections.NewRegistry(s.backend, kv, options...)
	defer func() { _ = registry.Close() }()

	engine := projections.NewEngine(s.store, registry, kv, options...)
	if err = engine.Register(orders.NewSummariesBuilder(orders.NewTypeRegistry())); err != nil {
		return err
	}

	// Events appended by other processes never reach this store's notifier, so they are tailed.
	tail := newTailer(s.store, engine, kv, cfg.InstanceName, cfg.ReplayChunkSize, cfg.StallThreshold, logger)
	if err = tail.init(ctx, time.Now()); err != nil {
		return err
	}

	logger.Info(logMsgStarted, logAttrInstance, cfg.InstanceName, logAttrDialect, string(cfg.SQLDialect()), logAttrIndexStateKV, kvName)

	rebuildOptions := projections.RebuildOptions{
		InstanceName: cfg.InstanceName,
		ReplicaReads: cfg.ReplicaDatabaseURL != "",
	}

	rebuildPass(ctx, engine, rebuildOptions, logger)

	rebuildTicker := time.NewTicker(cfg.RebuildInterval)
	defer rebuildTicker.Stop()

	tailTicker := time.NewTicker(cfg.TailInterval)
	defer tailTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(logMsgShutdown, logAttrInstance, cfg.InstanceName)
			return nil
		case <-rebuildTicker.C:
			rebuildPass(ctx, engine, rebuildOptions, logger)
		case <-tailTicker.C:
			tailPass(ctx, tail, logger)
		}
	}
}

func rebuildPass(ctx context.Context, engine *projections.Engine, options projections.RebuildOptions, logger *slog.Logger) {
	instanceName := options.InstanceName
	states, err := engine.StartRebuild(ctx, options)

	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		logger.Error(logMsgRebuildFailed, logAttrInstance, instanceName, logAttrError, err.Error())
	case len(states) > 0:
		logger.Info(logMsgRebuildsRan, logAttrInstance, instanceName, logAttrRebuilds, len(states))
	}
}
