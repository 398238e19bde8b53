package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/asanchezmanas/tactics/internal/config"
	"github.com/asanchezmanas/tactics/internal/pipeline"
	"github.com/asanchezmanas/tactics/internal/pkg/distlock"
	"github.com/asanchezmanas/tactics/internal/pkg/logger"
	"github.com/asanchezmanas/tactics/internal/registry"
	"github.com/asanchezmanas/tactics/internal/repository/postgres"
)

// deps is the wired backend shared by serve, run and snapshots.
type deps struct {
	cfg         *config.Config
	db          *sql.DB
	redisClient *redis.Client
	registry    *registry.Registry
	predictions *postgres.PredictionRepo
	allocations *postgres.AllocationRepo
	pipeline    *pipeline.Pipeline
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openDeps wires the full backend. Without a database URL the engine falls
// back to an in-memory snapshot store and skips prediction persistence,
// which is enough for local one-shot runs.
func openDeps(ctx context.Context) (*deps, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	d := &deps{cfg: cfg}

	var store registry.Store
	if cfg.Database.URL != "" {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}

		d.db = db
		store = postgres.NewSnapshotStore(db)
		d.predictions = postgres.NewPredictionRepo(db)
		d.allocations = postgres.NewAllocationRepo(db)
		logger.Info("database connected")
	} else {
		store = registry.NewMemoryStore()
		logger.Warn("no database configured, snapshots are in-memory only")
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis unreachable, falling back to advisory locks", "addr", cfg.Redis.Addr, "error", err)
			client.Close()
		} else {
			d.redisClient = client
			logger.Info("redis connected", "addr", cfg.Redis.Addr)
		}
	}

	// Locking degrades gracefully: Redis when reachable, Postgres advisory
	// locks otherwise, none for pure in-memory runs.
	var newLock registry.LockFactory
	if d.redisClient != nil || d.db != nil {
		redisClient, db, ttl := d.redisClient, d.db, cfg.Redis.LockTTL()
		newLock = func(key string) distlock.DistLock {
			return distlock.NewLock(redisClient, db, key, ttl)
		}
	}

	d.registry = registry.New(store, newLock, cfg.Registry.StaleAfter())

	// nil stores are valid: the pipeline then publishes snapshots only.
	var predictions pipeline.PredictionStore
	var allocations pipeline.AllocationStore
	if d.predictions != nil {
		predictions = d.predictions
	}
	if d.allocations != nil {
		allocations = d.allocations
	}
	d.pipeline = pipeline.New(cfg, d.registry, predictions, allocations)

	return d, nil
}

func (d *deps) close() {
	if d.redisClient != nil {
		d.redisClient.Close()
	}
	if d.db != nil {
		d.db.Close()
	}
}
