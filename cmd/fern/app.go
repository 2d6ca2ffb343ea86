package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/repositories/blockingmap"
	"github.com/Ramsey-B/fern/internal/repositories/facility"
	"github.com/Ramsey-B/fern/internal/repositories/facilitylistitem"
	"github.com/Ramsey-B/fern/internal/repositories/facilitymatch"
	"github.com/Ramsey-B/fern/internal/repositories/source"
	"github.com/Ramsey-B/fern/internal/repositories/trainedmodel"
	"github.com/Ramsey-B/fern/pkg/activeversion"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/gazetteer"
	"github.com/Ramsey-B/fern/pkg/linkage"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/processor"
	"github.com/Ramsey-B/fern/pkg/retrain"
)

// app holds the storage-backed components every subcommand shares.
type app struct {
	cfg    config.Config
	logger ectologger.Logger

	db    database.DB
	redis *redis.Client

	facilities *facility.Repository
	items      *facilitylistitem.Repository
	matches    *facilitymatch.Repository
	sources    *source.Repository
	artifacts  *trainedmodel.Repository
	blocks     *blockingmap.Repository

	versions *activeversion.Source
	cache    *gazetteer.Cache
}

func databaseConfig(cfg config.Config) database.Config {
	return database.Config{
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		User:            cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}
}

func matchDefaults(cfg config.Config) models.MatchDefaults {
	return models.MatchDefaults{
		AutomaticThreshold: cfg.AutomaticThreshold,
		GazetteerThreshold: cfg.GazetteerThreshold,
		RecallWeight:       cfg.RecallWeight,
		MaxCandidates:      cfg.MaxCandidates,
	}
}

func trainOptions(cfg config.Config) linkage.TrainOptions {
	return linkage.TrainOptions{MaxPairs: cfg.TrainingMaxPairs}
}

func newApp(rt *runtime) *app {
	return &app{cfg: rt.cfg, logger: rt.logger}
}

// connectDatabase opens the pool and builds the repositories on top of it.
func (a *app) connectDatabase(ctx context.Context) error {
	db, err := database.Connect(ctx, databaseConfig(a.cfg), a.logger)
	if err != nil {
		return err
	}
	a.db = db

	a.facilities = facility.NewRepository(db, a.logger)
	a.items = facilitylistitem.NewRepository(db, a.logger)
	a.matches = facilitymatch.NewRepository(db, a.logger)
	a.sources = source.NewRepository(db, a.logger)
	a.artifacts = trainedmodel.NewRepository(db, a.logger)
	a.blocks = blockingmap.NewRepository(db, a.logger)
	return nil
}

// connectRedis is a no-op unless Redis is enabled.
func (a *app) connectRedis(ctx context.Context) error {
	if !a.cfg.RedisEnabled {
		return nil
	}
	rdb, err := activeversion.NewRedisClient(ctx, activeversion.Config{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
		TTL:      a.cfg.RedisKeyTTL,
	})
	if err != nil {
		return err
	}
	a.redis = rdb
	return nil
}

// buildGazetteer wires the active-version source and the model cache. It
// needs connectDatabase and, when enabled, connectRedis to have run.
func (a *app) buildGazetteer() {
	var rdb redis.UniversalClient
	if a.redis != nil {
		rdb = a.redis
	}
	a.versions = activeversion.NewSource(a.artifacts, rdb, a.cfg.RedisKeyTTL, a.logger)

	a.cache = gazetteer.NewCache(a.artifacts, a.facilities, gazetteer.Config{
		PairsPath: a.cfg.TrainingPairsPath,
		Train:     trainOptions(a.cfg),
	}, a.logger,
		gazetteer.WithModelOptions(
			linkage.WithBlockingStore(a.blocks),
			linkage.WithVersionChecker(a.versions),
			linkage.WithLogger(a.logger),
		),
		gazetteer.WithVersionCache(a.versions),
	)
}

func (a *app) retrainJob() *retrain.Job {
	return retrain.NewJob(a.facilities, a.artifacts, a.blocks, a.versions, retrain.Config{
		PairsPath: a.cfg.TrainingPairsPath,
		Train:     trainOptions(a.cfg),
	}, a.logger)
}

// matchingStack builds the decision components over the shared cache.
func (a *app) matchingStack(opts ...processor.PipelineOption) (*processor.Pipeline, *processor.Moderator) {
	exact := matching.NewExactMatcher(a.items, a.cfg.CodeVersion, a.logger)
	orchestrator := matching.NewOrchestrator(a.cache, a.facilities, a.cfg.CodeVersion, a.logger)

	hooks := processor.NewIndexHooks(a.cache, a.logger)
	engine := processor.NewDecisionEngine(a.facilities, a.matches, a.items, hooks, a.logger)
	moderator := processor.NewModerator(a.db, engine, a.facilities, a.matches, a.items, a.sources, hooks, a.logger)
	pipeline := processor.NewPipeline(a.db, a.sources, a.items, exact, orchestrator, engine, matchDefaults(a.cfg), a.logger, opts...)
	return pipeline, moderator
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close Redis client")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close database")
		}
	}
}

// commandContext bounds one-shot subcommands.
func commandContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

func (a *app) migrate() error {
	instance, ok := a.db.(*database.DatabaseInstance)
	if !ok {
		return fmt.Errorf("migrations need a postgres connection, got %T", a.db)
	}
	svc := database.NewMigrationService(a.logger, &database.MigrationConfig{
		MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
		Version:             a.cfg.DatabaseMigrationVersion,
		Force:               a.cfg.DatabaseMigrationForce,
		AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
	})
	return svc.Migrate(instance.DB.DB, a.cfg.DatabaseName)
}
