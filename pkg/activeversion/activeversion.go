// Package activeversion answers "which trained model artifact is active" for
// every process, caching the answer in Redis.
package activeversion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

const DefaultKey = "fern:gazetteer:active-model"

// Store reads the active artifact ID from durable storage. An empty ID means none is active.
type Store interface {
	ActiveID(ctx context.Context) (string, error)
}

// Source resolves the active model version, reading through Redis when a client is configured.
type Source struct {
	store  Store
	rdb    redis.UniversalClient
	key    string
	ttl    time.Duration
	logger ectologger.Logger
}

// Config holds the Redis connection used for caching.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// NewSource returns a Source. rdb may be nil, in which case every call reads the store.
func NewSource(store Store, rdb redis.UniversalClient, ttl time.Duration, logger ectologger.Logger) *Source {
	return &Source{
		store:  store,
		rdb:    rdb,
		key:    DefaultKey,
		ttl:    ttl,
		logger: logger,
	}
}

// ActiveVersion returns the active artifact ID. Redis failures fall back to the store.
func (s *Source) ActiveVersion(ctx context.Context) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "activeversion.Source.ActiveVersion")
	defer span.End()

	if s.rdb != nil {
		version, err := s.rdb.Get(ctx, s.key).Result()
		switch {
		case err == nil:
			return version, nil
		case !errors.Is(err, redis.Nil):
			s.logger.WithContext(ctx).WithError(err).Warn("Failed to read active model version from redis")
		}
	}

	version, err := s.store.ActiveID(ctx)
	if err != nil {
		return "", err
	}

	if s.rdb != nil && version != "" {
		if err := s.rdb.Set(ctx, s.key, version, s.ttl).Err(); err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("Failed to cache active model version in redis")
		}
	}
	return version, nil
}

// Invalidate drops the cached version so the next lookup reads the store.
func (s *Source) Invalidate(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate active model version: %w", err)
	}
	s.logger.WithContext(ctx).Info("Invalidated cached active model version")
	return nil
}
