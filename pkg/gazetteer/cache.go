// Package gazetteer holds the process-wide active record-linkage model.
//
// The cache loads the active artifact lazily, coalescing concurrent loads, and
// swaps in a fresh model when an operation reports that the artifact it was
// built from has been superseded. In-flight readers keep the model they started
// with; the lock only guards the pointer swap.
package gazetteer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/Ramsey-B/fern/internal/repositories/trainedmodel"
	"github.com/Ramsey-B/fern/pkg/linkage"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ArtifactStore persists trained model artifacts.
type ArtifactStore interface {
	// GetActive returns trainedmodel.ErrNoActiveModel when nothing is active.
	GetActive(ctx context.Context) (*models.TrainedModel, error)
	Create(ctx context.Context, blob []byte) (*models.TrainedModel, error)
	Activate(ctx context.Context, id string) error
}

// CanonicalSource lists the records the gazetteer indexes: facilities plus confirmed match records.
type CanonicalSource interface {
	CanonicalRecords(ctx context.Context) (map[string]models.Fields, error)
}

// VersionCache caches the active version outside this process.
type VersionCache interface {
	Invalidate(ctx context.Context) error
}

type Config struct {
	// PairsPath overrides the bundled labeled pairs used when no artifact exists yet.
	PairsPath string
	Train     linkage.TrainOptions
}

type Cache struct {
	artifacts ArtifactStore
	canonical CanonicalSource
	cfg       Config
	options   []linkage.Option
	versions  VersionCache
	logger    ectologger.Logger

	mu       sync.Mutex
	current  atomic.Pointer[linkage.Model]
	loadedAt time.Time
	group    singleflight.Group

	readyOnce sync.Once
	ready     chan struct{}
}

type Option func(*Cache)

// WithModelOptions sets options applied to every model the cache loads.
func WithModelOptions(options ...linkage.Option) Option {
	return func(c *Cache) { c.options = append(c.options, options...) }
}

// WithVersionCache invalidates v whenever the cache activates a freshly trained artifact.
func WithVersionCache(v VersionCache) Option {
	return func(c *Cache) { c.versions = v }
}

// NewCache returns an empty cache.
func NewCache(artifacts ArtifactStore, canonical CanonicalSource, cfg Config, logger ectologger.Logger, opts ...Option) *Cache {
	c := &Cache{
		artifacts: artifacts,
		canonical: canonical,
		cfg:       cfg,
		options:   []linkage.Option{linkage.WithLogger(logger)},
		logger:    logger,
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Warm starts loading the model in the background. Requests arriving before it
// finishes join the same load.
func (c *Cache) Warm(ctx context.Context) {
	ctx = detach(ctx)
	go func() {
		if _, err := c.model(ctx); err != nil {
			c.logger.WithContext(ctx).WithError(err).Warn("Gazetteer warm-up failed; the next request will retry")
			return
		}
		c.logger.WithContext(ctx).Info("Gazetteer warm-up complete")
	}()
}

// Ready reports whether a model has been loaded at least once.
func (c *Cache) Ready() bool {
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

// Version returns the version of the loaded model, or "" when none is loaded.
func (c *Cache) Version() string {
	if m := c.current.Load(); m != nil {
		return m.Version()
	}
	return ""
}

// Search runs a gazetteer search against the active model.
func (c *Cache) Search(ctx context.Context, queries map[string]models.Fields, threshold float64, maxMatches int) (linkage.SearchOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "gazetteer.Cache.Search")
	defer span.End()

	start := time.Now()
	var outcome linkage.SearchOutcome
	err := c.withModel(ctx, func(m *linkage.Model) error {
		var err error
		outcome, err = m.Search(ctx, queries, threshold, maxMatches)
		return err
	})
	metrics.SearchDuration.Observe(time.Since(start).Seconds())
	metrics.GazetteerOperationsTotal.WithLabelValues("search", metrics.Result(err)).Inc()
	return outcome, err
}

// Index adds or replaces records in the active model. When no model can be
// built yet because there are no canonical records, the call is a no-op: the
// records are read from storage by the first successful load.
func (c *Cache) Index(ctx context.Context, records map[string]models.Fields) error {
	ctx, span := tracing.StartSpan(ctx, "gazetteer.Cache.Index")
	defer span.End()

	err := c.withModel(ctx, func(m *linkage.Model) error {
		return m.Index(ctx, records)
	})
	if errors.Is(err, linkage.ErrNoCanonicalRecords) {
		c.logger.WithContext(ctx).WithField("records", len(records)).Debug("No gazetteer to index into yet")
		err = nil
	}
	metrics.GazetteerOperationsTotal.WithLabelValues("index", metrics.Result(err)).Inc()
	return err
}

// Unindex removes records from the active model.
func (c *Cache) Unindex(ctx context.Context, ids []string) error {
	ctx, span := tracing.StartSpan(ctx, "gazetteer.Cache.Unindex")
	defer span.End()

	err := c.withModel(ctx, func(m *linkage.Model) error {
		return m.Unindex(ctx, ids)
	})
	if errors.Is(err, linkage.ErrNoCanonicalRecords) {
		err = nil
	}
	metrics.GazetteerOperationsTotal.WithLabelValues("unindex", metrics.Result(err)).Inc()
	return err
}

// Threshold tunes a score cutoff for the given queries against the active model.
func (c *Cache) Threshold(ctx context.Context, queries map[string]models.Fields, recallWeight float64) (float64, error) {
	ctx, span := tracing.StartSpan(ctx, "gazetteer.Cache.Threshold")
	defer span.End()

	var threshold float64
	err := c.withModel(ctx, func(m *linkage.Model) error {
		var err error
		threshold, err = m.Threshold(ctx, queries, recallWeight)
		return err
	})
	return threshold, err
}

// withModel runs op against the current model. If the model turns out to be
// superseded, the active artifact is loaded and op is retried once.
func (c *Cache) withModel(ctx context.Context, op func(*linkage.Model) error) error {
	m, err := c.model(ctx)
	if err != nil {
		return err
	}

	err = op(m)
	if !errors.Is(err, linkage.ErrModelOutOfDate) {
		return err
	}

	c.logger.WithContext(ctx).WithError(err).WithField("model_version", m.Version()).Warn("Gazetteer model is out of date, reloading")
	m, err = c.load(ctx, m.Version())
	if err != nil {
		return err
	}
	return op(m)
}

func (c *Cache) model(ctx context.Context) (*linkage.Model, error) {
	if m := c.current.Load(); m != nil {
		return m, nil
	}
	return c.load(ctx, "")
}

// load coalesces concurrent loads that replace the same stale version.
// An empty staleVersion means no model has been loaded yet.
func (c *Cache) load(ctx context.Context, staleVersion string) (*linkage.Model, error) {
	trigger := "initial"
	if staleVersion != "" {
		trigger = "stale"
	}

	v, err, _ := c.group.Do("load:"+staleVersion, func() (any, error) {
		if m := c.current.Load(); m != nil && m.Version() != staleVersion {
			return m, nil
		}

		start := time.Now()
		m, createdAt, err := c.build(detach(ctx))
		metrics.ModelLoadsTotal.WithLabelValues(trigger, metrics.Result(err)).Inc()
		if err != nil {
			return nil, err
		}
		metrics.ModelLoadDuration.Observe(time.Since(start).Seconds())
		return c.swap(m, createdAt), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*linkage.Model), nil
}

// detach returns a root context carrying only the caller's span context. Loads
// are shared by every waiting caller, so they must not run in any one caller's
// transaction or be cancelled with its request.
func detach(ctx context.Context) context.Context {
	return trace.ContextWithSpanContext(context.Background(), trace.SpanContextFromContext(ctx))
}

// swap installs m unless the current model was built from the same or a newer artifact.
func (c *Cache) swap(m *linkage.Model, createdAt time.Time) *linkage.Model {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current := c.current.Load(); current != nil {
		if current.Version() == m.Version() || createdAt.Before(c.loadedAt) {
			c.logger.WithFields(map[string]any{
				"model_version":   m.Version(),
				"current_version": current.Version(),
			}).Debug("Discarding gazetteer model older than the one installed")
			return current
		}
	}
	c.current.Store(m)
	c.loadedAt = createdAt
	c.readyOnce.Do(func() { close(c.ready) })
	return m
}

// build reads the active artifact, training and activating one if none exists,
// and indexes every canonical record into it. It also returns the artifact's
// creation time.
func (c *Cache) build(ctx context.Context) (*linkage.Model, time.Time, error) {
	ctx, span := tracing.StartSpan(ctx, "gazetteer.Cache.build")
	defer span.End()

	log := c.logger.WithContext(ctx)

	canonical, err := c.canonical.CanonicalRecords(ctx)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to read canonical records: %w", err)
	}

	artifact, err := c.artifacts.GetActive(ctx)
	if errors.Is(err, trainedmodel.ErrNoActiveModel) {
		log.Info("No active gazetteer artifact, training one")
		artifact, err = c.train(ctx, canonical)
	}
	if err != nil {
		return nil, time.Time{}, err
	}

	trained, err := linkage.Decode(artifact.Blob)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to decode artifact %s: %w", artifact.ID, err)
	}

	m := linkage.NewModel(artifact.ID, trained, c.options...)
	if err := m.Index(ctx, canonical); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to index canonical records: %w", err)
	}

	log.WithFields(map[string]any{
		"model_version": artifact.ID,
		"records":       m.Size(),
		"predicates":    m.Predicates(),
	}).Info("Loaded gazetteer model")
	return m, artifact.CreatedAt, nil
}

func (c *Cache) train(ctx context.Context, canonical map[string]models.Fields) (*models.TrainedModel, error) {
	pairs, err := linkage.LoadPairs(c.cfg.PairsPath)
	if err != nil {
		return nil, err
	}
	trained, err := linkage.Train(ctx, c.logger, pairs, canonical, c.cfg.Train)
	if err != nil {
		return nil, err
	}
	blob, err := trained.Encode()
	if err != nil {
		return nil, err
	}

	artifact, err := c.artifacts.Create(ctx, blob)
	if err != nil {
		return nil, err
	}
	if err := c.artifacts.Activate(ctx, artifact.ID); err != nil {
		return nil, err
	}
	artifact.IsActive = true

	if c.versions != nil {
		if err := c.versions.Invalidate(ctx); err != nil {
			return nil, err
		}
	}
	return artifact, nil
}
