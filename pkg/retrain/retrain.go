// Package retrain trains a new gazetteer artifact, indexes the canonical
// records under it and activates it once the index is complete.
package retrain

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/linkage"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type CanonicalSource interface {
	CanonicalRecords(ctx context.Context) (map[string]models.Fields, error)
	CanonicalRecordsByKeys(ctx context.Context, keys []string) (map[string]models.Fields, error)
}

type ArtifactStore interface {
	ActiveID(ctx context.Context) (string, error)
	Create(ctx context.Context, blob []byte) (*models.TrainedModel, error)
	Activate(ctx context.Context, id string) error
}

// BlockStore is the durable blocking map shared by every model version.
type BlockStore interface {
	linkage.BlockingStore
	RecordIDsMissingFrom(ctx context.Context, fromVersion, toVersion string) ([]string, error)
	DeleteVersion(ctx context.Context, modelVersion string) error
}

type VersionCache interface {
	Invalidate(ctx context.Context) error
}

type Config struct {
	// PairsPath overrides the bundled training pairs.
	PairsPath string
	Train     linkage.TrainOptions
}

// Report describes a finished retrain.
type Report struct {
	Version         string        `json:"version"`
	PreviousVersion string        `json:"previous_version,omitempty"`
	Pairs           int           `json:"pairs"`
	Predicates      []string      `json:"predicates"`
	Indexed         int           `json:"indexed"`
	Delta           int           `json:"delta"`
	Duration        time.Duration `json:"duration"`
}

type Job struct {
	canonical CanonicalSource
	artifacts ArtifactStore
	blocks    BlockStore
	versions  VersionCache
	cfg       Config
	logger    ectologger.Logger
}

// NewJob builds a retrain job. versions may be nil when no shared version cache is configured.
func NewJob(canonical CanonicalSource, artifacts ArtifactStore, blocks BlockStore, versions VersionCache, cfg Config, logger ectologger.Logger) *Job {
	return &Job{
		canonical: canonical,
		artifacts: artifacts,
		blocks:    blocks,
		versions:  versions,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run trains and activates a new artifact. Records indexed under the previous
// active version but missing from the new one, typically written by the index
// hooks while training ran, are indexed before activation.
func (j *Job) Run(ctx context.Context) (*Report, error) {
	ctx, span := tracing.StartSpan(ctx, "retrain.Job.Run")
	defer span.End()

	started := time.Now()
	log := j.logger.WithContext(ctx)

	canonical, err := j.canonical.CanonicalRecords(ctx)
	if err != nil {
		return nil, err
	}
	if len(canonical) == 0 {
		return nil, linkage.ErrNoCanonicalRecords
	}

	previous, err := j.artifacts.ActiveID(ctx)
	if err != nil {
		return nil, err
	}

	pairs, err := linkage.LoadPairs(j.cfg.PairsPath)
	if err != nil {
		return nil, err
	}
	trained, err := linkage.Train(ctx, j.logger, pairs, canonical, j.cfg.Train)
	if err != nil {
		log.WithError(err).Error("Training failed")
		return nil, err
	}
	blob, err := trained.Encode()
	if err != nil {
		return nil, err
	}
	artifact, err := j.artifacts.Create(ctx, blob)
	if err != nil {
		return nil, err
	}
	log = log.WithField("model_version", artifact.ID)

	model := linkage.NewModel(artifact.ID, trained, linkage.WithBlockingStore(j.blocks), linkage.WithLogger(j.logger))
	if err := model.Index(ctx, canonical); err != nil {
		log.WithError(err).Error("Failed to index canonical records")
		return nil, err
	}

	delta := 0
	if previous != "" {
		delta, err = j.indexDelta(ctx, model, previous)
		if err != nil {
			return nil, err
		}
	}

	if err := j.artifacts.Activate(ctx, artifact.ID); err != nil {
		return nil, err
	}
	if j.versions != nil {
		if err := j.versions.Invalidate(ctx); err != nil {
			log.WithError(err).Warn("Failed to invalidate cached model version")
		}
	}
	if previous != "" {
		if err := j.blocks.DeleteVersion(ctx, previous); err != nil {
			log.WithError(err).WithField("previous_version", previous).Warn("Failed to delete block keys of previous model")
		}
	}

	report := &Report{
		Version:         artifact.ID,
		PreviousVersion: previous,
		Pairs:           trained.PairCount,
		Predicates:      trained.Predicates,
		Indexed:         model.Size(),
		Delta:           delta,
		Duration:        time.Since(started),
	}
	log.WithFields(map[string]any{
		"previous_version": previous,
		"indexed":          report.Indexed,
		"delta":            delta,
		"duration_ms":      report.Duration.Milliseconds(),
	}).Info("Activated retrained model")
	return report, nil
}

func (j *Job) indexDelta(ctx context.Context, model *linkage.Model, previous string) (int, error) {
	missing, err := j.blocks.RecordIDsMissingFrom(ctx, previous, model.Version())
	if err != nil {
		return 0, err
	}
	if len(missing) == 0 {
		return 0, nil
	}

	records, err := j.canonical.CanonicalRecordsByKeys(ctx, missing)
	if err != nil {
		return 0, err
	}
	if err := model.Index(ctx, records); err != nil {
		return 0, err
	}

	j.logger.WithContext(ctx).WithFields(map[string]any{
		"missing": len(missing),
		"indexed": len(records),
	}).Info("Indexed records missing from the new model")
	return len(records), nil
}
