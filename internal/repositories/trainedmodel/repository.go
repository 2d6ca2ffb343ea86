package trainedmodel

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ErrNoActiveModel is returned when no trained model artifact is active.
var ErrNoActiveModel = errors.New("no active trained model")

// Repository stores trained model artifacts. Artifacts are immutable; only the active flag moves.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create stores a new inactive artifact.
func (r *Repository) Create(ctx context.Context, blob []byte) (*models.TrainedModel, error) {
	ctx, span := tracing.StartSpan(ctx, "trainedmodel.Repository.Create")
	defer span.End()

	m := &models.TrainedModel{
		ID:        uuid.New().String(),
		Blob:      blob,
		CreatedAt: time.Now().UTC(),
	}

	ib := database.NewInsertBuilder("trained_models", "id", "blob", "is_active", "created_at")
	ib.Values(m.ID, m.Blob, m.IsActive, m.CreatedAt)

	query, args := ib.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create trained model")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create trained model")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"model_version": m.ID,
		"bytes":         len(blob),
	}).Info("Stored trained model")
	return m, nil
}

// GetActive returns the active artifact or ErrNoActiveModel.
func (r *Repository) GetActive(ctx context.Context) (*models.TrainedModel, error) {
	ctx, span := tracing.StartSpan(ctx, "trainedmodel.Repository.GetActive")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "blob", "is_active", "created_at")
	sb.From("trained_models")
	sb.Where("is_active")
	sb.Limit(1)

	query, args := sb.Build()
	var m models.TrainedModel
	if err := r.db.Executor(ctx).GetContext(ctx, &m, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, ErrNoActiveModel
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get active trained model")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get active trained model")
	}
	return &m, nil
}

// ActiveID returns the ID of the active artifact, or "" when none is active.
func (r *Repository) ActiveID(ctx context.Context) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "trainedmodel.Repository.ActiveID")
	defer span.End()

	var id string
	err := r.db.Executor(ctx).GetContext(ctx, &id, "SELECT id FROM trained_models WHERE is_active LIMIT 1")
	if database.IsNoRows(err) {
		return "", nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get active trained model id")
		return "", httperror.NewHTTPError(http.StatusInternalServerError, "failed to get active trained model")
	}
	return id, nil
}

// Activate makes id the only active artifact.
func (r *Repository) Activate(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "trainedmodel.Repository.Activate")
	defer span.End()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.ExecContext(ctx, "UPDATE trained_models SET is_active = FALSE WHERE is_active AND id <> $1", id); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to deactivate trained models")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to activate trained model")
	}

	res, err := tx.ExecContext(ctx, "UPDATE trained_models SET is_active = TRUE WHERE id = $1", id)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("model_version", id).Error("Failed to activate trained model")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to activate trained model")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "trained model %s not found", id)
	}

	if err := tx.Commit(ctx); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit trained model activation")
	}

	r.logger.WithContext(ctx).WithField("model_version", id).Info("Activated trained model")
	return nil
}
