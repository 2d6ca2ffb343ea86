package facilitymatch

import (
	"context"
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

var columns = []string{
	"id", "facility_list_item_id", "facility_id", "confidence", "status", "is_active",
	"results", "created_at", "updated_at",
}

// Repository handles facility match persistence
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

// CreateBatch inserts matches, assigning IDs and timestamps.
func (r *Repository) CreateBatch(ctx context.Context, matches []*models.FacilityMatch) error {
	ctx, span := tracing.StartSpan(ctx, "facilitymatch.Repository.CreateBatch")
	defer span.End()

	if len(matches) == 0 {
		return nil
	}

	now := time.Now().UTC()
	ib := database.NewInsertBuilder("facility_matches", columns...)
	for _, m := range matches {
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		if m.Status == "" {
			m.Status = models.MatchStatusPending
		}
		m.CreatedAt = now
		m.UpdatedAt = now
		ib.Values(m.ID, m.FacilityListItemID, m.FacilityID, m.Confidence, m.Status, m.IsActive,
			m.Results, m.CreatedAt, m.UpdatedAt)
	}

	query, args := ib.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("count", len(matches)).Error("Failed to create facility matches")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create facility matches")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"count": len(matches)}).Debug("Created facility matches")
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*models.FacilityMatch, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate reads a match and locks its row until the surrounding transaction ends.
func (r *Repository) GetForUpdate(ctx context.Context, id string) (*models.FacilityMatch, error) {
	return r.get(ctx, id, true)
}

func (r *Repository) get(ctx context.Context, id string, lock bool) (*models.FacilityMatch, error) {
	ctx, span := tracing.StartSpan(ctx, "facilitymatch.Repository.get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("facility_matches")
	sb.Where(sb.Equal("id", id))
	if lock {
		sb.ForUpdate()
	}

	query, args := sb.Build()
	var match models.FacilityMatch
	if err := r.db.Executor(ctx).GetContext(ctx, &match, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "facility match %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("match_id", id).Error("Failed to get facility match")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get facility match")
	}
	return &match, nil
}

// ListByListItem returns every match proposed for a list item.
func (r *Repository) ListByListItem(ctx context.Context, listItemID string) ([]*models.FacilityMatch, error) {
	ctx, span := tracing.StartSpan(ctx, "facilitymatch.Repository.ListByListItem")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("facility_matches")
	sb.Where(sb.Equal("facility_list_item_id", listItemID))
	sb.OrderBy("confidence").Desc()

	query, args := sb.Build()
	var matches []*models.FacilityMatch
	if err := r.db.Executor(ctx).SelectContext(ctx, &matches, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("list_item_id", listItemID).Error("Failed to list facility matches")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list facility matches")
	}
	return matches, nil
}

// UpdateState writes the status and active flag of a match.
func (r *Repository) UpdateState(ctx context.Context, match *models.FacilityMatch) error {
	ctx, span := tracing.StartSpan(ctx, "facilitymatch.Repository.UpdateState")
	defer span.End()

	match.UpdatedAt = time.Now().UTC()
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("facility_matches")
	ub.Set(
		ub.Assign("status", match.Status),
		ub.Assign("is_active", match.IsActive),
		ub.Assign("updated_at", match.UpdatedAt),
	)
	ub.Where(ub.Equal("id", match.ID))

	query, args := ub.Build()
	res, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"match_id": match.ID,
			"status":   match.Status,
		}).Error("Failed to update facility match")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update facility match")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "facility match %s not found", match.ID)
	}
	return nil
}
