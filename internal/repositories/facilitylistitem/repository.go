package facilitylistitem

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var columns = []string{
	"id", "source_id", "row_index", "raw_data", "status", "name", "address", "country_code",
	"clean_name", "clean_address", "latitude", "longitude", "geocoded_address", "facility_id",
	"processing_results", "ppe_product_types", "ppe_contact_phone_number", "ppe_contact_email",
	"ppe_website", "created_at", "updated_at",
}

// Repository handles facility list item persistence
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

func (r *Repository) Get(ctx context.Context, id string) (*models.FacilityListItem, error) {
	ctx, span := tracing.StartSpan(ctx, "facilitylistitem.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("facility_list_items")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var item models.FacilityListItem
	if err := r.db.Executor(ctx).GetContext(ctx, &item, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "facility list item %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("list_item_id", id).Error("Failed to get facility list item")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get facility list item")
	}
	return &item, nil
}

// ListMatchable returns the items of a source that are waiting for matching.
func (r *Repository) ListMatchable(ctx context.Context, sourceID string) ([]models.FacilityListItem, error) {
	ctx, span := tracing.StartSpan(ctx, "facilitylistitem.Repository.ListMatchable")
	defer span.End()

	statuses := make([]any, 0, len(models.MatchableStatuses))
	for _, status := range models.MatchableStatuses {
		statuses = append(statuses, status)
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("facility_list_items")
	sb.Where(sb.Equal("source_id", sourceID), sb.In("status", statuses...))
	sb.OrderBy("row_index")

	query, args := sb.Build()
	var items []models.FacilityListItem
	if err := r.db.Executor(ctx).SelectContext(ctx, &items, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("source_id", sourceID).Error("Failed to list matchable items")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list facility list items")
	}
	return items, nil
}

// ListUnmatched returns geocoded items from every source that are waiting for matching, up to limit.
func (r *Repository) ListUnmatched(ctx context.Context, limit int) ([]models.FacilityListItem, error) {
	ctx, span := tracing.StartSpan(ctx, "facilitylistitem.Repository.ListUnmatched")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("facility_list_items")
	sb.Where(sb.Equal("status", models.ListItemStatusGeocoded))
	sb.OrderBy("created_at").Desc()
	sb.Limit(limit)

	query, args := sb.Build()
	var items []models.FacilityListItem
	if err := r.db.Executor(ctx).SelectContext(ctx, &items, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list unmatched items")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list facility list items")
	}
	return items, nil
}

// UpdateMatchState writes the fields matching changes on an item.
func (r *Repository) UpdateMatchState(ctx context.Context, item *models.FacilityListItem) error {
	ctx, span := tracing.StartSpan(ctx, "facilitylistitem.Repository.UpdateMatchState")
	defer span.End()

	item.UpdatedAt = time.Now().UTC()
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("facility_list_items")
	ub.Set(
		ub.Assign("status", item.Status),
		ub.Assign("facility_id", item.FacilityID),
		ub.Assign("clean_name", item.CleanName),
		ub.Assign("clean_address", item.CleanAddress),
		ub.Assign("processing_results", item.ProcessingResults),
		ub.Assign("updated_at", item.UpdatedAt),
	)
	ub.Where(ub.Equal("id", item.ID))

	query, args := ub.Build()
	res, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"list_item_id": item.ID,
			"status":       item.Status,
		}).Error("Failed to update facility list item")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update facility list item")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "facility list item %s not found", item.ID)
	}
	return nil
}

const exactMatchQuery = `
	SELECT i.id AS list_item_id, i.facility_id, s.contributor_id, i.updated_at,
		EXISTS (
			SELECT 1 FROM facility_matches m
			WHERE m.facility_list_item_id = i.id
				AND m.is_active
				AND m.status IN ('AUTOMATIC', 'CONFIRMED', 'MERGED')
		) AS active_match
	FROM facility_list_items i
	JOIN sources s ON s.id = i.source_id
	WHERE i.status = ANY($1)
		AND i.facility_id IS NOT NULL
		AND i.clean_name = $2
		AND i.clean_address = $3
		AND UPPER(TRIM(i.country_code)) = $4
		AND i.clean_name <> ''
		AND i.clean_address <> ''
`

// FindExactMatches returns matched items whose clean name, address and country equal fields.
func (r *Repository) FindExactMatches(ctx context.Context, fields models.Fields) ([]matching.ExactCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "facilitylistitem.Repository.FindExactMatches")
	defer span.End()

	statuses := make([]string, 0, len(models.MatchedStatuses))
	for _, status := range models.MatchedStatuses {
		statuses = append(statuses, string(status))
	}

	var candidates []matching.ExactCandidate
	err := r.db.Executor(ctx).SelectContext(ctx, &candidates, exactMatchQuery,
		pq.Array(statuses), fields.Name, fields.Address, fields.Country)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"country": fields.Country,
		}).Error("Failed to find exact matches")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to find exact matches: %v", err))
	}
	return candidates, nil
}
