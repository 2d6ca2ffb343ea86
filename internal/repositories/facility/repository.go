package facility

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
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/osid"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var columns = []string{
	"id", "name", "address", "country_code", "latitude", "longitude", "created_from_id",
	"ppe_product_types", "ppe_contact_phone_number", "ppe_contact_email", "ppe_website",
	"created_at", "updated_at",
}

// Repository handles facility persistence
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

// Create inserts a facility. A missing ID is generated from the country code.
func (r *Repository) Create(ctx context.Context, f *models.Facility) (*models.Facility, error) {
	ctx, span := tracing.StartSpan(ctx, "facility.Repository.Create")
	defer span.End()

	if f.ID == "" {
		id, err := osid.New(f.CountryCode)
		if err != nil {
			return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "failed to create facility: %v", err)
		}
		f.ID = id
	}
	f.CreatedAt = time.Now().UTC()
	f.UpdatedAt = f.CreatedAt

	ib := database.NewInsertBuilder("facilities", columns...)
	ib.Values(f.ID, f.Name, f.Address, f.CountryCode, f.Latitude, f.Longitude, f.CreatedFromID,
		f.PPEProductTypes, f.PPEContactPhoneNumber, f.PPEContactEmail, f.PPEWebsite,
		f.CreatedAt, f.UpdatedAt)

	query, args := ib.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"facility_id":     f.ID,
			"created_from_id": f.CreatedFromID,
		}).Error("Failed to create facility")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create facility")
	}
	return f, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*models.Facility, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate reads a facility and locks its row until the surrounding transaction ends.
func (r *Repository) GetForUpdate(ctx context.Context, id string) (*models.Facility, error) {
	return r.get(ctx, id, true)
}

func (r *Repository) get(ctx context.Context, id string, lock bool) (*models.Facility, error) {
	ctx, span := tracing.StartSpan(ctx, "facility.Repository.get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("facilities")
	sb.Where(sb.Equal("id", id))
	if lock {
		sb.ForUpdate()
	}

	query, args := sb.Build()
	var f models.Facility
	if err := r.db.Executor(ctx).GetContext(ctx, &f, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "facility %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("facility_id", id).Error("Failed to get facility")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get facility")
	}
	return &f, nil
}

// GetMany returns the facilities with the given IDs keyed by ID.
func (r *Repository) GetMany(ctx context.Context, ids []string) (map[string]*models.Facility, error) {
	ctx, span := tracing.StartSpan(ctx, "facility.Repository.GetMany")
	defer span.End()

	out := make(map[string]*models.Facility, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("facilities")
	sb.Where(fmt.Sprintf("id = ANY(%s)", sb.Var(pq.Array(ids))))

	query, args := sb.Build()
	var facilities []models.Facility
	if err := r.db.Executor(ctx).SelectContext(ctx, &facilities, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("count", len(ids)).Error("Failed to get facilities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get facilities")
	}
	for i := range facilities {
		out[facilities[i].ID] = &facilities[i]
	}
	return out, nil
}

// UpdatePPE writes the PPE columns of a facility.
func (r *Repository) UpdatePPE(ctx context.Context, f *models.Facility) error {
	ctx, span := tracing.StartSpan(ctx, "facility.Repository.UpdatePPE")
	defer span.End()

	f.UpdatedAt = time.Now().UTC()
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("facilities")
	ub.Set(
		ub.Assign("ppe_product_types", f.PPEProductTypes),
		ub.Assign("ppe_contact_phone_number", f.PPEContactPhoneNumber),
		ub.Assign("ppe_contact_email", f.PPEContactEmail),
		ub.Assign("ppe_website", f.PPEWebsite),
		ub.Assign("updated_at", f.UpdatedAt),
	)
	ub.Where(ub.Equal("id", f.ID))

	query, args := ub.Build()
	res, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("facility_id", f.ID).Error("Failed to update facility PPE")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update facility")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "facility %s not found", f.ID)
	}
	return nil
}

// ExistingIDs returns which of ids are current facilities.
func (r *Repository) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	ctx, span := tracing.StartSpan(ctx, "facility.Repository.ExistingIDs")
	defer span.End()

	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id")
	sb.From("facilities")
	sb.Where(fmt.Sprintf("id = ANY(%s)", sb.Var(pq.Array(ids))))

	query, args := sb.Build()
	var found []string
	if err := r.db.Executor(ctx).SelectContext(ctx, &found, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to check facility ids")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to check facilities")
	}
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}

func (r *Repository) Count(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "facility.Repository.Count")
	defer span.End()

	var count int
	if err := r.db.Executor(ctx).GetContext(ctx, &count, "SELECT COUNT(*) FROM facilities"); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count facilities")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count facilities")
	}
	return count, nil
}
