package source

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Repository reads contributor sources
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

func (r *Repository) Get(ctx context.Context, id string) (*models.Source, error) {
	ctx, span := tracing.StartSpan(ctx, "source.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "contributor_id", "create_facilities", "is_active", "created_at")
	sb.From("sources")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var src models.Source
	if err := r.db.Executor(ctx).GetContext(ctx, &src, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "source %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("source_id", id).Error("Failed to get source")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get source")
	}
	return &src, nil
}
