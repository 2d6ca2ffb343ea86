// Package blockingmap persists the block keys each gazetteer record was indexed
// under, per model version, so a retrain can find records the new version has not seen.
package blockingmap

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/linkage"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Postgres allows 65535 bind parameters per statement; each row uses three.
const batchSize = 5000

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

// InsertBlocks records block keys for a model version. Rows that already exist are skipped,
// so concurrent indexers need no coordination.
func (r *Repository) InsertBlocks(ctx context.Context, modelVersion string, entries []linkage.BlockEntry) error {
	ctx, span := tracing.StartSpan(ctx, "blockingmap.Repository.InsertBlocks")
	defer span.End()

	for start := 0; start < len(entries); start += batchSize {
		end := min(start+batchSize, len(entries))

		ib := database.NewInsertBuilder("blocking_map", "model_version", "block_key", "record_id")
		for _, e := range entries[start:end] {
			ib.Values(modelVersion, e.BlockKey, e.RecordID)
		}
		ib.OnConflictDoNothing()

		query, args := ib.Build()
		if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"model_version": modelVersion,
				"rows":          end - start,
			}).Error("Failed to insert block keys")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert block keys")
		}
	}
	return nil
}

// RecordIDsMissingFrom returns records indexed under fromVersion that have no
// block keys under toVersion.
func (r *Repository) RecordIDsMissingFrom(ctx context.Context, fromVersion, toVersion string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "blockingmap.Repository.RecordIDsMissingFrom")
	defer span.End()

	const query = `
		SELECT DISTINCT old.record_id
		FROM blocking_map old
		WHERE old.model_version = $1
			AND NOT EXISTS (
				SELECT 1 FROM blocking_map cur
				WHERE cur.model_version = $2 AND cur.record_id = old.record_id
			)
	`

	var ids []string
	if err := r.db.Executor(ctx).SelectContext(ctx, &ids, query, fromVersion, toVersion); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"from_version": fromVersion,
			"to_version":   toVersion,
		}).Error("Failed to diff block keys")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to diff block keys")
	}
	return ids, nil
}

// DeleteVersion drops the block keys of a retired model version.
func (r *Repository) DeleteVersion(ctx context.Context, modelVersion string) error {
	ctx, span := tracing.StartSpan(ctx, "blockingmap.Repository.DeleteVersion")
	defer span.End()

	if _, err := r.db.Executor(ctx).ExecContext(ctx, "DELETE FROM blocking_map WHERE model_version = $1", modelVersion); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("model_version", modelVersion).Error("Failed to delete block keys")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete block keys")
	}
	return nil
}
