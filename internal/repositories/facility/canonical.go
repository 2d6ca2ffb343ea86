package facility

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/osid"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// A facility is indexed under its own ID with the fields of the item it was
// created from. Every active confirmed match from another item is indexed as
// well, under the extended key, so confirmed spellings feed later matching.
const canonicalQuery = `
	SELECT f.id AS facility_id, NULL AS match_id,
		i.country_code, i.name, i.address, i.clean_name, i.clean_address
	FROM facilities f
	JOIN facility_list_items i ON i.id = f.created_from_id
	WHERE %[1]s
	UNION ALL
	SELECT m.facility_id, m.id::text AS match_id,
		i.country_code, i.name, i.address, i.clean_name, i.clean_address
	FROM facility_matches m
	JOIN facilities f ON f.id = m.facility_id
	JOIN facility_list_items i ON i.id = m.facility_list_item_id
	WHERE m.status = 'CONFIRMED'
		AND m.is_active
		AND f.created_from_id <> m.facility_list_item_id
		AND %[2]s
`

type canonicalRow struct {
	FacilityID   string         `db:"facility_id"`
	MatchID      sql.NullString `db:"match_id"`
	CountryCode  string         `db:"country_code"`
	Name         string         `db:"name"`
	Address      string         `db:"address"`
	CleanName    string         `db:"clean_name"`
	CleanAddress string         `db:"clean_address"`
}

func (row canonicalRow) key() string {
	if row.MatchID.Valid {
		return osid.Extended(row.FacilityID, row.MatchID.String)
	}
	return row.FacilityID
}

func (row canonicalRow) fields() models.Fields {
	item := models.FacilityListItem{
		Name:         row.Name,
		Address:      row.Address,
		CountryCode:  row.CountryCode,
		CleanName:    row.CleanName,
		CleanAddress: row.CleanAddress,
	}
	return item.CleanFields()
}

// CanonicalRecords returns every record the gazetteer indexes, keyed by facility ID or extended key.
func (r *Repository) CanonicalRecords(ctx context.Context) (map[string]models.Fields, error) {
	ctx, span := tracing.StartSpan(ctx, "facility.Repository.CanonicalRecords")
	defer span.End()

	return r.canonical(ctx, fmt.Sprintf(canonicalQuery, "TRUE", "TRUE"))
}

// CanonicalRecordsByKeys returns the canonical records for the given keys that still exist.
func (r *Repository) CanonicalRecordsByKeys(ctx context.Context, keys []string) (map[string]models.Fields, error) {
	ctx, span := tracing.StartSpan(ctx, "facility.Repository.CanonicalRecordsByKeys")
	defer span.End()

	if len(keys) == 0 {
		return map[string]models.Fields{}, nil
	}

	var facilityIDs, matchIDs []string
	for _, key := range keys {
		if matchID := osid.MatchID(key); matchID != "" {
			matchIDs = append(matchIDs, matchID)
		} else {
			facilityIDs = append(facilityIDs, key)
		}
	}

	query := fmt.Sprintf(canonicalQuery, "f.id = ANY($1)", "m.id::text = ANY($2)")
	return r.canonical(ctx, query, pq.Array(facilityIDs), pq.Array(matchIDs))
}

func (r *Repository) canonical(ctx context.Context, query string, args ...any) (map[string]models.Fields, error) {
	var rows []canonicalRow
	if err := r.db.Executor(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to load canonical records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load canonical records")
	}

	records := make(map[string]models.Fields, len(rows))
	for _, row := range rows {
		records[row.key()] = row.fields()
	}
	return records, nil
}
