package graph

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Matches are merged by match ID so replaying a batch is harmless.
const projectMatchesCypher = `
	UNWIND $rows AS row
	MERGE (i:ListItem {id: row.list_item_id})
	MERGE (f:Facility {id: row.facility_id})
	MERGE (i)-[r:MATCHED {match_id: row.match_id}]->(f)
	SET r.status = row.status,
		r.confidence = row.confidence,
		r.is_active = row.is_active,
		r.match_type = row.match_type,
		r.displayed = row.displayed
`

// Projector writes (ListItem)-[:MATCHED]->(Facility) edges for committed matches.
type Projector struct {
	client *Client
	logger ectologger.Logger
}

func NewProjector(client *Client, logger ectologger.Logger) *Projector {
	return &Projector{client: client, logger: logger}
}

func (p *Projector) ProjectMatches(ctx context.Context, matches []*models.FacilityMatch) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.ProjectMatches")
	defer span.End()

	if len(matches) == 0 {
		return nil
	}

	if err := p.client.write(ctx, projectMatchesCypher, map[string]any{"rows": matchRows(matches)}); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithField("matches", len(matches)).Error("Failed to project matches")
		return err
	}

	p.logger.WithContext(ctx).WithField("matches", len(matches)).Debug("Projected matches")
	return nil
}

func matchRows(matches []*models.FacilityMatch) []map[string]any {
	rows := make([]map[string]any, 0, len(matches))
	for _, m := range matches {
		rows = append(rows, map[string]any{
			"match_id":     m.ID,
			"list_item_id": m.FacilityListItemID,
			"facility_id":  m.FacilityID,
			"status":       string(m.Status),
			"confidence":   m.Confidence,
			"is_active":    m.IsActive,
			"match_type":   m.Results.Data.MatchType,
			"displayed":    m.ShouldDisplayAssociation(),
		})
	}
	return rows
}
