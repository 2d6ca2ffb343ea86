// Package processor turns match results into persisted decisions: it picks
// automatic matches, creates facilities, keeps the gazetteer index in step with
// match state and drives whole lists through matching.
package processor

import (
	"context"
	"database/sql"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

type FacilityStore interface {
	Create(ctx context.Context, f *models.Facility) (*models.Facility, error)
	GetMany(ctx context.Context, ids []string) (map[string]*models.Facility, error)
	GetForUpdate(ctx context.Context, id string) (*models.Facility, error)
	UpdatePPE(ctx context.Context, f *models.Facility) error
}

type MatchStore interface {
	CreateBatch(ctx context.Context, matches []*models.FacilityMatch) error
	GetForUpdate(ctx context.Context, id string) (*models.FacilityMatch, error)
	ListByListItem(ctx context.Context, listItemID string) ([]*models.FacilityMatch, error)
	UpdateState(ctx context.Context, match *models.FacilityMatch) error
}

type ListItemStore interface {
	Get(ctx context.Context, id string) (*models.FacilityListItem, error)
	ListMatchable(ctx context.Context, sourceID string) ([]models.FacilityListItem, error)
	UpdateMatchState(ctx context.Context, item *models.FacilityListItem) error
}

type SourceStore interface {
	Get(ctx context.Context, id string) (*models.Source, error)
}

// Gazetteer is the live index the hooks keep up to date.
type Gazetteer interface {
	Index(ctx context.Context, records map[string]models.Fields) error
	Unindex(ctx context.Context, ids []string) error
}

// Transactor opens a transaction carried by the returned context.
type Transactor interface {
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error)
}

// EventPublisher announces decisions after they are committed.
type EventPublisher interface {
	PublishMatchEvents(ctx context.Context, events []models.MatchEvent) error
}

// GraphProjector mirrors committed matches into the graph store.
type GraphProjector interface {
	ProjectMatches(ctx context.Context, matches []*models.FacilityMatch) error
}
