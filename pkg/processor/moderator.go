package processor

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Moderator applies human decisions to pending matches.
type Moderator struct {
	tx         Transactor
	engine     *DecisionEngine
	facilities FacilityStore
	matches    MatchStore
	items      ListItemStore
	sources    SourceStore
	hooks      *IndexHooks
	logger     ectologger.Logger
}

func NewModerator(tx Transactor, engine *DecisionEngine, facilities FacilityStore, matches MatchStore, items ListItemStore, sources SourceStore, hooks *IndexHooks, logger ectologger.Logger) *Moderator {
	return &Moderator{
		tx:         tx,
		engine:     engine,
		facilities: facilities,
		matches:    matches,
		items:      items,
		sources:    sources,
		hooks:      hooks,
		logger:     logger,
	}
}

// Confirm accepts a pending match. The item's other pending matches are rejected.
func (m *Moderator) Confirm(ctx context.Context, matchID string) (*models.FacilityMatch, error) {
	ctx, span := tracing.StartSpan(ctx, "processor.Moderator.Confirm")
	defer span.End()

	ctx, tx, err := m.tx.GetTx(m.hooks.Defer(ctx), nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	match, item, err := m.pending(ctx, matchID)
	if err != nil {
		return nil, err
	}

	siblings, err := m.matches.ListByListItem(ctx, item.ID)
	if err != nil {
		return nil, err
	}

	match.Status = models.MatchStatusConfirmed
	changed := []*models.FacilityMatch{match}
	for _, sibling := range siblings {
		if sibling.ID == match.ID || sibling.Status != models.MatchStatusPending {
			continue
		}
		sibling.Status = models.MatchStatusRejected
		changed = append(changed, sibling)
	}
	for _, c := range changed {
		if err := m.matches.UpdateState(ctx, c); err != nil {
			return nil, err
		}
	}

	item.Status = models.ListItemStatusConfirmedMatch
	item.FacilityID = &match.FacilityID
	if err := m.items.UpdateMatchState(ctx, item); err != nil {
		return nil, err
	}

	if err := m.notifyHooks(ctx, item, changed); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	m.hooks.Flush(ctx)

	m.logger.WithContext(ctx).WithFields(map[string]any{
		"match_id":     match.ID,
		"list_item_id": item.ID,
		"facility_id":  match.FacilityID,
		"rejected":     len(changed) - 1,
	}).Info("Confirmed match")
	return match, nil
}

// Reject declines a pending match. Once every match of the item is rejected,
// the item is settled the way an item without candidates is.
func (m *Moderator) Reject(ctx context.Context, matchID string) (*models.FacilityMatch, error) {
	ctx, span := tracing.StartSpan(ctx, "processor.Moderator.Reject")
	defer span.End()

	ctx, tx, err := m.tx.GetTx(m.hooks.Defer(ctx), nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	match, item, err := m.pending(ctx, matchID)
	if err != nil {
		return nil, err
	}

	match.Status = models.MatchStatusRejected
	if err := m.matches.UpdateState(ctx, match); err != nil {
		return nil, err
	}

	siblings, err := m.matches.ListByListItem(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	for _, sibling := range siblings {
		if sibling.ID != match.ID && sibling.Status != models.MatchStatusRejected {
			if err := m.notifyHooks(ctx, item, []*models.FacilityMatch{match}); err != nil {
				return nil, err
			}
			if err := tx.Commit(ctx); err != nil {
				return nil, err
			}
			m.hooks.Flush(ctx)
			return match, nil
		}
	}

	src, err := m.sources.Get(ctx, item.SourceID)
	if err != nil {
		return nil, err
	}

	result := &models.MatchResult{
		ProcessedListItemIDs: []string{item.ID},
		ItemMatches:          map[string][]models.ScoredCandidate{},
		Results:              match.Results.Data.Diagnostics(),
		Started:              time.Now().UTC(),
	}
	if _, err := m.engine.SaveMatchDetails(ctx, Batch{Source: src, Items: map[string]*models.FacilityListItem{item.ID: item}}, result); err != nil {
		return nil, err
	}
	if err := m.notifyHooks(ctx, item, []*models.FacilityMatch{match}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	m.hooks.Flush(ctx)

	m.logger.WithContext(ctx).WithFields(map[string]any{
		"match_id":     match.ID,
		"list_item_id": item.ID,
		"status":       item.Status,
	}).Info("Rejected last match of item")
	return match, nil
}

func (m *Moderator) pending(ctx context.Context, matchID string) (*models.FacilityMatch, *models.FacilityListItem, error) {
	match, err := m.matches.GetForUpdate(ctx, matchID)
	if err != nil {
		return nil, nil, err
	}
	if match.Status != models.MatchStatusPending {
		return nil, nil, httperror.NewHTTPErrorf(http.StatusConflict, "match %s is %s, not PENDING", matchID, match.Status)
	}
	item, err := m.items.Get(ctx, match.FacilityListItemID)
	if err != nil {
		return nil, nil, err
	}
	return match, item, nil
}

func (m *Moderator) notifyHooks(ctx context.Context, item *models.FacilityListItem, matches []*models.FacilityMatch) error {
	ids := make([]string, 0, len(matches))
	for _, match := range matches {
		ids = append(ids, match.FacilityID)
	}
	facilities, err := m.facilities.GetMany(ctx, ids)
	if err != nil {
		return err
	}
	return m.hooks.MatchesSaved(ctx, changesFor(matches, facilities, map[string]*models.FacilityListItem{item.ID: item}))
}
