package processor

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/osid"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Batch is the set of list items a match result was computed for.
type Batch struct {
	Source *models.Source
	Items  map[string]*models.FacilityListItem
}

// ReduceMatches collapses candidates to one entry per facility, keeping the
// highest score among the facility's plain and extended keys. The result is
// sorted by score, best first.
func ReduceMatches(candidates []models.ScoredCandidate) []models.ScoredCandidate {
	best := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		id := osid.Normalize(c.CandidateID)
		if score, ok := best[id]; !ok || c.Score > score {
			best[id] = c.Score
		}
	}

	out := make([]models.ScoredCandidate, 0, len(best))
	for id, score := range best {
		out = append(out, models.ScoredCandidate{CandidateID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].CandidateID < out[j].CandidateID
	})
	return out
}

type DecisionEngine struct {
	facilities FacilityStore
	matches    MatchStore
	items      ListItemStore
	hooks      *IndexHooks
	logger     ectologger.Logger
}

func NewDecisionEngine(facilities FacilityStore, matches MatchStore, items ListItemStore, hooks *IndexHooks, logger ectologger.Logger) *DecisionEngine {
	return &DecisionEngine{
		facilities: facilities,
		matches:    matches,
		items:      items,
		hooks:      hooks,
		logger:     logger,
	}
}

// SaveMatchDetails applies a match result: it records matches, decides which
// are automatic, creates facilities for unmatched items and updates the index.
// Callers run it inside one transaction so a failure discards the whole batch.
func (e *DecisionEngine) SaveMatchDetails(ctx context.Context, batch Batch, result *models.MatchResult) ([]*models.FacilityMatch, error) {
	ctx, span := tracing.StartSpan(ctx, "processor.DecisionEngine.SaveMatchDetails")
	defer span.End()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"source_id": batch.Source.ID,
		"items":     len(result.ProcessedListItemIDs),
	})

	reduced := make(map[string][]models.ScoredCandidate, len(result.ItemMatches))
	var facilityIDs []string
	for itemID, candidates := range result.ItemMatches {
		reduced[itemID] = ReduceMatches(candidates)
		for _, c := range reduced[itemID] {
			facilityIDs = append(facilityIDs, c.CandidateID)
		}
	}
	facilities, err := e.facilities.GetMany(ctx, facilityIDs)
	if err != nil {
		return nil, err
	}

	var saved []*models.FacilityMatch
	for _, itemID := range result.ProcessedListItemIDs {
		item, ok := batch.Items[itemID]
		if !ok {
			return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "list item %s is not part of the batch", itemID)
		}

		var matches []*models.FacilityMatch
		if candidates := reduced[itemID]; len(candidates) > 0 {
			matches, err = e.decideCandidates(ctx, batch.Source, item, candidates, facilities, result)
		} else {
			matches, err = e.decideUnmatched(ctx, batch.Source, item, facilities, result)
		}
		if err != nil {
			log.WithError(err).WithField("list_item_id", itemID).Error("Failed to save match details")
			return nil, err
		}

		entry := models.ProcessingResult{
			Action:     models.ProcessingActionMatch,
			StartedAt:  result.Started,
			FinishedAt: time.Now().UTC(),
		}
		if item.Status == models.ListItemStatusErrorMatching {
			entry.Error = true
			entry.Message = "no match found and the item has no geocoded location"
		}
		item.ProcessingResults.Data = append(item.ProcessingResults.Data, entry)
		if err := e.items.UpdateMatchState(ctx, item); err != nil {
			return nil, err
		}
		saved = append(saved, matches...)
	}

	if err := e.matches.CreateBatch(ctx, saved); err != nil {
		return nil, err
	}
	if err := e.hooks.MatchesSaved(ctx, changesFor(saved, facilities, batch.Items)); err != nil {
		return nil, err
	}

	log.WithField("matches", len(saved)).Info("Saved match details")
	return saved, nil
}

func (e *DecisionEngine) decideCandidates(ctx context.Context, src *models.Source, item *models.FacilityListItem, candidates []models.ScoredCandidate, facilities map[string]*models.Facility, result *models.MatchResult) ([]*models.FacilityMatch, error) {
	matches := make([]*models.FacilityMatch, 0, len(candidates))
	for _, c := range candidates {
		matches = append(matches, &models.FacilityMatch{
			FacilityListItemID: item.ID,
			FacilityID:         c.CandidateID,
			Confidence:         c.Score,
			Status:             models.MatchStatusPending,
			IsActive:           true,
			Results:            database.NewJSONB(result.Details("")),
		})
	}

	chosen, reason := chooseAutomatic(item, candidates, facilities, result.Results.AutomaticThreshold)
	if chosen < 0 {
		item.Status = models.ListItemStatusPotentialMatch
		item.FacilityID = nil
		metrics.MatchDecisionsTotal.WithLabelValues(string(item.Status), "").Inc()
		return matches, nil
	}

	if result.Results.ExactMatch {
		reason = models.MatchReasonExactMatch
	}
	automatic := matches[chosen]
	automatic.Status = models.MatchStatusAutomatic
	automatic.Results = database.NewJSONB(result.Details(reason))
	item.Status = models.ListItemStatusMatched
	item.FacilityID = &automatic.FacilityID
	metrics.MatchDecisionsTotal.WithLabelValues(string(item.Status), reason).Inc()

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"list_item_id": item.ID,
		"facility_id":  automatic.FacilityID,
		"confidence":   automatic.Confidence,
		"reason":       reason,
	}).Debug("Automatic match")

	if src.Create && item.PPE.HasAny() {
		if err := e.backfillPPE(ctx, automatic.FacilityID, item.PPE); err != nil {
			return nil, err
		}
	}
	return matches, nil
}

// chooseAutomatic returns the index of the candidate to accept automatically,
// or -1 when the item needs moderation. candidates must be reduced.
func chooseAutomatic(item *models.FacilityListItem, candidates []models.ScoredCandidate, facilities map[string]*models.Facility, threshold float64) (int, string) {
	if len(candidates) == 1 {
		if candidates[0].Score >= threshold {
			return 0, models.MatchReasonSingleMatch
		}
		return -1, ""
	}

	var quality []int
	for i, c := range candidates {
		if c.Score > threshold {
			quality = append(quality, i)
		}
	}
	switch {
	case len(quality) == 1:
		return quality[0], models.MatchReasonOneAboveThreshold
	case len(quality) == 0:
		return -1, ""
	}

	fields := item.CleanFields()
	exact := -1
	for _, i := range quality {
		f, ok := facilities[candidates[i].CandidateID]
		if !ok || f.Fields().Clean() != fields {
			continue
		}
		if exact >= 0 {
			// several exact ties point at duplicate facilities
			return -1, ""
		}
		exact = i
	}
	if exact < 0 {
		return -1, ""
	}
	return exact, models.MatchReasonMultipleOneExact
}

func (e *DecisionEngine) decideUnmatched(ctx context.Context, src *models.Source, item *models.FacilityListItem, facilities map[string]*models.Facility, result *models.MatchResult) ([]*models.FacilityMatch, error) {
	switch {
	case !item.HasLocation():
		item.Status = models.ListItemStatusErrorMatching
		item.FacilityID = nil
		metrics.MatchDecisionsTotal.WithLabelValues(string(item.Status), "").Inc()
		return nil, nil
	case !src.Create:
		item.Status = models.ListItemStatusMatched
		metrics.MatchDecisionsTotal.WithLabelValues(string(item.Status), "").Inc()
		return nil, nil
	}

	match, err := e.createFacility(ctx, item, result)
	if err != nil {
		return nil, err
	}
	facilities[match.FacilityID] = &models.Facility{ID: match.FacilityID, CreatedFromID: item.ID}
	return []*models.FacilityMatch{match}, nil
}

// createFacility creates a facility from item and returns the automatic match linking them.
func (e *DecisionEngine) createFacility(ctx context.Context, item *models.FacilityListItem, result *models.MatchResult) (*models.FacilityMatch, error) {
	f := &models.Facility{
		Name:          item.Name,
		Address:       item.Address,
		CountryCode:   item.CountryCode,
		Latitude:      *item.Latitude,
		Longitude:     *item.Longitude,
		CreatedFromID: item.ID,
		PPE:           item.PPE,
	}
	if _, err := e.facilities.Create(ctx, f); err != nil {
		return nil, err
	}
	metrics.FacilitiesCreatedTotal.Inc()

	details := result.Details(models.MatchReasonNoMatchFound)
	details.MatchType = models.MatchTypeNewFacility

	item.Status = models.ListItemStatusMatched
	item.FacilityID = &f.ID
	metrics.MatchDecisionsTotal.WithLabelValues(string(item.Status), models.MatchReasonNoMatchFound).Inc()

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"list_item_id": item.ID,
		"facility_id":  f.ID,
	}).Debug("Created facility for unmatched item")

	return &models.FacilityMatch{
		FacilityListItemID: item.ID,
		FacilityID:         f.ID,
		Confidence:         1,
		Status:             models.MatchStatusAutomatic,
		IsActive:           true,
		Results:            database.NewJSONB(details),
	}, nil
}

// backfillPPE copies PPE details the facility lacks. The facility row stays
// locked until the transaction ends so concurrent lists cannot both write it.
func (e *DecisionEngine) backfillPPE(ctx context.Context, facilityID string, ppe models.PPE) error {
	f, err := e.facilities.GetForUpdate(ctx, facilityID)
	if err != nil {
		return fmt.Errorf("failed to lock facility %s: %w", facilityID, err)
	}
	if !f.PPE.Fill(ppe) {
		return nil
	}
	return e.facilities.UpdatePPE(ctx, f)
}

func changesFor(matches []*models.FacilityMatch, facilities map[string]*models.Facility, items map[string]*models.FacilityListItem) []MatchChange {
	changes := make([]MatchChange, 0, len(matches))
	for _, m := range matches {
		change := MatchChange{Match: m}
		if f, ok := facilities[m.FacilityID]; ok {
			change.CreatedFromID = f.CreatedFromID
		}
		if item, ok := items[m.FacilityListItemID]; ok {
			change.Fields = item.CleanFields()
		}
		changes = append(changes, change)
	}
	return changes
}
