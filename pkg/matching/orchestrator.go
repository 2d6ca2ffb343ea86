package matching

import (
	"context"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/linkage"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/osid"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Searcher queries the active gazetteer.
type Searcher interface {
	Search(ctx context.Context, queries map[string]models.Fields, threshold float64, maxMatches int) (linkage.SearchOutcome, error)
}

// FacilityChecker confirms that facilities still exist.
type FacilityChecker interface {
	// ExistingIDs returns the subset of ids that are current facilities.
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
	Count(ctx context.Context) (int, error)
}

// Orchestrator runs gazetteer matching and packages the result. It never writes.
type Orchestrator struct {
	searcher    Searcher
	facilities  FacilityChecker
	codeVersion string
	logger      ectologger.Logger
}

func NewOrchestrator(searcher Searcher, facilities FacilityChecker, codeVersion string, logger ectologger.Logger) *Orchestrator {
	return &Orchestrator{
		searcher:    searcher,
		facilities:  facilities,
		codeVersion: codeVersion,
		logger:      logger,
	}
}

// MatchItems searches the gazetteer for every messy record. "No canonical
// records" and "no blocking intersection" are reported through the
// NoGazetteerMatches flag rather than as errors.
func (o *Orchestrator) MatchItems(ctx context.Context, messy map[string]models.Fields, defaults models.MatchDefaults) (*models.MatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Orchestrator.MatchItems")
	defer span.End()

	log := o.logger.WithContext(ctx)
	result := models.NewMatchResult(defaults, o.codeVersion)
	defer func() { result.Finished = time.Now().UTC() }()

	if len(messy) == 0 {
		count, err := o.facilities.Count(ctx)
		if err != nil {
			return nil, err
		}
		result.Results.NoGeocodedItems = true
		result.Results.NoGazetteerMatches = count == 0
		return result, nil
	}

	result.ProcessedListItemIDs = sortedKeys(messy)

	outcome, err := o.searcher.Search(ctx, messy, defaults.GazetteerThreshold, defaults.MaxCandidates)
	switch {
	case errors.Is(err, linkage.ErrNoCanonicalRecords):
		outcome = linkage.SearchOutcome{Kind: linkage.OutcomeNoCanonicalRecords}
	case err != nil:
		log.WithError(err).Error("Gazetteer search failed")
		return nil, err
	}
	metrics.MatchOutcomesTotal.WithLabelValues(outcome.Kind.String()).Inc()

	if outcome.Kind != linkage.OutcomeMatches {
		log.WithField("outcome", outcome.Kind.String()).Info("No gazetteer matches")
		result.Results.NoGazetteerMatches = true
		return result, nil
	}

	matches, err := o.dropStale(ctx, outcome.Matches)
	if err != nil {
		return nil, err
	}
	result.ItemMatches = matches
	result.Results.NoGazetteerMatches = len(matches) == 0

	log.WithFields(map[string]any{
		"items":   len(messy),
		"matched": len(matches),
	}).Info("Matched items against gazetteer")
	return result, nil
}

// dropStale removes candidates whose facility no longer exists. The index can
// lag behind deletions, so every candidate is checked.
func (o *Orchestrator) dropStale(ctx context.Context, matches map[string][]models.ScoredCandidate) (map[string][]models.ScoredCandidate, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, candidates := range matches {
		for _, c := range candidates {
			id := osid.Normalize(c.CandidateID)
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	existing, err := o.facilities.ExistingIDs(ctx, ids)
	if err != nil {
		o.logger.WithContext(ctx).WithError(err).Error("Failed to verify candidate facilities")
		return nil, err
	}

	out := make(map[string][]models.ScoredCandidate, len(matches))
	dropped := 0
	for itemID, candidates := range matches {
		var kept []models.ScoredCandidate
		for _, c := range candidates {
			if existing[osid.Normalize(c.CandidateID)] {
				kept = append(kept, c)
			} else {
				dropped++
			}
		}
		if len(kept) > 0 {
			out[itemID] = kept
		}
	}

	if dropped > 0 {
		metrics.StaleCandidatesTotal.Add(float64(dropped))
		o.logger.WithContext(ctx).WithField("dropped", dropped).Warn("Dropped candidates for facilities that no longer exist")
	}
	return out, nil
}
