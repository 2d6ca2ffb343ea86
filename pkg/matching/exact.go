// Package matching finds the facilities a list item may describe, first by
// exact normalized equality with prior matches, then by gazetteer search.
package matching

import (
	"context"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ExactCandidate is a previously matched list item whose clean fields equal a query's.
type ExactCandidate struct {
	ListItemID    string    `db:"list_item_id"`
	FacilityID    string    `db:"facility_id"`
	ActiveMatch   bool      `db:"active_match"`
	ContributorID string    `db:"contributor_id"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// ExactStore looks up matched list items by clean name, address and country.
type ExactStore interface {
	FindExactMatches(ctx context.Context, fields models.Fields) ([]ExactCandidate, error)
}

type ExactMatcher struct {
	store       ExactStore
	codeVersion string
	logger      ectologger.Logger
}

func NewExactMatcher(store ExactStore, codeVersion string, logger ectologger.Logger) *ExactMatcher {
	return &ExactMatcher{store: store, codeVersion: codeVersion, logger: logger}
}

// Match resolves each query to the facility of its best exact candidate. Only
// queries with a match are listed as processed, so the rest can go on to the
// gazetteer. Queries with an empty name or address are skipped.
func (m *ExactMatcher) Match(ctx context.Context, queries map[string]models.Fields, contributorID string, defaults models.MatchDefaults) (*models.MatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.ExactMatcher.Match")
	defer span.End()

	result := models.NewMatchResult(defaults, m.codeVersion)
	result.Results.ExactMatch = true

	for _, id := range sortedKeys(queries) {
		query := queries[id]
		if query.Name == "" || query.Address == "" {
			continue
		}

		candidates, err := m.store.FindExactMatches(ctx, query)
		if err != nil {
			m.logger.WithContext(ctx).WithError(err).WithField("list_item_id", id).Error("Failed to find exact matches")
			return nil, err
		}
		if len(candidates) == 0 {
			continue
		}

		RankExactCandidates(candidates, contributorID)
		best := candidates[0]
		result.ProcessedListItemIDs = append(result.ProcessedListItemIDs, id)
		result.ItemMatches[id] = []models.ScoredCandidate{{CandidateID: best.FacilityID, Score: 1}}

		m.logger.WithContext(ctx).WithFields(map[string]any{
			"list_item_id": id,
			"facility_id":  best.FacilityID,
			"candidates":   len(candidates),
		}).Debug("Exact match found")
	}

	result.Finished = time.Now().UTC()
	return result, nil
}

// RankExactCandidates orders candidates best first: active matches, then the
// querying contributor's own items, then the most recently updated.
func RankExactCandidates(candidates []ExactCandidate, contributorID string) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.ActiveMatch != b.ActiveMatch {
			return a.ActiveMatch
		}
		aSame, bSame := a.ContributorID == contributorID, b.ContributorID == contributorID
		if aSame != bSame {
			return aSame
		}
		return a.UpdatedAt.After(b.UpdatedAt)
	})
}

func sortedKeys(m map[string]models.Fields) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
