package models

import "time"

// MatchDefaults are the thresholds used by online matching.
type MatchDefaults struct {
	AutomaticThreshold float64 `json:"automatic_threshold" validate:"gte=0,lte=1"`
	GazetteerThreshold float64 `json:"gazetteer_threshold" validate:"gte=0,lte=1"`
	RecallWeight       float64 `json:"recall_weight" validate:"gt=0"`
	// MaxCandidates caps the candidates returned per item. Zero means no cap.
	MaxCandidates int `json:"max_candidates" validate:"gte=0"`
}

func DefaultMatchDefaults() MatchDefaults {
	return MatchDefaults{
		AutomaticThreshold: 0.8,
		GazetteerThreshold: 0.5,
		RecallWeight:       1.0,
	}
}

// ScoredCandidate is a canonical key with its match confidence.
type ScoredCandidate struct {
	CandidateID string  `json:"candidate_id"`
	Score       float64 `json:"score"`
}

// MatchResult is the envelope produced by exact and model matching.
type MatchResult struct {
	ProcessedListItemIDs []string                     `json:"processed_list_item_ids"`
	ItemMatches          map[string][]ScoredCandidate `json:"item_matches"`
	Results              MatchDiagnostics             `json:"results"`
	Started              time.Time                    `json:"started"`
	Finished             time.Time                    `json:"finished"`
}

type MatchDiagnostics struct {
	NoGazetteerMatches bool    `json:"no_gazetteer_matches"`
	NoGeocodedItems    bool    `json:"no_geocoded_items"`
	GazetteerThreshold float64 `json:"gazetteer_threshold"`
	AutomaticThreshold float64 `json:"automatic_threshold"`
	RecallWeight       float64 `json:"recall_weight"`
	CodeVersion        string  `json:"code_version"`
	// ExactMatch marks envelopes produced by the exact match pre-filter.
	ExactMatch bool `json:"exact_match,omitempty"`
}

// NewMatchResult returns an empty envelope stamped with the given settings.
func NewMatchResult(defaults MatchDefaults, codeVersion string) *MatchResult {
	return &MatchResult{
		ProcessedListItemIDs: []string{},
		ItemMatches:          map[string][]ScoredCandidate{},
		Results: MatchDiagnostics{
			GazetteerThreshold: defaults.GazetteerThreshold,
			AutomaticThreshold: defaults.AutomaticThreshold,
			RecallWeight:       defaults.RecallWeight,
			CodeVersion:        codeVersion,
		},
		Started: time.Now().UTC(),
	}
}

// Details returns the per-match diagnostic payload for a match created from this envelope.
func (r *MatchResult) Details(reason string) MatchDetails {
	matchType := MatchTypeGazetteer
	if r.Results.ExactMatch {
		matchType = MatchTypeExact
	}
	return MatchDetails{
		MatchType:          matchType,
		Reason:             reason,
		AutomaticThreshold: r.Results.AutomaticThreshold,
		GazetteerThreshold: r.Results.GazetteerThreshold,
		RecallWeight:       r.Results.RecallWeight,
		CodeVersion:        r.Results.CodeVersion,
	}
}

// Diagnostics rebuilds the envelope settings a match was decided with.
func (d MatchDetails) Diagnostics() MatchDiagnostics {
	return MatchDiagnostics{
		GazetteerThreshold: d.GazetteerThreshold,
		AutomaticThreshold: d.AutomaticThreshold,
		RecallWeight:       d.RecallWeight,
		CodeVersion:        d.CodeVersion,
	}
}
