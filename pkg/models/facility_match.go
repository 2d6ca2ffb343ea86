package models

import (
	"time"

	"github.com/Ramsey-B/fern/pkg/database"
)

type MatchStatus string

const (
	MatchStatusPending   MatchStatus = "PENDING"
	MatchStatusAutomatic MatchStatus = "AUTOMATIC"
	MatchStatusConfirmed MatchStatus = "CONFIRMED"
	MatchStatusRejected  MatchStatus = "REJECTED"
	MatchStatusMerged    MatchStatus = "MERGED"
)

// Reasons recorded on automatic matches.
const (
	MatchReasonSingleMatch       = "single match"
	MatchReasonOneAboveThreshold = "one match above threshold"
	MatchReasonMultipleOneExact  = "multiple matches, one exact"
	MatchReasonNoMatchFound      = "no match found"
	MatchReasonExactMatch        = "exact match"
)

const (
	MatchTypeGazetteer   = "gazetteer"
	MatchTypeExact       = "exact"
	MatchTypeNewFacility = "new_facility"
)

// FacilityMatch links a list item to a facility it may describe.
type FacilityMatch struct {
	ID                 string                       `json:"id" db:"id"`
	FacilityListItemID string                       `json:"facility_list_item_id" db:"facility_list_item_id"`
	FacilityID         string                       `json:"facility_id" db:"facility_id"`
	Confidence         float64                      `json:"confidence" db:"confidence"`
	Status             MatchStatus                  `json:"status" db:"status"`
	IsActive           bool                         `json:"is_active" db:"is_active"`
	Results            database.JSONB[MatchDetails] `json:"results" db:"results"`
	CreatedAt          time.Time                    `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time                    `json:"updated_at" db:"updated_at"`
}

// MatchDetails is the diagnostic payload stored with each match.
type MatchDetails struct {
	MatchType          string  `json:"match_type"`
	Reason             string  `json:"reason,omitempty"`
	AutomaticThreshold float64 `json:"automatic_threshold"`
	GazetteerThreshold float64 `json:"gazetteer_threshold"`
	RecallWeight       float64 `json:"recall_weight"`
	CodeVersion        string  `json:"code_version"`
}

// ShouldDisplayAssociation reports whether the match links the item to the facility publicly.
func (m *FacilityMatch) ShouldDisplayAssociation() bool {
	if !m.IsActive {
		return false
	}
	switch m.Status {
	case MatchStatusAutomatic, MatchStatusConfirmed, MatchStatusMerged:
		return true
	default:
		return false
	}
}
