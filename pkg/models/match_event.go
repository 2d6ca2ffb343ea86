package models

import "time"

// MatchEvent announces the matching decision for one list item.
// RecordFingerprint hashes the cleaned name, address and country of the item.
type MatchEvent struct {
	ID                string         `json:"id"`
	ListItemID        string         `json:"list_item_id"`
	SourceID          string         `json:"source_id"`
	FacilityID        string         `json:"facility_id,omitempty"`
	Status            ListItemStatus `json:"status"`
	MatchIDs          []string       `json:"match_ids"`
	Reason            string         `json:"reason,omitempty"`
	RecordFingerprint string         `json:"record_fingerprint"`
	OccurredAt        time.Time      `json:"occurred_at"`
}
