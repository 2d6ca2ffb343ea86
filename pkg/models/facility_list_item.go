package models

import (
	"time"

	"github.com/Ramsey-B/fern/pkg/database"
)

type ListItemStatus string

const (
	ListItemStatusUploaded          ListItemStatus = "UPLOADED"
	ListItemStatusParsed            ListItemStatus = "PARSED"
	ListItemStatusGeocoded          ListItemStatus = "GEOCODED"
	ListItemStatusGeocodedNoResults ListItemStatus = "GEOCODED_NO_RESULTS"
	ListItemStatusMatched           ListItemStatus = "MATCHED"
	ListItemStatusPotentialMatch    ListItemStatus = "POTENTIAL_MATCH"
	ListItemStatusConfirmedMatch    ListItemStatus = "CONFIRMED_MATCH"
	ListItemStatusErrorMatching     ListItemStatus = "ERROR_MATCHING"
)

// MatchableStatuses are the statuses of list items that are fed to matching.
var MatchableStatuses = []ListItemStatus{ListItemStatusGeocoded, ListItemStatusGeocodedNoResults}

// MatchedStatuses are the statuses the exact match pre-filter accepts as prior matches.
var MatchedStatuses = []ListItemStatus{ListItemStatusMatched, ListItemStatusConfirmedMatch}

// FacilityListItem is one row submitted by a contributor.
type FacilityListItem struct {
	ID                string                            `json:"id" db:"id"`
	SourceID          string                            `json:"source_id" db:"source_id"`
	RowIndex          int                               `json:"row_index" db:"row_index"`
	RawData           string                            `json:"raw_data" db:"raw_data"`
	Status            ListItemStatus                    `json:"status" db:"status"`
	Name              string                            `json:"name" db:"name"`
	Address           string                            `json:"address" db:"address"`
	CountryCode       string                            `json:"country_code" db:"country_code"`
	CleanName         string                            `json:"clean_name" db:"clean_name"`
	CleanAddress      string                            `json:"clean_address" db:"clean_address"`
	Latitude          *float64                          `json:"latitude,omitempty" db:"latitude"`
	Longitude         *float64                          `json:"longitude,omitempty" db:"longitude"`
	GeocodedAddress   string                            `json:"geocoded_address" db:"geocoded_address"`
	FacilityID        *string                           `json:"facility_id,omitempty" db:"facility_id"`
	ProcessingResults database.JSONB[[]ProcessingResult] `json:"processing_results" db:"processing_results"`
	CreatedAt         time.Time                         `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time                         `json:"updated_at" db:"updated_at"`

	PPE
}

// Fields returns the raw matching fields of the item.
func (i *FacilityListItem) Fields() Fields {
	return Fields{Country: i.CountryCode, Name: i.Name, Address: i.Address}
}

// CleanFields returns the normalized matching fields, preferring the stored clean columns.
func (i *FacilityListItem) CleanFields() Fields {
	cleaned := i.Fields().Clean()
	if i.CleanName != "" {
		cleaned.Name = i.CleanName
	}
	if i.CleanAddress != "" {
		cleaned.Address = i.CleanAddress
	}
	return cleaned
}

// HasLocation reports whether geocoding produced a point for the item.
func (i *FacilityListItem) HasLocation() bool {
	return i.Latitude != nil && i.Longitude != nil && i.Status != ListItemStatusGeocodedNoResults
}

const ProcessingActionMatch = "match"

// ProcessingResult is one entry in a list item's audit trail.
type ProcessingResult struct {
	Action     string    `json:"action"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      bool      `json:"error"`
	Message    string    `json:"message,omitempty"`
}
