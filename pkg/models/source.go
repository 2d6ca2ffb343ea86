package models

import "time"

// Source is a contributor submission: a facility list or a single API item.
type Source struct {
	ID            string    `json:"id" db:"id"`
	ContributorID string    `json:"contributor_id" db:"contributor_id"`
	Create        bool      `json:"create" db:"create_facilities"`
	IsActive      bool      `json:"is_active" db:"is_active"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
