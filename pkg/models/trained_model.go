package models

import "time"

// TrainedModel is a persisted gazetteer artifact. Artifacts are never mutated after creation.
type TrainedModel struct {
	ID        string    `json:"id" db:"id"`
	Blob      []byte    `json:"-" db:"blob"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
