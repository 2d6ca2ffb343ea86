package models

import "github.com/Ramsey-B/fern/pkg/normalizers"

// Fields are the attributes a facility record is matched on.
type Fields struct {
	Country string `json:"country" validate:"required,len=2"`
	Name    string `json:"name" validate:"required"`
	Address string `json:"address" validate:"required"`
}

// Clean returns the fields as they are compared at training, indexing and query time.
func (f Fields) Clean() Fields {
	return Fields{
		Country: normalizers.Country(f.Country),
		Name:    normalizers.Clean(f.Name),
		Address: normalizers.Clean(f.Address),
	}
}

// Complete reports whether every field carries a value.
func (f Fields) Complete() bool {
	return f.Country != "" && f.Name != "" && f.Address != ""
}
