package models

import (
	"time"

	"github.com/lib/pq"
)

// Facility is a canonical facility record. ID is an OS ID (see package osid).
type Facility struct {
	ID            string    `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	Address       string    `json:"address" db:"address"`
	CountryCode   string    `json:"country_code" db:"country_code"`
	Latitude      float64   `json:"latitude" db:"latitude"`
	Longitude     float64   `json:"longitude" db:"longitude"`
	CreatedFromID string    `json:"created_from_id" db:"created_from_id"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`

	PPE
}

// PPE holds the personal protective equipment details a facility or list item may carry.
type PPE struct {
	PPEProductTypes       pq.StringArray `json:"ppe_product_types" db:"ppe_product_types"`
	PPEContactPhoneNumber string         `json:"ppe_contact_phone_number" db:"ppe_contact_phone_number"`
	PPEContactEmail       string         `json:"ppe_contact_email" db:"ppe_contact_email"`
	PPEWebsite            string         `json:"ppe_website" db:"ppe_website"`
}

// Fill copies the values from other into the fields p does not have set.
// It reports whether anything changed.
func (p *PPE) Fill(other PPE) bool {
	changed := false
	if len(p.PPEProductTypes) == 0 && len(other.PPEProductTypes) > 0 {
		p.PPEProductTypes = append(pq.StringArray{}, other.PPEProductTypes...)
		changed = true
	}
	if p.PPEContactPhoneNumber == "" && other.PPEContactPhoneNumber != "" {
		p.PPEContactPhoneNumber = other.PPEContactPhoneNumber
		changed = true
	}
	if p.PPEContactEmail == "" && other.PPEContactEmail != "" {
		p.PPEContactEmail = other.PPEContactEmail
		changed = true
	}
	if p.PPEWebsite == "" && other.PPEWebsite != "" {
		p.PPEWebsite = other.PPEWebsite
		changed = true
	}
	return changed
}

func (p PPE) HasAny() bool {
	return len(p.PPEProductTypes) > 0 || p.PPEContactPhoneNumber != "" || p.PPEContactEmail != "" || p.PPEWebsite != ""
}

// Fields returns the matching fields of the facility.
func (f *Facility) Fields() Fields {
	return Fields{Country: f.CountryCode, Name: f.Name, Address: f.Address}
}
