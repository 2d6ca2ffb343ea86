// Package osid generates and validates facility identifiers and the
// extended keys that represent confirmed matches in the gazetteer.
package osid

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Alphabet is Crockford's base-32 symbol set.
const Alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

const (
	// Length of a facility ID: country(2) + year and day(7) + random(5) + checksum(1).
	Length       = 15
	randomLength = 5
	matchInfix   = "_MATCH-"
)

var ErrInvalidCountry = errors.New("country code must be two letters")

var alphabetIndex = func() map[rune]int {
	idx := make(map[rune]int, len(Alphabet))
	for i, r := range Alphabet {
		idx[r] = i
	}
	return idx
}()

// New returns a fresh facility ID for the given country, stamped with the current date.
func New(country string) (string, error) {
	return newAt(country, time.Now().UTC())
}

func newAt(country string, at time.Time) (string, error) {
	country = strings.ToUpper(strings.TrimSpace(country))
	if len(country) != 2 || !isLetter(country[0]) || !isLetter(country[1]) {
		return "", ErrInvalidCountry
	}

	var b strings.Builder
	b.Grow(Length)
	b.WriteString(country)
	b.WriteString(fmt.Sprintf("%04d%03d", at.Year(), at.YearDay()))

	base := big.NewInt(int64(len(Alphabet)))
	for i := 0; i < randomLength; i++ {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", fmt.Errorf("failed to generate random id suffix: %w", err)
		}
		b.WriteByte(Alphabet[n.Int64()])
	}

	body := b.String()
	return body + string(Checksum(body)), nil
}

// Checksum computes the check symbol for the first 14 characters of an ID.
// The country characters contribute their byte values, the rest their alphabet index.
func Checksum(body string) byte {
	if len(body) < 2 {
		return 0
	}
	total := int(body[0]) + int(body[1])
	for _, r := range body[2:] {
		total += alphabetIndex[r]
	}
	return Alphabet[total%len(Alphabet)]
}

// Validate reports whether id is a well formed facility ID. Spaces and hyphens are ignored.
func Validate(id string) bool {
	id = Strip(id)
	if len(id) != Length {
		return false
	}
	for _, r := range id[2:] {
		if _, ok := alphabetIndex[r]; !ok {
			return false
		}
	}
	return Checksum(id[:Length-1]) == id[Length-1]
}

// Strip removes the separators users commonly type into IDs.
func Strip(id string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(strings.ToUpper(id))
}

// Extended returns the gazetteer key for a confirmed match against a facility.
func Extended(facilityID, matchID string) string {
	return facilityID + matchInfix + matchID
}

// Normalize returns the facility ID an extended key refers to. Plain IDs are returned unchanged.
func Normalize(key string) string {
	if i := strings.IndexByte(key, '_'); i >= 0 {
		return key[:i]
	}
	return key
}

// IsExtended reports whether key carries a match suffix.
func IsExtended(key string) bool {
	return strings.Contains(key, matchInfix)
}

// MatchID returns the match an extended key refers to, or "" for a plain ID.
func MatchID(key string) string {
	if _, matchID, ok := strings.Cut(key, matchInfix); ok {
		return matchID
	}
	return ""
}

func isLetter(c byte) bool {
	return c >= 'A' && c <= 'Z'
}
