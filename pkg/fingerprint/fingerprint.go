// Package fingerprint derives stable content hashes for facility records.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Fields fingerprints the cleaned form of f. Records that only differ in
// case, punctuation or spacing share a fingerprint.
func Fields(f models.Fields) string {
	clean := f.Clean()
	return Generate(map[string]any{
		"country": clean.Country,
		"name":    clean.Name,
		"address": clean.Address,
	})
}

// Generate is the SHA256 of the canonical JSON of data.
func Generate(data map[string]any) string {
	hash := sha256.Sum256([]byte(canonicalize(data)))
	return hex.EncodeToString(hash[:])
}

// canonicalize renders data as JSON with map keys sorted at every level.
func canonicalize(data any) string {
	var b strings.Builder
	writeCanonical(&b, data)
	return b.String()
}

func writeCanonical(b *strings.Builder, data any) {
	switch v := data.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			keyJSON, _ := json.Marshal(k)
			b.Write(keyJSON)
			b.WriteByte(':')
			writeCanonical(b, v[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, elem := range v {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, elem)
		}
		b.WriteByte(']')
	default:
		raw, _ := json.Marshal(v)
		b.Write(raw)
	}
}
