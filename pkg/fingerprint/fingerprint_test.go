package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestFields(t *testing.T) {
	base := models.Fields{Country: "US", Name: "ACME Manufacturing", Address: "123 Main St"}

	tests := []struct {
		name  string
		other models.Fields
		same  bool
	}{
		{name: "identical", other: base, same: true},
		{name: "case and punctuation", other: models.Fields{Country: "us", Name: "acme manufacturing.", Address: "123 MAIN ST"}, same: true},
		{name: "different address", other: models.Fields{Country: "US", Name: "ACME Manufacturing", Address: "990 Elm St"}, same: false},
		{name: "different country", other: models.Fields{Country: "CA", Name: "ACME Manufacturing", Address: "123 Main St"}, same: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.same, Fields(base) == Fields(tt.other))
		})
	}
}

func TestGenerate_KeyOrderIndependent(t *testing.T) {
	a := map[string]any{"b": 1, "a": map[string]any{"y": []any{"x", 2}, "x": true}}
	b := map[string]any{"a": map[string]any{"x": true, "y": []any{"x", 2}}, "b": 1}

	assert.Equal(t, Generate(a), Generate(b))
	assert.Len(t, Generate(a), 64)
	assert.Equal(t, `{"a":{"x":true,"y":["x",2]},"b":1}`, canonicalize(a))
}
