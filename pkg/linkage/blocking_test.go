package linkage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestBlockKeys(t *testing.T) {
	rec := models.Fields{Country: "US", Name: "acme shirts", Address: "1 main st"}

	keys := BlockKeys(rec, []string{"name_first_token", "address_first_number", "unknown"})

	assert.Equal(t, []string{"name_first_token:US:acme", "address_first_number:US:1"}, keys)
	assert.Empty(t, BlockKeys(models.Fields{Name: "acme"}, []string{"name_first_token"}))
}

func TestBlockKeys_CountryIsPartOfKey(t *testing.T) {
	us := BlockKeys(models.Fields{Country: "US", Name: "acme"}, []string{"name_first_token"})
	bd := BlockKeys(models.Fields{Country: "BD", Name: "acme"}, []string{"name_first_token"})

	assert.NotEqual(t, us, bd)
}

func TestLearnPredicates(t *testing.T) {
	canonical := map[string]models.Fields{
		"F1": {Country: "US", Name: "acme shirts", Address: "1 main st"},
		"F2": {Country: "US", Name: "globex garments", Address: "200 industrial park rd"},
	}

	t.Run("no positives falls back to defaults", func(t *testing.T) {
		assert.Equal(t, DefaultPredicates, learnPredicates(nil, canonical, 50))
	})

	t.Run("chosen predicates cover every positive pair", func(t *testing.T) {
		positives := []Pair{
			{A: models.Fields{Country: "US", Name: "acme shirts", Address: "1 main st"}, B: models.Fields{Country: "US", Name: "acme shirts inc", Address: "1 main street"}},
			{A: models.Fields{Country: "US", Name: "the globex co", Address: "200 park rd"}, B: models.Fields{Country: "US", Name: "globex", Address: "200 industrial park rd"}},
		}

		chosen := learnPredicates(positives, canonical, 50)

		assert.NotEmpty(t, chosen)
		for _, pair := range positives {
			covered := false
			for _, name := range chosen {
				covered = covered || sharesBlock(pair.A, pair.B, name)
			}
			assert.True(t, covered, "pair %v not covered by %v", pair, chosen)
		}
	})
}
