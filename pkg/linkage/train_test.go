package linkage

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestLoadPairs_Bundled(t *testing.T) {
	pairs, err := LoadPairs("")
	require.NoError(t, err)

	assert.NotEmpty(t, pairs.Match)
	assert.NotEmpty(t, pairs.Distinct)
	assert.LessOrEqual(t, pairs.Len(), MaxTrainingPairs)
}

func TestLabeledPairs_Cap(t *testing.T) {
	rec := models.Fields{Country: "US", Name: "a", Address: "b"}
	pairs := LabeledPairs{
		Match:    make([]Pair, 30),
		Distinct: make([]Pair, 70),
	}
	for i := range pairs.Match {
		pairs.Match[i] = Pair{A: rec, B: rec}
	}

	capped := pairs.Cap(10)

	assert.Equal(t, 10, capped.Len())
	assert.Len(t, capped.Match, 3)
	assert.Len(t, capped.Distinct, 7)
	assert.Equal(t, pairs, pairs.Cap(0))
}

func TestTrain(t *testing.T) {
	ctx := context.Background()
	pairs, err := LoadPairs("")
	require.NoError(t, err)

	canonical := map[string]models.Fields{
		"F1": models.Fields{Country: "US", Name: "ACME Shirts", Address: "1 Main St"}.Clean(),
		"F2": models.Fields{Country: "US", Name: "Globex Garments", Address: "200 Industrial Park Rd"}.Clean(),
	}

	trained, err := Train(ctx, testLogger(), pairs, canonical, TrainOptions{})
	require.NoError(t, err)

	assert.Equal(t, pairs.Len(), trained.PairCount)
	require.NotEmpty(t, trained.Predicates)
	for _, name := range trained.Predicates {
		assert.Contains(t, PredicateNames(), name)
	}

	identical, _ := Compare(canonical["F1"], canonical["F1"])
	near, _ := Compare(canonical["F1"], models.Fields{Country: "US", Name: "Acme Shirt Co", Address: "1 Main Street"}.Clean())
	distinct, _ := Compare(canonical["F1"], canonical["F2"])

	assert.Greater(t, trained.Classifier.Score(identical), 0.8)
	assert.Greater(t, trained.Classifier.Score(near), trained.Classifier.Score(distinct))
	assert.Less(t, trained.Classifier.Score(distinct), 0.5)
}

func TestTrain_Errors(t *testing.T) {
	ctx := context.Background()
	pairs, err := LoadPairs("")
	require.NoError(t, err)

	_, err = Train(ctx, testLogger(), pairs, nil, TrainOptions{})
	assert.ErrorIs(t, err, ErrNoCanonicalRecords)

	canonical := map[string]models.Fields{"F1": {Country: "US", Name: "acme", Address: "1 main st"}}
	_, err = Train(ctx, testLogger(), LabeledPairs{}, canonical, TrainOptions{})
	assert.ErrorIs(t, err, ErrNoTrainingPairs)
}

func TestArtifactRoundTrip(t *testing.T) {
	trained := handTrained()
	trained.PairCount = 12

	blob, err := trained.Encode()
	require.NoError(t, err)

	decoded, err := Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, trained.Classifier, decoded.Classifier)
	assert.Equal(t, trained.Predicates, decoded.Predicates)
	assert.Equal(t, 12, decoded.PairCount)

	_, err = Decode([]byte("not a model"))
	assert.Error(t, err)
}
