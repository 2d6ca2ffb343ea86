package linkage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

type memoryBlocks struct {
	mu      sync.Mutex
	entries map[string][]BlockEntry
	err     error
}

func (s *memoryBlocks) InsertBlocks(_ context.Context, version string, entries []BlockEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.entries == nil {
		s.entries = make(map[string][]BlockEntry)
	}
	s.entries[version] = append(s.entries[version], entries...)
	return nil
}

type fixedVersion string

func (v fixedVersion) ActiveVersion(context.Context) (string, error) {
	return string(v), nil
}

// handTrained weighs name and address similarity heavily so scores are easy to reason about.
func handTrained() *Trained {
	return &Trained{
		Classifier: Classifier{Coef: []float64{3, 1, 3, 1, 1, 1}, Intercept: -6},
		Predicates: []string{"address_first_number", "name_first_token"},
	}
}

func canonicalSet() map[string]models.Fields {
	return map[string]models.Fields{
		"F1": {Country: "US", Name: "acme shirts", Address: "1 main st"},
		"F2": {Country: "US", Name: "globex garments", Address: "200 industrial park rd"},
		"F3": {Country: "BD", Name: "acme shirts", Address: "1 main st"},
	}
}

func TestModel_Search(t *testing.T) {
	ctx := context.Background()
	blocks := &memoryBlocks{}
	model := NewModel("v1", handTrained(), WithBlockingStore(blocks))
	require.NoError(t, model.Index(ctx, canonicalSet()))

	outcome, err := model.Search(ctx, map[string]models.Fields{
		"q1": {Country: "US", Name: "acme shirt", Address: "1 main street"},
		"q2": {Country: "US", Name: "globex garments", Address: "200 industrial park rd"},
	}, 0.5, 0)
	require.NoError(t, err)
	require.Equal(t, OutcomeMatches, outcome.Kind)

	require.Len(t, outcome.Matches["q1"], 1)
	assert.Equal(t, "F1", outcome.Matches["q1"][0].CandidateID)
	assert.Greater(t, outcome.Matches["q1"][0].Score, 0.5)

	require.Len(t, outcome.Matches["q2"], 1)
	assert.Equal(t, "F2", outcome.Matches["q2"][0].CandidateID)
	assert.Greater(t, outcome.Matches["q2"][0].Score, 0.95)

	assert.NotEmpty(t, blocks.entries["v1"])
}

func TestModel_SearchOutcomes(t *testing.T) {
	ctx := context.Background()

	t.Run("empty index", func(t *testing.T) {
		model := NewModel("v1", handTrained())
		outcome, err := model.Search(ctx, map[string]models.Fields{"q": {Country: "US", Name: "acme", Address: "1 main st"}}, 0.5, 0)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoCanonicalRecords, outcome.Kind)
	})

	t.Run("no shared block", func(t *testing.T) {
		model := NewModel("v1", handTrained())
		require.NoError(t, model.Index(ctx, canonicalSet()))

		outcome, err := model.Search(ctx, map[string]models.Fields{"q": {Country: "US", Name: "zenith", Address: "harbour road"}}, 0.5, 0)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoBlockingIntersection, outcome.Kind)
	})

	t.Run("blocked but below threshold", func(t *testing.T) {
		model := NewModel("v1", handTrained())
		require.NoError(t, model.Index(ctx, canonicalSet()))

		outcome, err := model.Search(ctx, map[string]models.Fields{"q": {Country: "US", Name: "acme socks", Address: "77 river rd"}}, 0.99, 0)
		require.NoError(t, err)
		assert.Equal(t, OutcomeMatches, outcome.Kind)
		assert.Empty(t, outcome.Matches)
	})
}

func TestModel_SearchMaxMatches(t *testing.T) {
	ctx := context.Background()
	model := NewModel("v1", handTrained())
	require.NoError(t, model.Index(ctx, map[string]models.Fields{
		"F1":         {Country: "US", Name: "acme shirts", Address: "1 main st"},
		"F1_MATCH-9": {Country: "US", Name: "acme shirts", Address: "1 main street"},
		"F4":         {Country: "US", Name: "acme shirts co", Address: "1 main st"},
	}))

	outcome, err := model.Search(ctx, map[string]models.Fields{"q": {Country: "US", Name: "acme shirts", Address: "1 main st"}}, 0.5, 2)
	require.NoError(t, err)

	require.Len(t, outcome.Matches["q"], 2)
	assert.Equal(t, "F1", outcome.Matches["q"][0].CandidateID)
	assert.GreaterOrEqual(t, outcome.Matches["q"][0].Score, outcome.Matches["q"][1].Score)
}

func TestModel_IndexReplacesAndUnindexRemoves(t *testing.T) {
	ctx := context.Background()
	blocks := &memoryBlocks{}
	model := NewModel("v1", handTrained(), WithBlockingStore(blocks))
	require.NoError(t, model.Index(ctx, canonicalSet()))
	persisted := len(blocks.entries["v1"])

	require.NoError(t, model.Index(ctx, map[string]models.Fields{
		"F1": {Country: "US", Name: "zenith mills", Address: "9 harbour rd"},
	}))
	assert.Equal(t, 3, model.Size())

	outcome, err := model.Search(ctx, map[string]models.Fields{"q": {Country: "US", Name: "acme shirts", Address: "1 main st"}}, 0.5, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoBlockingIntersection, outcome.Kind)

	require.NoError(t, model.Unindex(ctx, []string{"F1", "F2"}))
	assert.Equal(t, 1, model.Size())
	assert.Greater(t, len(blocks.entries["v1"]), persisted, "unindex keeps persisted block keys")
}

func TestModel_IndexLeavesMemoryUntouchedWhenPersistFails(t *testing.T) {
	ctx := context.Background()
	model := NewModel("v1", handTrained(), WithBlockingStore(&memoryBlocks{err: errors.New("db down")}))

	err := model.Index(ctx, canonicalSet())

	assert.Error(t, err)
	assert.Equal(t, 0, model.Size())
}

func TestModel_OutOfDate(t *testing.T) {
	ctx := context.Background()
	model := NewModel("v1", handTrained(), WithVersionChecker(fixedVersion("v2")))

	_, err := model.Search(ctx, map[string]models.Fields{}, 0.5, 0)
	assert.ErrorIs(t, err, ErrModelOutOfDate)
	assert.ErrorIs(t, model.Index(ctx, canonicalSet()), ErrModelOutOfDate)
	assert.ErrorIs(t, model.Unindex(ctx, []string{"F1"}), ErrModelOutOfDate)

	current := NewModel("v2", handTrained(), WithVersionChecker(fixedVersion("v2")))
	assert.NoError(t, current.Index(ctx, canonicalSet()))
}

func TestModel_Threshold(t *testing.T) {
	ctx := context.Background()
	model := NewModel("v1", handTrained())

	_, err := model.Threshold(ctx, map[string]models.Fields{"q": {Country: "US", Name: "acme", Address: "1 main st"}}, 1)
	assert.ErrorIs(t, err, ErrNoCanonicalRecords)

	require.NoError(t, model.Index(ctx, canonicalSet()))
	threshold, err := model.Threshold(ctx, map[string]models.Fields{
		"q1": {Country: "US", Name: "acme shirt", Address: "1 main street"},
		"q2": {Country: "US", Name: "globex garments", Address: "200 industrial park rd"},
	}, 1)
	require.NoError(t, err)
	assert.Greater(t, threshold, 0.0)
	assert.LessOrEqual(t, threshold, 1.0)
}

func TestExpectedFThreshold(t *testing.T) {
	tests := []struct {
		name     string
		scores   []float64
		weight   float64
		expected float64
	}{
		{name: "no scores", scores: nil, weight: 1, expected: 0.5},
		{name: "clear separation", scores: []float64{0.99, 0.98, 0.02, 0.01}, weight: 1, expected: 0.98},
		{name: "recall heavy keeps weaker pairs", scores: []float64{0.9, 0.6, 0.4}, weight: 4, expected: 0.4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, expectedFThreshold(tt.scores, tt.weight))
		})
	}
}
