package gazetteer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/repositories/trainedmodel"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/linkage"
	"github.com/Ramsey-B/fern/pkg/models"
)

type memoryArtifacts struct {
	mu        sync.Mutex
	artifacts map[string]*models.TrainedModel
	active    string
	creates   int
}

func newMemoryArtifacts() *memoryArtifacts {
	return &memoryArtifacts{artifacts: make(map[string]*models.TrainedModel)}
}

func (s *memoryArtifacts) GetActive(context.Context) (*models.TrainedModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == "" {
		return nil, trainedmodel.ErrNoActiveModel
	}
	artifact := *s.artifacts[s.active]
	return &artifact, nil
}

func (s *memoryArtifacts) Create(_ context.Context, blob []byte) (*models.TrainedModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	artifact := &models.TrainedModel{
		ID:        fmt.Sprintf("v%d", s.creates),
		Blob:      blob,
		CreatedAt: time.Date(2024, 1, 1, 0, s.creates, 0, 0, time.UTC),
	}
	s.artifacts[artifact.ID] = artifact
	copied := *artifact
	return &copied, nil
}

func (s *memoryArtifacts) Activate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = id
	return nil
}

func (s *memoryArtifacts) ActiveVersion(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, nil
}

func (s *memoryArtifacts) createCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

type memoryCanonical struct {
	mu      sync.Mutex
	records map[string]models.Fields
	reads   int
}

func (s *memoryCanonical) CanonicalRecords(context.Context) (map[string]models.Fields, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	out := make(map[string]models.Fields, len(s.records))
	for id, f := range s.records {
		out[id] = f
	}
	return out, nil
}

func (s *memoryCanonical) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

type scriptedVersions struct {
	mu      sync.Mutex
	answers []string
	calls   int
}

func (s *scriptedVersions) ActiveVersion(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.calls++ }()
	if s.calls < len(s.answers) {
		return s.answers[s.calls], nil
	}
	return "elsewhere", nil
}

func (s *scriptedVersions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type countingInvalidator struct {
	calls int
}

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.calls++
	return nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
}

func canonicalFacilities() *memoryCanonical {
	return &memoryCanonical{records: map[string]models.Fields{
		"US2020123ABCDE1": {Country: "US", Name: "acme shirts", Address: "1 main st"},
		"US2020123FGHJK2": {Country: "US", Name: "globex garments", Address: "200 industrial park rd"},
	}}
}

// activateHandTrained stores an artifact with fixed weights so scores are predictable.
func activateHandTrained(t *testing.T, store *memoryArtifacts) string {
	t.Helper()
	trained := &linkage.Trained{
		Classifier: linkage.Classifier{Coef: []float64{3, 1, 3, 1, 1, 1}, Intercept: -6},
		Predicates: []string{"address_first_number", "name_first_token"},
	}
	blob, err := trained.Encode()
	require.NoError(t, err)
	artifact, err := store.Create(context.Background(), blob)
	require.NoError(t, err)
	require.NoError(t, store.Activate(context.Background(), artifact.ID))
	return artifact.ID
}

func TestCache_SearchLoadsActiveArtifact(t *testing.T) {
	ctx := context.Background()
	store := newMemoryArtifacts()
	version := activateHandTrained(t, store)
	cache := NewCache(store, canonicalFacilities(), Config{}, testLogger(),
		WithModelOptions(linkage.WithVersionChecker(store)))

	assert.False(t, cache.Ready())

	outcome, err := cache.Search(ctx, map[string]models.Fields{
		"item-1": {Country: "US", Name: "acme shirts", Address: "1 main st"},
	}, 0.5, 0)
	require.NoError(t, err)

	assert.True(t, cache.Ready())
	assert.Equal(t, version, cache.Version())
	assert.Equal(t, linkage.OutcomeMatches, outcome.Kind)
	require.NotEmpty(t, outcome.Matches["item-1"])
	assert.Equal(t, "US2020123ABCDE1", outcome.Matches["item-1"][0].CandidateID)
}

func TestCache_TrainsWhenNoArtifactIsActive(t *testing.T) {
	ctx := context.Background()
	store := newMemoryArtifacts()
	invalidator := &countingInvalidator{}
	cache := NewCache(store, canonicalFacilities(), Config{}, testLogger(), WithVersionCache(invalidator))

	_, err := cache.Search(ctx, map[string]models.Fields{
		"item-1": {Country: "US", Name: "acme shirts", Address: "1 main st"},
	}, 0.5, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, store.createCount())
	active, _ := store.ActiveVersion(ctx)
	assert.Equal(t, active, cache.Version())
	assert.Equal(t, 1, invalidator.calls)
}

func TestCache_ConcurrentFirstUseLoadsOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemoryArtifacts()
	activateHandTrained(t, store)
	canonical := canonicalFacilities()
	cache := NewCache(store, canonical, Config{}, testLogger())

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Search(ctx, map[string]models.Fields{
				"item": {Country: "US", Name: "globex garments", Address: "200 industrial park rd"},
			}, 0.5, 0)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, canonical.readCount())
}

func TestCache_ReloadsOnceWhenOutOfDate(t *testing.T) {
	ctx := context.Background()
	store := newMemoryArtifacts()
	first := activateHandTrained(t, store)
	canonical := canonicalFacilities()
	cache := NewCache(store, canonical, Config{}, testLogger(),
		WithModelOptions(linkage.WithVersionChecker(store)))

	require.NoError(t, cache.Index(ctx, map[string]models.Fields{
		"US2021001MNPQR3": {Country: "US", Name: "initech textiles", Address: "5 river rd"},
	}))
	assert.Equal(t, first, cache.Version())

	second := activateHandTrained(t, store)

	outcome, err := cache.Search(ctx, map[string]models.Fields{
		"item-1": {Country: "US", Name: "acme shirts", Address: "1 main st"},
	}, 0.5, 0)
	require.NoError(t, err)
	assert.Equal(t, second, cache.Version())
	assert.Equal(t, linkage.OutcomeMatches, outcome.Kind)
	assert.Equal(t, 2, canonical.readCount())
}

func TestCache_SecondOutOfDateFailurePropagates(t *testing.T) {
	ctx := context.Background()
	store := newMemoryArtifacts()
	version := activateHandTrained(t, store)
	// load, search, reload, retried search
	checker := &scriptedVersions{answers: []string{version, "elsewhere", version, "elsewhere"}}
	cache := NewCache(store, canonicalFacilities(), Config{}, testLogger(),
		WithModelOptions(linkage.WithVersionChecker(checker)))

	_, err := cache.Search(ctx, map[string]models.Fields{
		"item-1": {Country: "US", Name: "acme shirts", Address: "1 main st"},
	}, 0.5, 0)
	assert.ErrorIs(t, err, linkage.ErrModelOutOfDate)
	assert.Equal(t, 4, checker.count())
}

func TestCache_IndexWithoutCanonicalRecordsIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newMemoryArtifacts()
	cache := NewCache(store, &memoryCanonical{}, Config{}, testLogger())

	err := cache.Index(ctx, map[string]models.Fields{
		"US2020123ABCDE1": {Country: "US", Name: "acme shirts", Address: "1 main st"},
	})
	require.NoError(t, err)
	assert.False(t, cache.Ready())
	assert.Equal(t, 0, store.createCount())

	_, err = cache.Search(ctx, map[string]models.Fields{
		"item-1": {Country: "US", Name: "acme shirts", Address: "1 main st"},
	}, 0.5, 0)
	assert.ErrorIs(t, err, linkage.ErrNoCanonicalRecords)
}

// txRecorder notes whether each storage call ran inside a caller's transaction.
type txRecorder struct {
	mu    sync.Mutex
	inTx  map[string]bool
	inner *memoryArtifacts
	src   *memoryCanonical
}

func (r *txRecorder) note(ctx context.Context, op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := database.TxFromContext(ctx)
	r.inTx[op] = r.inTx[op] || ok
}

func (r *txRecorder) CanonicalRecords(ctx context.Context) (map[string]models.Fields, error) {
	r.note(ctx, "canonical")
	return r.src.CanonicalRecords(ctx)
}

func (r *txRecorder) GetActive(ctx context.Context) (*models.TrainedModel, error) {
	r.note(ctx, "get_active")
	return r.inner.GetActive(ctx)
}

func (r *txRecorder) Create(ctx context.Context, blob []byte) (*models.TrainedModel, error) {
	r.note(ctx, "create")
	return r.inner.Create(ctx, blob)
}

func (r *txRecorder) Activate(ctx context.Context, id string) error {
	r.note(ctx, "activate")
	return r.inner.Activate(ctx, id)
}

func TestCache_LoadRunsOutsideCallerTransaction(t *testing.T) {
	recorder := &txRecorder{
		inTx:  make(map[string]bool),
		inner: newMemoryArtifacts(),
		src:   canonicalFacilities(),
	}
	cache := NewCache(recorder, recorder, Config{}, testLogger())

	ctx := database.ContextWithTx(context.Background(), database.NewTx(&sqlx.Tx{}, testLogger()))
	_, inTx := database.TxFromContext(ctx)
	require.True(t, inTx)

	require.NoError(t, cache.Index(ctx, map[string]models.Fields{
		"US2021001MNPQR3": {Country: "US", Name: "initech textiles", Address: "5 river rd"},
	}))

	assert.True(t, cache.Ready())
	assert.Equal(t, map[string]bool{
		"canonical":  false,
		"get_active": false,
		"create":     false,
		"activate":   false,
	}, recorder.inTx)
}

func TestCache_SwapKeepsNewerArtifact(t *testing.T) {
	store := newMemoryArtifacts()
	cache := NewCache(store, canonicalFacilities(), Config{}, testLogger())
	trained := &linkage.Trained{
		Classifier: linkage.Classifier{Coef: []float64{1, 1, 1, 1, 1, 1}},
		Predicates: []string{"name_first_token"},
	}
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	installed := cache.swap(linkage.NewModel("v2", trained), newer)
	assert.Equal(t, "v2", installed.Version())

	installed = cache.swap(linkage.NewModel("v1", trained), older)
	assert.Equal(t, "v2", installed.Version())
	assert.Equal(t, "v2", cache.Version())

	installed = cache.swap(linkage.NewModel("v3", trained), newer.Add(time.Hour))
	assert.Equal(t, "v3", installed.Version())
	assert.Equal(t, "v3", cache.Version())
}

func TestCache_WarmLoadsInBackground(t *testing.T) {
	recorder := &txRecorder{
		inTx:  make(map[string]bool),
		inner: newMemoryArtifacts(),
		src:   canonicalFacilities(),
	}
	activateHandTrained(t, recorder.inner)
	cache := NewCache(recorder, recorder, Config{}, testLogger())

	ctx, cancel := context.WithCancel(database.ContextWithTx(context.Background(), database.NewTx(&sqlx.Tx{}, testLogger())))
	cache.Warm(ctx)
	cancel()

	require.Eventually(t, cache.Ready, time.Second, 5*time.Millisecond)
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	assert.False(t, recorder.inTx["canonical"])
	assert.False(t, recorder.inTx["get_active"])
}
