package processor

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/linkage"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
}

func ptr[T any](v T) *T {
	return &v
}

type fakeTx struct {
	committed  bool
	rolledBack bool
	commitErr  error
}

func (t *fakeTx) GetContext(context.Context, any, string, ...any) error { return sql.ErrConnDone }
func (t *fakeTx) SelectContext(context.Context, any, string, ...any) error {
	return sql.ErrConnDone
}
func (t *fakeTx) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, sql.ErrConnDone
}
func (t *fakeTx) IsOpen() bool { return !t.committed && !t.rolledBack }
func (t *fakeTx) Commit(context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	if t.IsOpen() {
		t.committed = true
	}
	return nil
}
func (t *fakeTx) Rollback(context.Context) error {
	if t.IsOpen() {
		t.rolledBack = true
	}
	return nil
}

type fakeTransactor struct {
	txs       []*fakeTx
	commitErr error
}

func (f *fakeTransactor) GetTx(ctx context.Context, _ *sql.TxOptions) (context.Context, database.Tx, error) {
	tx := &fakeTx{commitErr: f.commitErr}
	f.txs = append(f.txs, tx)
	return ctx, tx, nil
}

type memoryStore struct {
	mu         sync.Mutex
	facilities map[string]*models.Facility
	matches    map[string]*models.FacilityMatch
	items      map[string]*models.FacilityListItem
	sources    map[string]*models.Source
	locked     []string
	nextID     int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		facilities: make(map[string]*models.Facility),
		matches:    make(map[string]*models.FacilityMatch),
		items:      make(map[string]*models.FacilityListItem),
		sources:    make(map[string]*models.Source),
	}
}

func (s *memoryStore) id(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

type facilityStore struct{ *memoryStore }

func (s facilityStore) Create(_ context.Context, f *models.Facility) (*models.Facility, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == "" {
		f.ID = fmt.Sprintf("US2024001NEW%03d", s.nextID)
		s.nextID++
	}
	copied := *f
	s.facilities[f.ID] = &copied
	return f, nil
}

func (s facilityStore) GetMany(_ context.Context, ids []string) (map[string]*models.Facility, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*models.Facility)
	for _, id := range ids {
		if f, ok := s.facilities[id]; ok {
			copied := *f
			out[id] = &copied
		}
	}
	return out, nil
}

func (s facilityStore) GetForUpdate(_ context.Context, id string) (*models.Facility, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.facilities[id]
	if !ok {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "facility %s not found", id)
	}
	s.locked = append(s.locked, id)
	copied := *f
	return &copied, nil
}

func (s facilityStore) UpdatePPE(_ context.Context, f *models.Facility) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facilities[f.ID].PPE = f.PPE
	return nil
}

type matchStore struct{ *memoryStore }

func (s matchStore) CreateBatch(_ context.Context, matches []*models.FacilityMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range matches {
		if m.ID == "" {
			m.ID = s.id("match")
		}
		copied := *m
		s.matches[m.ID] = &copied
	}
	return nil
}

func (s matchStore) GetForUpdate(_ context.Context, id string) (*models.FacilityMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "facility match %s not found", id)
	}
	copied := *m
	return &copied, nil
}

func (s matchStore) ListByListItem(_ context.Context, itemID string) ([]*models.FacilityMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.FacilityMatch
	for _, m := range s.matches {
		if m.FacilityListItemID == itemID {
			copied := *m
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s matchStore) UpdateState(_ context.Context, m *models.FacilityMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches[m.ID].Status = m.Status
	s.matches[m.ID].IsActive = m.IsActive
	return nil
}

func (s *memoryStore) byItem(itemID string) []*models.FacilityMatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.FacilityMatch
	for _, m := range s.matches {
		if m.FacilityListItemID == itemID {
			out = append(out, m)
		}
	}
	return out
}

type itemStore struct{ *memoryStore }

func (s itemStore) Get(_ context.Context, id string) (*models.FacilityListItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "facility list item %s not found", id)
	}
	copied := *item
	return &copied, nil
}

func (s itemStore) ListMatchable(_ context.Context, sourceID string) ([]models.FacilityListItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.FacilityListItem
	for _, item := range s.items {
		if item.SourceID != sourceID {
			continue
		}
		if item.Status == models.ListItemStatusGeocoded || item.Status == models.ListItemStatusGeocodedNoResults {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (s itemStore) UpdateMatchState(_ context.Context, item *models.FacilityListItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *item
	s.items[item.ID] = &copied
	return nil
}

type sourceStore struct{ *memoryStore }

func (s sourceStore) Get(_ context.Context, id string) (*models.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "source %s not found", id)
	}
	return src, nil
}

// exactStore answers exact match lookups from the matched items in memory.
type exactStore struct{ *memoryStore }

func (s exactStore) FindExactMatches(_ context.Context, f models.Fields) ([]matching.ExactCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []matching.ExactCandidate
	for _, item := range s.items {
		if item.FacilityID == nil {
			continue
		}
		if item.Status != models.ListItemStatusMatched && item.Status != models.ListItemStatusConfirmedMatch {
			continue
		}
		if item.CleanFields() != f {
			continue
		}
		out = append(out, matching.ExactCandidate{
			ListItemID:    item.ID,
			FacilityID:    *item.FacilityID,
			ActiveMatch:   true,
			ContributorID: s.sources[item.SourceID].ContributorID,
			UpdatedAt:     item.UpdatedAt,
		})
	}
	return out, nil
}

type facilityChecker struct{ *memoryStore }

func (s facilityChecker) ExistingIDs(_ context.Context, ids []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool)
	for _, id := range ids {
		if _, ok := s.facilities[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (s facilityChecker) Count(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.facilities), nil
}

type fakeGazetteer struct {
	indexed   map[string]models.Fields
	unindexed []string
	outcome   linkage.SearchOutcome
}

func newFakeGazetteer() *fakeGazetteer {
	return &fakeGazetteer{indexed: make(map[string]models.Fields)}
}

func (g *fakeGazetteer) Index(_ context.Context, records map[string]models.Fields) error {
	for id, f := range records {
		g.indexed[id] = f
	}
	return nil
}

func (g *fakeGazetteer) Unindex(_ context.Context, ids []string) error {
	g.unindexed = append(g.unindexed, ids...)
	return nil
}

func (g *fakeGazetteer) Search(context.Context, map[string]models.Fields, float64, int) (linkage.SearchOutcome, error) {
	return g.outcome, nil
}

type recordingEvents struct {
	events []models.MatchEvent
}

func (r *recordingEvents) PublishMatchEvents(_ context.Context, events []models.MatchEvent) error {
	r.events = append(r.events, events...)
	return nil
}

// fixture wires a decision engine, moderator and pipeline over one memory store.
type fixture struct {
	store     *memoryStore
	gazetteer *fakeGazetteer
	tx        *fakeTransactor
	events    *recordingEvents
	engine    *DecisionEngine
	moderator *Moderator
	pipeline  *Pipeline
}

func newFixture() *fixture {
	store := newMemoryStore()
	gaz := newFakeGazetteer()
	tx := &fakeTransactor{}
	events := &recordingEvents{}
	logger := testLogger()

	hooks := NewIndexHooks(gaz, logger)
	engine := NewDecisionEngine(facilityStore{store}, matchStore{store}, itemStore{store}, hooks, logger)
	moderator := NewModerator(tx, engine, facilityStore{store}, matchStore{store}, itemStore{store}, sourceStore{store}, hooks, logger)
	pipeline := NewPipeline(tx, sourceStore{store}, itemStore{store},
		matching.NewExactMatcher(exactStore{store}, "test", logger),
		matching.NewOrchestrator(gaz, facilityChecker{store}, "test", logger),
		engine, models.DefaultMatchDefaults(), logger, WithEventPublisher(events))

	return &fixture{
		store:     store,
		gazetteer: gaz,
		tx:        tx,
		events:    events,
		engine:    engine,
		moderator: moderator,
		pipeline:  pipeline,
	}
}

func (f *fixture) addSource(id, contributor string, create bool) *models.Source {
	src := &models.Source{ID: id, ContributorID: contributor, Create: create, IsActive: true}
	f.store.sources[id] = src
	return src
}

func (f *fixture) addFacility(id, name, address, country, createdFrom string) *models.Facility {
	fac := &models.Facility{ID: id, Name: name, Address: address, CountryCode: country, CreatedFromID: createdFrom}
	f.store.facilities[id] = fac
	return fac
}

func (f *fixture) addItem(item *models.FacilityListItem) *models.FacilityListItem {
	f.store.items[item.ID] = item
	return item
}

func geocodedItem(id, sourceID, name, address, country string) *models.FacilityListItem {
	return &models.FacilityListItem{
		ID:          id,
		SourceID:    sourceID,
		Status:      models.ListItemStatusGeocoded,
		Name:        name,
		Address:     address,
		CountryCode: country,
		Latitude:    ptr(23.8),
		Longitude:   ptr(90.4),
	}
}
