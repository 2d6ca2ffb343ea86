package linkage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// BlockEntry is one blocking key assignment persisted for retrain diffing.
type BlockEntry struct {
	BlockKey string
	RecordID string
}

// BlockingStore persists the block keys every record was indexed under, per model version.
type BlockingStore interface {
	InsertBlocks(ctx context.Context, modelVersion string, entries []BlockEntry) error
}

// VersionChecker reports the version of the currently active artifact.
// An empty version means no artifact is active.
type VersionChecker interface {
	ActiveVersion(ctx context.Context) (string, error)
}

type Option func(*Model)

func WithBlockingStore(store BlockingStore) Option {
	return func(m *Model) { m.blocks = store }
}

func WithVersionChecker(checker VersionChecker) Option {
	return func(m *Model) { m.versions = checker }
}

func WithLogger(logger ectologger.Logger) Option {
	return func(m *Model) { m.logger = logger }
}

// Model is a trained classifier bound to an artifact version, plus the
// gazetteer of canonical records it searches.
type Model struct {
	version    string
	classifier Classifier
	predicates []string

	blocks   BlockingStore
	versions VersionChecker
	logger   ectologger.Logger

	mu       sync.RWMutex
	records  map[string]models.Fields
	keysByID map[string][]string
	index    map[string]map[string]struct{}
}

// NewModel binds a training result to the artifact version it was stored as.
func NewModel(version string, trained *Trained, opts ...Option) *Model {
	m := &Model{
		version:    version,
		classifier: trained.Classifier,
		predicates: append([]string{}, trained.Predicates...),
		records:    make(map[string]models.Fields),
		keysByID:   make(map[string][]string),
		index:      make(map[string]map[string]struct{}),
		logger:     ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Model) Version() string {
	return m.version
}

func (m *Model) Predicates() []string {
	return append([]string{}, m.predicates...)
}

// Size returns the number of indexed canonical records.
func (m *Model) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *Model) checkVersion(ctx context.Context) error {
	if m.versions == nil {
		return nil
	}
	active, err := m.versions.ActiveVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to read active model version: %w", err)
	}
	if active != "" && active != m.version {
		return fmt.Errorf("%w: loaded %s, active %s", ErrModelOutOfDate, m.version, active)
	}
	return nil
}

// Index adds or replaces canonical records. The block keys are persisted
// before the in-memory index changes, so a failed write leaves the index untouched.
func (m *Model) Index(ctx context.Context, records map[string]models.Fields) error {
	ctx, span := tracing.StartSpan(ctx, "linkage.Model.Index")
	defer span.End()

	if len(records) == 0 {
		return nil
	}
	if err := m.checkVersion(ctx); err != nil {
		return err
	}

	keys := make(map[string][]string, len(records))
	var entries []BlockEntry
	for id, fields := range records {
		recordKeys := BlockKeys(fields, m.predicates)
		keys[id] = recordKeys
		for _, key := range recordKeys {
			entries = append(entries, BlockEntry{BlockKey: key, RecordID: id})
		}
	}

	if m.blocks != nil && len(entries) > 0 {
		if err := m.blocks.InsertBlocks(ctx, m.version, entries); err != nil {
			return fmt.Errorf("failed to persist block keys: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, fields := range records {
		m.removeLocked(id)
		m.records[id] = fields
		m.keysByID[id] = keys[id]
		for _, key := range keys[id] {
			ids, ok := m.index[key]
			if !ok {
				ids = make(map[string]struct{})
				m.index[key] = ids
			}
			ids[id] = struct{}{}
		}
	}

	m.logger.WithContext(ctx).WithFields(map[string]any{
		"model_version": m.version,
		"records":       len(records),
	}).Debug("Indexed canonical records")
	return nil
}

// Unindex removes records from the in-memory index. Persisted block keys are
// kept so the records still count as seen when diffing for a retrain.
func (m *Model) Unindex(ctx context.Context, ids []string) error {
	ctx, span := tracing.StartSpan(ctx, "linkage.Model.Unindex")
	defer span.End()

	if len(ids) == 0 {
		return nil
	}
	if err := m.checkVersion(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.removeLocked(id)
	}
	return nil
}

func (m *Model) removeLocked(id string) {
	for _, key := range m.keysByID[id] {
		if ids, ok := m.index[key]; ok {
			delete(ids, id)
			if len(ids) == 0 {
				delete(m.index, key)
			}
		}
	}
	delete(m.keysByID, id)
	delete(m.records, id)
}

// OutcomeKind tags the result of a search.
type OutcomeKind int

const (
	OutcomeMatches OutcomeKind = iota
	OutcomeNoCanonicalRecords
	OutcomeNoBlockingIntersection
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeMatches:
		return "matches"
	case OutcomeNoCanonicalRecords:
		return "no_canonical_records"
	case OutcomeNoBlockingIntersection:
		return "no_blocking_intersection"
	default:
		return "unknown"
	}
}

// SearchOutcome is the result of a search. Matches is only set for OutcomeMatches
// and holds, per query ID, the candidates at or above the threshold, best first.
type SearchOutcome struct {
	Kind    OutcomeKind
	Matches map[string][]models.ScoredCandidate
}

// Search scores each query against the canonical records that share a block with it.
// maxMatches limits the candidates per query; zero means no limit.
func (m *Model) Search(ctx context.Context, queries map[string]models.Fields, threshold float64, maxMatches int) (SearchOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "linkage.Model.Search")
	defer span.End()

	if err := m.checkVersion(ctx); err != nil {
		return SearchOutcome{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.records) == 0 {
		return SearchOutcome{Kind: OutcomeNoCanonicalRecords}, nil
	}

	matches := make(map[string][]models.ScoredCandidate)
	blocked := false
	for id, query := range queries {
		candidates := m.candidatesLocked(query)
		if len(candidates) > 0 {
			blocked = true
		}

		var scored []models.ScoredCandidate
		for _, candidateID := range candidates {
			features, ok := Compare(query, m.records[candidateID])
			if !ok {
				continue
			}
			if score := m.classifier.Score(features); score >= threshold {
				scored = append(scored, models.ScoredCandidate{CandidateID: candidateID, Score: score})
			}
		}
		if len(scored) == 0 {
			continue
		}

		sort.Slice(scored, func(i, j int) bool {
			if scored[i].Score != scored[j].Score {
				return scored[i].Score > scored[j].Score
			}
			return scored[i].CandidateID < scored[j].CandidateID
		})
		if maxMatches > 0 && len(scored) > maxMatches {
			scored = scored[:maxMatches]
		}
		matches[id] = scored
	}

	if !blocked {
		return SearchOutcome{Kind: OutcomeNoBlockingIntersection}, nil
	}

	m.logger.WithContext(ctx).WithFields(map[string]any{
		"model_version": m.version,
		"queries":       len(queries),
		"matched":       len(matches),
	}).Debug("Searched gazetteer")

	return SearchOutcome{Kind: OutcomeMatches, Matches: matches}, nil
}

func (m *Model) candidatesLocked(query models.Fields) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, key := range BlockKeys(query, m.predicates) {
		for id := range m.index[key] {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Threshold picks the score cutoff that maximizes the expected F-score of
// matching queries against the index, with recall weighted by recallWeight.
// It is meant for offline tuning.
func (m *Model) Threshold(ctx context.Context, queries map[string]models.Fields, recallWeight float64) (float64, error) {
	outcome, err := m.Search(ctx, queries, 0, 0)
	if err != nil {
		return 0, err
	}
	if outcome.Kind == OutcomeNoCanonicalRecords {
		return 0, ErrNoCanonicalRecords
	}

	var scores []float64
	for _, candidates := range outcome.Matches {
		for _, c := range candidates {
			scores = append(scores, c.Score)
		}
	}
	return expectedFThreshold(scores, recallWeight), nil
}

// expectedFThreshold treats each score as the probability its pair is a true
// match and returns the score at which the expected F-beta peaks.
func expectedFThreshold(scores []float64, recallWeight float64) float64 {
	if len(scores) == 0 {
		return 0.5
	}
	sorted := append([]float64{}, scores...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	total := 0.0
	for _, s := range sorted {
		total += s
	}
	if total == 0 {
		return 0.5
	}

	beta2 := recallWeight * recallWeight
	best, bestF := sorted[0], -1.0
	truePositives := 0.0
	for i, s := range sorted {
		truePositives += s
		precision := truePositives / float64(i+1)
		recall := truePositives / total
		denom := beta2*precision + recall
		if denom == 0 {
			continue
		}
		f := (1 + beta2) * precision * recall / denom
		if f > bestF {
			best, bestF = s, f
		}
	}
	return best
}
