package retrain

import (
	"context"
	"fmt"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/linkage"
	"github.com/Ramsey-B/fern/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
}

type memoryCanonical struct {
	records map[string]models.Fields
	// late records appear after the full read, as if written while training ran.
	late map[string]models.Fields
}

func (s *memoryCanonical) CanonicalRecords(context.Context) (map[string]models.Fields, error) {
	out := make(map[string]models.Fields, len(s.records))
	for id, f := range s.records {
		out[id] = f
	}
	return out, nil
}

func (s *memoryCanonical) CanonicalRecordsByKeys(_ context.Context, keys []string) (map[string]models.Fields, error) {
	out := make(map[string]models.Fields)
	for _, key := range keys {
		if f, ok := s.records[key]; ok {
			out[key] = f
		} else if f, ok := s.late[key]; ok {
			out[key] = f
		}
	}
	return out, nil
}

type memoryArtifacts struct {
	active  string
	created []string
}

func (s *memoryArtifacts) ActiveID(context.Context) (string, error) {
	return s.active, nil
}

func (s *memoryArtifacts) Create(_ context.Context, blob []byte) (*models.TrainedModel, error) {
	id := fmt.Sprintf("v%d", len(s.created)+1)
	s.created = append(s.created, id)
	return &models.TrainedModel{ID: id, Blob: blob}, nil
}

func (s *memoryArtifacts) Activate(_ context.Context, id string) error {
	s.active = id
	return nil
}

type memoryBlocks struct {
	rows    map[string]map[string]bool
	deleted []string
}

func newMemoryBlocks() *memoryBlocks {
	return &memoryBlocks{rows: make(map[string]map[string]bool)}
}

func (s *memoryBlocks) InsertBlocks(_ context.Context, version string, entries []linkage.BlockEntry) error {
	if s.rows[version] == nil {
		s.rows[version] = make(map[string]bool)
	}
	for _, e := range entries {
		s.rows[version][e.RecordID] = true
	}
	return nil
}

func (s *memoryBlocks) RecordIDsMissingFrom(_ context.Context, from, to string) ([]string, error) {
	var out []string
	for id := range s.rows[from] {
		if !s.rows[to][id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *memoryBlocks) DeleteVersion(_ context.Context, version string) error {
	delete(s.rows, version)
	s.deleted = append(s.deleted, version)
	return nil
}

type countingInvalidator struct {
	calls int
}

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.calls++
	return nil
}

func canonicalRecords() map[string]models.Fields {
	return map[string]models.Fields{
		"US2024001AAAAAA": models.Fields{Country: "US", Name: "ACME Shirts", Address: "1 Main St"}.Clean(),
		"US2024001BBBBBB": models.Fields{Country: "US", Name: "Globex Garments", Address: "200 Industrial Park Rd"}.Clean(),
		"BD2024001CCCCCC": models.Fields{Country: "BD", Name: "Dhaka Knitwear Ltd", Address: "45 Tongi Road Gazipur"}.Clean(),
	}
}

func TestJob_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("first training activates a fully indexed model", func(t *testing.T) {
		canonical := &memoryCanonical{records: canonicalRecords()}
		artifacts := &memoryArtifacts{}
		blocks := newMemoryBlocks()
		versions := &countingInvalidator{}

		report, err := NewJob(canonical, artifacts, blocks, versions, Config{}, testLogger()).Run(ctx)
		require.NoError(t, err)

		assert.Equal(t, "v1", report.Version)
		assert.Empty(t, report.PreviousVersion)
		assert.Equal(t, 3, report.Indexed)
		assert.Zero(t, report.Delta)
		assert.NotEmpty(t, report.Predicates)

		assert.Equal(t, "v1", artifacts.active)
		assert.Len(t, blocks.rows["v1"], 3)
		assert.Empty(t, blocks.deleted)
		assert.Equal(t, 1, versions.calls)
	})

	t.Run("retrain indexes records the previous version saw", func(t *testing.T) {
		const late = "US2024001AAAAAA_MATCH-42"
		lateFields := models.Fields{Country: "US", Name: "Acme Shirt Company", Address: "1 Main Street"}.Clean()

		canonical := &memoryCanonical{
			records: canonicalRecords(),
			late:    map[string]models.Fields{late: lateFields},
		}
		artifacts := &memoryArtifacts{active: "v0"}
		blocks := newMemoryBlocks()
		blocks.rows["v0"] = map[string]bool{
			"US2024001AAAAAA": true,
			late:              true,
			"US2024001DELETE": true,
		}

		report, err := NewJob(canonical, artifacts, blocks, nil, Config{}, testLogger()).Run(ctx)
		require.NoError(t, err)

		assert.Equal(t, "v0", report.PreviousVersion)
		assert.Equal(t, 1, report.Delta)
		assert.Equal(t, 4, report.Indexed)
		assert.True(t, blocks.rows[report.Version][late])
		assert.False(t, blocks.rows[report.Version]["US2024001DELETE"])

		assert.Equal(t, report.Version, artifacts.active)
		assert.Equal(t, []string{"v0"}, blocks.deleted)
		assert.NotContains(t, blocks.rows, "v0")
	})

	t.Run("empty canonical set aborts before training", func(t *testing.T) {
		artifacts := &memoryArtifacts{}

		_, err := NewJob(&memoryCanonical{}, artifacts, newMemoryBlocks(), nil, Config{}, testLogger()).Run(ctx)

		require.ErrorIs(t, err, linkage.ErrNoCanonicalRecords)
		assert.Empty(t, artifacts.created)
		assert.Empty(t, artifacts.active)
	})
}
