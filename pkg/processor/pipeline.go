package processor

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type ExactMatcher interface {
	Match(ctx context.Context, queries map[string]models.Fields, contributorID string, defaults models.MatchDefaults) (*models.MatchResult, error)
}

type Orchestrator interface {
	MatchItems(ctx context.Context, messy map[string]models.Fields, defaults models.MatchDefaults) (*models.MatchResult, error)
}

// ListSummary reports what a ProcessList run did.
type ListSummary struct {
	SourceID     string                        `json:"source_id"`
	Items        int                           `json:"items"`
	ExactMatches int                           `json:"exact_matches"`
	Matches      int                           `json:"matches"`
	Statuses     map[models.ListItemStatus]int `json:"statuses"`
	Diagnostics  models.MatchDiagnostics       `json:"diagnostics"`
}

// Pipeline drives the items of a list through exact and gazetteer matching and
// persists the decisions in one transaction.
type Pipeline struct {
	tx           Transactor
	sources      SourceStore
	items        ListItemStore
	exact        ExactMatcher
	orchestrator Orchestrator
	engine       *DecisionEngine
	defaults     models.MatchDefaults
	events       EventPublisher
	graph        GraphProjector
	logger       ectologger.Logger
}

type PipelineOption func(*Pipeline)

func WithEventPublisher(events EventPublisher) PipelineOption {
	return func(p *Pipeline) { p.events = events }
}

func WithGraphProjector(graph GraphProjector) PipelineOption {
	return func(p *Pipeline) { p.graph = graph }
}

func NewPipeline(tx Transactor, sources SourceStore, items ListItemStore, exact ExactMatcher, orchestrator Orchestrator, engine *DecisionEngine, defaults models.MatchDefaults, logger ectologger.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		tx:           tx,
		sources:      sources,
		items:        items,
		exact:        exact,
		orchestrator: orchestrator,
		engine:       engine,
		defaults:     defaults,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessList matches every geocoded item of a source. Items that already
// moved on, including ones waiting for moderation, are left alone.
func (p *Pipeline) ProcessList(ctx context.Context, sourceID string) (*ListSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "processor.Pipeline.ProcessList")
	defer span.End()

	log := p.logger.WithContext(ctx).WithField("source_id", sourceID)

	src, err := p.sources.Get(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	listed, err := p.items.ListMatchable(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	batch := Batch{Source: src, Items: make(map[string]*models.FacilityListItem, len(listed))}
	queries := make(map[string]models.Fields, len(listed))
	for i := range listed {
		item := &listed[i]
		clean := item.Fields().Clean()
		item.CleanName, item.CleanAddress = clean.Name, clean.Address
		batch.Items[item.ID] = item
		queries[item.ID] = clean
	}

	exact, err := p.exact.Match(ctx, queries, src.ContributorID, p.defaults)
	if err != nil {
		return nil, err
	}
	for _, id := range exact.ProcessedListItemIDs {
		delete(queries, id)
	}

	gazetteer, err := p.orchestrator.MatchItems(ctx, queries, p.defaults)
	if err != nil {
		return nil, err
	}

	txCtx, tx, err := p.tx.GetTx(p.engine.hooks.Defer(ctx), nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(txCtx)

	var saved []*models.FacilityMatch
	for _, result := range []*models.MatchResult{exact, gazetteer} {
		matches, err := p.engine.SaveMatchDetails(txCtx, batch, result)
		if err != nil {
			return nil, err
		}
		saved = append(saved, matches...)
	}
	if err := tx.Commit(txCtx); err != nil {
		log.WithError(err).Error("Failed to commit match decisions")
		return nil, err
	}
	p.engine.hooks.Flush(txCtx)

	summary := &ListSummary{
		SourceID:     sourceID,
		Items:        len(listed),
		ExactMatches: len(exact.ProcessedListItemIDs),
		Matches:      len(saved),
		Statuses:     make(map[models.ListItemStatus]int),
		Diagnostics:  gazetteer.Results,
	}
	for _, item := range batch.Items {
		summary.Statuses[item.Status]++
	}

	p.publish(ctx, batch, saved)

	log.WithFields(map[string]any{
		"items":         summary.Items,
		"exact_matches": summary.ExactMatches,
		"matches":       summary.Matches,
		"statuses":      summary.Statuses,
	}).Info("Processed list")
	return summary, nil
}

// Preview matches a single record without persisting anything.
func (p *Pipeline) Preview(ctx context.Context, fields models.Fields, contributorID string) (*models.MatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "processor.Pipeline.Preview")
	defer span.End()

	const previewID = "preview"
	queries := map[string]models.Fields{previewID: fields.Clean()}

	exact, err := p.exact.Match(ctx, queries, contributorID, p.defaults)
	if err != nil {
		return nil, err
	}
	if len(exact.ProcessedListItemIDs) > 0 {
		return exact, nil
	}
	return p.orchestrator.MatchItems(ctx, queries, p.defaults)
}

// publish sends committed decisions to the optional event and graph sinks.
// Failures are logged; the decisions are already durable.
func (p *Pipeline) publish(ctx context.Context, batch Batch, saved []*models.FacilityMatch) {
	if p.graph != nil && len(saved) > 0 {
		if err := p.graph.ProjectMatches(ctx, saved); err != nil {
			p.logger.WithContext(ctx).WithError(err).Warn("Failed to project matches to graph")
		}
	}
	if p.events == nil {
		return
	}
	if err := p.events.PublishMatchEvents(ctx, BuildMatchEvents(batch, saved)); err != nil {
		p.logger.WithContext(ctx).WithError(err).Warn("Failed to publish match events")
	}
}

// BuildMatchEvents returns one event per item of the batch.
func BuildMatchEvents(batch Batch, saved []*models.FacilityMatch) []models.MatchEvent {
	byItem := make(map[string][]*models.FacilityMatch)
	for _, m := range saved {
		byItem[m.FacilityListItemID] = append(byItem[m.FacilityListItemID], m)
	}

	now := time.Now().UTC()
	events := make([]models.MatchEvent, 0, len(batch.Items))
	for _, item := range batch.Items {
		event := models.MatchEvent{
			ID:                uuid.New().String(),
			ListItemID:        item.ID,
			SourceID:          item.SourceID,
			Status:            item.Status,
			MatchIDs:          []string{},
			RecordFingerprint: fingerprint.Fields(item.Fields()),
			OccurredAt:        now,
		}
		if item.FacilityID != nil {
			event.FacilityID = *item.FacilityID
		}
		for _, m := range byItem[item.ID] {
			event.MatchIDs = append(event.MatchIDs, m.ID)
			if m.Status == models.MatchStatusAutomatic {
				event.Reason = m.Results.Data.Reason
			}
		}
		events = append(events, event)
	}
	return events
}
