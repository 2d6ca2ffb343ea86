package processor

import (
	"context"
	"sync"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/osid"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// MatchChange is a match that was just created or updated, with the context the hooks need.
type MatchChange struct {
	Match *models.FacilityMatch
	// CreatedFromID is the list item the match's facility was created from.
	CreatedFromID string
	// Fields are the clean fields of the match's list item.
	Fields models.Fields
}

// SelfOriginating reports whether the match links a facility to the item it was created from.
func (c MatchChange) SelfOriginating() bool {
	return c.CreatedFromID != "" && c.CreatedFromID == c.Match.FacilityListItemID
}

// RecordKey is the gazetteer key of the match's record: the facility ID for the
// facility's own item, an extended key otherwise.
func (c MatchChange) RecordKey() string {
	if c.SelfOriginating() {
		return c.Match.FacilityID
	}
	return osid.Extended(c.Match.FacilityID, c.Match.ID)
}

type IndexAction int

const (
	IndexActionNone IndexAction = iota
	IndexActionIndex
	IndexActionUnindex
)

// Action decides how a match change affects the gazetteer.
func (c MatchChange) Action() IndexAction {
	m := c.Match
	switch {
	case m.IsActive && m.Status == models.MatchStatusAutomatic && c.SelfOriginating():
		return IndexActionIndex
	case m.IsActive && m.Status == models.MatchStatusConfirmed:
		return IndexActionIndex
	case !m.IsActive && !c.SelfOriginating():
		return IndexActionUnindex
	default:
		return IndexActionNone
	}
}

// IndexHooks keep the gazetteer in step with match state. They are called
// explicitly wherever matches are written. Inside a unit of work opened with
// Defer, changes are queued and only reach the gazetteer on Flush, after the
// transaction commits.
type IndexHooks struct {
	gazetteer Gazetteer
	logger    ectologger.Logger
}

func NewIndexHooks(gazetteer Gazetteer, logger ectologger.Logger) *IndexHooks {
	return &IndexHooks{gazetteer: gazetteer, logger: logger}
}

type pendingKey struct{}

type pendingChanges struct {
	mu      sync.Mutex
	changes []MatchChange
}

// Defer returns a context in which MatchesSaved queues changes instead of
// applying them. A context that already carries a queue is returned unchanged.
func (h *IndexHooks) Defer(ctx context.Context) context.Context {
	if _, ok := ctx.Value(pendingKey{}).(*pendingChanges); ok {
		return ctx
	}
	return context.WithValue(ctx, pendingKey{}, &pendingChanges{})
}

// Flush applies and clears the changes queued in ctx. The transaction they
// belong to has already committed, so a gazetteer failure is logged rather
// than returned; the records are read back from storage by the next load.
func (h *IndexHooks) Flush(ctx context.Context) {
	pending, ok := ctx.Value(pendingKey{}).(*pendingChanges)
	if !ok {
		return
	}
	pending.mu.Lock()
	changes := pending.changes
	pending.changes = nil
	pending.mu.Unlock()

	if err := h.apply(ctx, changes); err != nil {
		h.logger.WithContext(ctx).WithError(err).WithField("changes", len(changes)).Warn("Gazetteer not updated after commit")
	}
}

func (h *IndexHooks) MatchesSaved(ctx context.Context, changes []MatchChange) error {
	if pending, ok := ctx.Value(pendingKey{}).(*pendingChanges); ok {
		pending.mu.Lock()
		pending.changes = append(pending.changes, changes...)
		pending.mu.Unlock()
		return nil
	}
	return h.apply(ctx, changes)
}

func (h *IndexHooks) apply(ctx context.Context, changes []MatchChange) error {
	ctx, span := tracing.StartSpan(ctx, "processor.IndexHooks.apply")
	defer span.End()

	index := make(map[string]models.Fields)
	var unindex []string
	for _, c := range changes {
		switch c.Action() {
		case IndexActionIndex:
			index[c.RecordKey()] = c.Fields
		case IndexActionUnindex:
			unindex = append(unindex, c.RecordKey())
		}
	}

	if len(index) > 0 {
		if err := h.gazetteer.Index(ctx, index); err != nil {
			h.logger.WithContext(ctx).WithError(err).WithField("records", len(index)).Error("Failed to index match records")
			return err
		}
	}
	if len(unindex) > 0 {
		if err := h.gazetteer.Unindex(ctx, unindex); err != nil {
			h.logger.WithContext(ctx).WithError(err).WithField("records", len(unindex)).Error("Failed to unindex match records")
			return err
		}
	}

	if len(index)+len(unindex) > 0 {
		h.logger.WithContext(ctx).WithFields(map[string]any{
			"indexed":   len(index),
			"unindexed": len(unindex),
		}).Debug("Updated gazetteer from match changes")
	}
	return nil
}
