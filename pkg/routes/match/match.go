// Package match exposes matching, moderation and list processing over HTTP.
package match

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/processor"
)

type Previewer interface {
	Preview(ctx context.Context, fields models.Fields, contributorID string) (*models.MatchResult, error)
}

type Moderator interface {
	Confirm(ctx context.Context, matchID string) (*models.FacilityMatch, error)
	Reject(ctx context.Context, matchID string) (*models.FacilityMatch, error)
}

type ListProcessor interface {
	ProcessList(ctx context.Context, sourceID string) (*processor.ListSummary, error)
}

type Handler struct {
	preview   Previewer
	moderator Moderator
	lists     ListProcessor
	validate  *validator.Validate
	logger    ectologger.Logger
}

func NewHandler(preview Previewer, moderator Moderator, lists ListProcessor, logger ectologger.Logger) *Handler {
	return &Handler{
		preview:   preview,
		moderator: moderator,
		lists:     lists,
		validate:  validator.New(),
		logger:    logger,
	}
}

func (h *Handler) Register(g *echo.Group) {
	g.POST("/match/preview", h.Preview)
	g.POST("/matches/:id/confirm", h.Confirm)
	g.POST("/matches/:id/reject", h.Reject)
	g.POST("/sources/:id/match", h.ProcessList)
}

// PreviewResponse lists the facilities a record would match, best first.
type PreviewResponse struct {
	Candidates  []models.ScoredCandidate `json:"candidates"`
	ExactMatch  bool                     `json:"exact_match"`
	Diagnostics models.MatchDiagnostics  `json:"diagnostics"`
}

// Preview matches one record without saving anything.
func (h *Handler) Preview(c echo.Context) error {
	ctx := c.Request().Context()

	var fields models.Fields
	if err := c.Bind(&fields); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(fields); err != nil {
		return err
	}

	result, err := h.preview.Preview(ctx, fields, fernctx.GetContributorID(ctx))
	if err != nil {
		return err
	}

	var candidates []models.ScoredCandidate
	for _, matches := range result.ItemMatches {
		candidates = append(candidates, matches...)
	}
	return c.JSON(http.StatusOK, PreviewResponse{
		Candidates:  processor.ReduceMatches(candidates),
		ExactMatch:  result.Results.ExactMatch,
		Diagnostics: result.Results,
	})
}

func (h *Handler) Confirm(c echo.Context) error {
	match, err := h.moderator.Confirm(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, match)
}

func (h *Handler) Reject(c echo.Context) error {
	match, err := h.moderator.Reject(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, match)
}

// ProcessList matches a list synchronously. The Kafka consumer is the usual path.
func (h *Handler) ProcessList(c echo.Context) error {
	ctx := c.Request().Context()
	sourceID := c.Param("id")

	summary, err := h.lists.ProcessList(ctx, sourceID)
	if err != nil {
		return err
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"source_id": sourceID,
		"items":     summary.Items,
	}).Info("Processed list on request")
	return c.JSON(http.StatusOK, summary)
}
