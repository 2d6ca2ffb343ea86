package middleware

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type ErrorResponse struct {
	Message   string         `json:"message"`
	RequestID string         `json:"request_id"`
	TraceID   string         `json:"trace_id"`
	Meta      map[string]any `json:"meta"`
}

// Error renders handler errors as ErrorResponse JSON.
func Error(logger ectologger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		ctx := c.Request().Context()
		code, message, meta := describe(err)

		log := logger.WithContext(ctx).WithError(err).WithField("status", code)
		if code >= http.StatusInternalServerError {
			log.Error("api is returning an error")
		} else {
			log.Warn("api is rejecting a request")
		}

		if c.Response().Committed {
			return
		}
		_ = c.JSON(code, ErrorResponse{
			Message:   message,
			RequestID: context.GetRequestID(ctx),
			TraceID:   tracing.GetTraceID(ctx),
			Meta:      meta,
		})
	}
}

// describe maps err to a status code, a client-safe message and metadata.
// Unrecognised errors become a generic 500 so internals do not leak.
func describe(err error) (int, string, map[string]any) {
	var invalid validator.ValidationErrors
	if errors.As(err, &invalid) {
		fields := make(map[string]any, len(invalid))
		for _, fe := range invalid {
			fields[fe.Field()] = fe.Tag()
		}
		return http.StatusBadRequest, "Invalid request", map[string]any{"fields": fields}
	}

	if httperror.IsHTTPError(err) {
		httperr := httperror.ToHTTPError(err)
		meta := httperr.Meta
		if meta == nil {
			meta = map[string]any{}
		}
		return httperror.GetStatusCode(err), httperr.Error(), meta
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		message := http.StatusText(he.Code)
		if msg, ok := he.Message.(string); ok {
			message = msg
		}
		return he.Code, message, map[string]any{}
	}

	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError), map[string]any{}
}
