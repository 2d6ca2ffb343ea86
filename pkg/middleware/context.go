package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/context"
)

const (
	HeaderContributorID = "X-Contributor-ID"
	HeaderUserID        = "X-User-ID"
)

// Context copies request identifiers onto the request context and echoes the
// request ID back to the caller, generating one when the client sent none.
func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}

			ctx := context.SetRequestID(req.Context(), requestID)
			ctx = context.SetRoute(ctx, c.Path())
			if contributorID := req.Header.Get(HeaderContributorID); contributorID != "" {
				ctx = context.SetContributorID(ctx, contributorID)
			}
			if userID := req.Header.Get(HeaderUserID); userID != "" {
				ctx = context.SetUserID(ctx, userID)
			}

			c.SetRequest(req.WithContext(ctx))
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)
			return next(c)
		}
	}
}
