// Package context carries request-scoped identifiers for logging and matching.
package context

import "context"

type ContextKey string

var (
	RequestIDKey     = ContextKey("X-Request-Id")
	RouteKey         = ContextKey("X-Route")
	ContributorIDKey = ContextKey("X-Contributor-Id")
	UserIDKey        = ContextKey("X-User-Id")
)

func value(ctx context.Context, key ContextKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	return value(ctx, RequestIDKey)
}

// SetRoute records the matched route template, e.g. "/api/v1/matches/:id/confirm".
func SetRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, RouteKey, route)
}

func GetRoute(ctx context.Context) string {
	return value(ctx, RouteKey)
}

// SetContributorID records the contributor a request acts for. Exact matching
// prefers list items submitted by the same contributor.
func SetContributorID(ctx context.Context, contributorID string) context.Context {
	return context.WithValue(ctx, ContributorIDKey, contributorID)
}

func GetContributorID(ctx context.Context) string {
	return value(ctx, ContributorIDKey)
}

func SetUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func GetUserID(ctx context.Context) string {
	return value(ctx, UserIDKey)
}

// LogFields returns the identifiers present on ctx, keyed for structured logs.
func LogFields(ctx context.Context) map[string]any {
	fields := map[string]any{}
	for name, key := range map[string]ContextKey{
		"request_id":     RequestIDKey,
		"route":          RouteKey,
		"contributor_id": ContributorIDKey,
		"user_id":        UserIDKey,
	} {
		if v := value(ctx, key); v != "" {
			fields[name] = v
		}
	}
	return fields
}
