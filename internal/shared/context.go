package shared

import "context"

type userIDContextKey struct{}

// ContextWithUserID stores the authenticated subject id in context for logging
// and audit attribution.
func ContextWithUserID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, userIDContextKey{}, id)
}

// UserIDFromContext extracts the authenticated subject id, if any.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDContextKey{}).(int64)
	return id, ok && id > 0
}
