// Package session encodes and decodes the signed bearer tokens that carry a
// caller's identity between requests. Sessions are never stored server-side.
package session

import (
	"context"
	"time"
)

// Session is the decoded content of a bearer token.
type Session struct {
	ID        string
	UserID    int64
	Username  string
	RoleIDs   []int64
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type sessionContextKey struct{}

// NewContext stores the decoded session in context.
func NewContext(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// FromContext extracts the decoded session from context.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(Session)
	return s, ok
}
