package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/warden-admin/warden/internal/platform/httpx"
	"github.com/warden-admin/warden/internal/session"
	"github.com/warden-admin/warden/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Evaluator *Evaluator
	Logger    *slog.Logger
}

// Require admits the request only when its bearer token grants perm. The
// decoded session is stored in the request context.
func (m Middleware) Require(perm shared.Permission) func(http.Handler) http.Handler {
	return m.gate(func(ctx context.Context, token string) (session.Session, error) {
		return m.Evaluator.Authorize(ctx, token, perm)
	})
}

// RequireSession admits any request carrying a valid token for an existing user.
func (m Middleware) RequireSession() func(http.Handler) http.Handler {
	return m.gate(m.Evaluator.Authenticate)
}

// Permit checks perm for the request's bearer token inside a handler that is
// already gated, for payload fields that need a second permission.
func (m Middleware) Permit(r *http.Request, perm shared.Permission) error {
	token, ok := httpx.BearerToken(r)
	if !ok {
		return shared.ErrUnauthenticated
	}
	_, err := m.Evaluator.Authorize(r.Context(), token, perm)
	return err
}

func (m Middleware) gate(check func(context.Context, string) (session.Session, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := httpx.BearerToken(r)
			if !ok {
				httpx.RespondError(w, shared.ErrUnauthenticated)
				return
			}
			sess, err := check(r.Context(), token)
			if err != nil {
				if httpx.StatusFor(err) == http.StatusInternalServerError && m.Logger != nil {
					m.Logger.ErrorContext(r.Context(), "rbac evaluate", slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			ctx := session.NewContext(r.Context(), sess)
			ctx = shared.ContextWithUserID(ctx, sess.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
