package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/warden-admin/warden/internal/platform/broker"
	"github.com/warden-admin/warden/internal/session"
	"github.com/warden-admin/warden/internal/shared"
)

// TokenDecoder verifies bearer tokens.
type TokenDecoder interface {
	Decode(token string) (session.Session, error)
}

// DecisionRecorder observes every authorization outcome.
type DecisionRecorder interface {
	ObserveDecision(permission, result string)
}

// Evaluator decides whether a bearer token may exercise a permission. It
// resolves permissions from the store on every call, so role and assignment
// edits take effect on the next request.
type Evaluator struct {
	codec     TokenDecoder
	store     Reader
	decisions DecisionRecorder
	events    broker.Publisher
	logger    *slog.Logger
}

// NewEvaluator constructs an Evaluator. decisions and events may be nil.
func NewEvaluator(codec TokenDecoder, store Reader, decisions DecisionRecorder, events broker.Publisher, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = broker.Nop{}
	}
	return &Evaluator{codec: codec, store: store, decisions: decisions, events: events, logger: logger}
}

// Authenticate decodes the token and checks that its subject still exists.
func (e *Evaluator) Authenticate(ctx context.Context, token string) (session.Session, error) {
	sess, err := e.authenticate(ctx, token)
	if err != nil {
		e.observe("", err)
	}
	return sess, err
}

// Authorize returns the decoded session when the token grants required. A
// non-nil error is the deny reason.
func (e *Evaluator) Authorize(ctx context.Context, token string, required shared.Permission) (session.Session, error) {
	sess, err := e.authorize(ctx, token, required)
	e.observe(required.String(), err)
	if err != nil {
		return session.Session{}, err
	}
	return sess, nil
}

func (e *Evaluator) authorize(ctx context.Context, token string, required shared.Permission) (session.Session, error) {
	sess, err := e.authenticate(ctx, token)
	if err != nil {
		return session.Session{}, err
	}
	if !required.IsKnown() {
		return session.Session{}, fmt.Errorf("%w: %q", shared.ErrInsufficientPermission, required)
	}
	granted, err := e.Effective(ctx, sess)
	if err != nil {
		return session.Session{}, err
	}
	if _, ok := granted[required]; !ok {
		e.logger.InfoContext(ctx, "authorization denied",
			slog.Int64("user_id", sess.UserID),
			slog.String("permission", required.String()))
		e.events.Publish(ctx, broker.SecurityEvent{
			Type:       broker.EventPermissionDenied,
			Subject:    sess.Username,
			UserID:     sess.UserID,
			Permission: required.String(),
			OccurredAt: time.Now().UTC(),
		})
		return session.Session{}, shared.ErrInsufficientPermission
	}
	return sess, nil
}

func (e *Evaluator) authenticate(ctx context.Context, token string) (session.Session, error) {
	sess, err := e.codec.Decode(token)
	if err != nil {
		if shared.IsSuspicious(err) {
			e.logger.WarnContext(ctx, "suspicious bearer token", slog.Any("error", err))
			e.events.Publish(ctx, broker.SecurityEvent{
				Type:       broker.EventSuspiciousToken,
				Reason:     err.Error(),
				OccurredAt: time.Now().UTC(),
			})
		}
		return session.Session{}, err
	}
	if _, err := e.store.GetUser(ctx, sess.UserID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return session.Session{}, shared.ErrSessionRevoked
		}
		return session.Session{}, fmt.Errorf("load subject: %w", err)
	}
	return sess, nil
}

// Effective returns the union of permissions granted by the session's roles
// that the user still holds. Roles granted after issuance need a fresh token.
func (e *Evaluator) Effective(ctx context.Context, sess session.Session) (map[shared.Permission]struct{}, error) {
	current, err := e.store.UserRoleIDs(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user roles: %w", err)
	}
	held := make(map[int64]struct{}, len(current))
	for _, id := range current {
		held[id] = struct{}{}
	}
	roleIDs := make([]int64, 0, len(sess.RoleIDs))
	for _, id := range uniqueIDs(sess.RoleIDs) {
		if _, ok := held[id]; ok {
			roleIDs = append(roleIDs, id)
		}
	}

	sets := make([][]shared.Permission, len(roleIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, roleID := range roleIDs {
		g.Go(func() error {
			perms, err := e.store.RolePermissions(gctx, roleID)
			if errors.Is(err, shared.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			sets[i] = perms
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load role permissions: %w", err)
	}

	union := make(map[shared.Permission]struct{})
	for _, perms := range sets {
		for _, p := range perms {
			union[p] = struct{}{}
		}
	}
	return union, nil
}

func (e *Evaluator) observe(permission string, err error) {
	if e.decisions == nil {
		return
	}
	result := ResultAllow
	switch {
	case err == nil:
	case errors.Is(err, shared.ErrInsufficientPermission):
		result = ResultDeny
	case shared.IsTokenError(err), errors.Is(err, shared.ErrSessionRevoked), errors.Is(err, shared.ErrUnauthenticated):
		result = ResultUnauthenticated
	default:
		result = ResultError
	}
	e.decisions.ObserveDecision(permission, result)
}
