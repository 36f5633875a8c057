// Package auth verifies credentials and exchanges them for session tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/warden-admin/warden/internal/platform/broker"
	"github.com/warden-admin/warden/internal/session"
	"github.com/warden-admin/warden/internal/shared"
)

// LoginRecorder observes login outcomes.
type LoginRecorder interface {
	ObserveLogin(result string)
}

// Service wraps authentication business rules.
type Service struct {
	repo      Repository
	codec     *session.Codec
	throttle  Throttle
	events    broker.Publisher
	logins    LoginRecorder
	logger    *slog.Logger
	dummyHash []byte
}

// Option customises a Service.
type Option func(*Service)

// WithThrottle enables login throttling.
func WithThrottle(t Throttle) Option {
	return func(s *Service) { s.throttle = t }
}

// WithEvents publishes failed logins.
func WithEvents(p broker.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithLoginRecorder reports login outcomes.
func WithLoginRecorder(r LoginRecorder) Option {
	return func(s *Service) { s.logins = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService constructs a new Service.
func NewService(repo Repository, codec *session.Codec, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		codec:    codec,
		throttle: NopThrottle{},
		events:   broker.Nop{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	// Unknown usernames are compared against this hash so both failure paths
	// pay for one bcrypt comparison at the default cost.
	hash, err := bcrypt.GenerateFromPassword([]byte("warden-unknown-user"), bcrypt.DefaultCost)
	if err != nil {
		panic(fmt.Sprintf("auth: dummy hash: %v", err))
	}
	s.dummyHash = hash
	return s
}

type clientIPKey struct{}

// ContextWithClientIP records the caller address used for throttling.
func ContextWithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func clientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// Authenticate validates username/password credentials and issues a session
// carrying the user's current roles. Unknown usernames and wrong passwords
// both return shared.ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (session.Session, string, error) {
	username = shared.NormalizeUsername(username)
	if username == "" || password == "" {
		return session.Session{}, "", fmt.Errorf("%w: username and password are required", shared.ErrValidation)
	}
	keys := []string{UsernameKey(username)}
	ip := clientIP(ctx)
	if ip != "" {
		keys = append(keys, AddressKey(ip))
	}
	if err := s.throttle.Check(ctx, keys...); err != nil {
		s.observe(LoginThrottled)
		s.logger.WarnContext(ctx, "login throttled", slog.String("username", username), slog.String("ip", ip))
		s.events.Publish(ctx, broker.SecurityEvent{Type: broker.EventLoginThrottled, Subject: username, IP: ip, OccurredAt: time.Now().UTC()})
		return session.Session{}, "", shared.ErrTooManyAttempts
	}

	user, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			return session.Session{}, "", fmt.Errorf("find user: %w", err)
		}
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return session.Session{}, "", s.fail(ctx, username, ip, keys, "unknown user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return session.Session{}, "", s.fail(ctx, username, ip, keys, "wrong password")
	}

	sess, token, err := s.issue(ctx, user)
	if err != nil {
		return session.Session{}, "", err
	}
	s.throttle.Reset(ctx, UsernameKey(username))
	s.observe(LoginSucceeded)
	s.logger.InfoContext(ctx, "login succeeded", slog.Int64("user_id", user.ID))
	return sess, token, nil
}

// Refresh exchanges a valid token for a new one reflecting the user's current
// username and roles.
func (s *Service) Refresh(ctx context.Context, token string) (session.Session, string, error) {
	current, err := s.codec.Decode(token)
	if err != nil {
		return session.Session{}, "", err
	}
	return s.IssueFor(ctx, current.UserID)
}

// IssueFor issues a fresh token for an existing user.
func (s *Service) IssueFor(ctx context.Context, userID int64) (session.Session, string, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return session.Session{}, "", shared.ErrSessionRevoked
		}
		return session.Session{}, "", fmt.Errorf("find user: %w", err)
	}
	return s.issue(ctx, user)
}

func (s *Service) issue(ctx context.Context, user *User) (session.Session, string, error) {
	roleIDs, err := s.repo.RoleIDs(ctx, user.ID)
	if err != nil {
		return session.Session{}, "", fmt.Errorf("load roles: %w", err)
	}
	sess := s.codec.Issue(user.ID, user.Username, roleIDs)
	token, err := s.codec.Encode(sess)
	if err != nil {
		return session.Session{}, "", fmt.Errorf("encode token: %w", err)
	}
	return sess, token, nil
}

func (s *Service) fail(ctx context.Context, username, ip string, keys []string, reason string) error {
	s.throttle.Fail(ctx, keys...)
	s.observe(LoginInvalidCredentials)
	s.logger.InfoContext(ctx, "login failed", slog.String("username", username), slog.String("ip", ip))
	s.events.Publish(ctx, broker.SecurityEvent{
		Type:       broker.EventLoginFailed,
		Subject:    username,
		IP:         ip,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	})
	return shared.ErrInvalidCredentials
}

func (s *Service) observe(result string) {
	if s.logins != nil {
		s.logins.ObserveLogin(result)
	}
}
