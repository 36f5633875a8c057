package session

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/warden-admin/warden/internal/shared"
)

const (
	// DefaultTTL is used when the codec is built with a non-positive TTL.
	DefaultTTL = 24 * time.Hour
	// MinSecretLen is the minimum HMAC key size accepted.
	MinSecretLen = 32

	issuer = "warden"
)

// Claims is the JWT payload.
type Claims struct {
	Username string  `json:"username"`
	Roles    []int64 `json:"roles"`
	jwt.RegisteredClaims
}

// Codec signs and verifies session tokens with a process-wide HMAC secret.
// It holds no mutable state after construction and is safe for concurrent use.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// Option customises a Codec.
type Option func(*Codec)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCodec constructs a Codec. The secret is copied.
func NewCodec(secret []byte, ttl time.Duration, opts ...Option) (*Codec, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("session: secret must be at least %d bytes", MinSecretLen)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	c := &Codec{secret: key, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(c.now),
	)
	return c, nil
}

// Issue builds a fresh session starting now.
func (c *Codec) Issue(userID int64, username string, roleIDs []int64) Session {
	now := c.now().UTC().Truncate(time.Second)
	roles := make([]int64, len(roleIDs))
	copy(roles, roleIDs)
	return Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Username:  username,
		RoleIDs:   roles,
		IssuedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}
}

// Encode signs the session into a compact token.
func (c *Codec) Encode(s Session) (string, error) {
	if s.UserID <= 0 {
		return "", errors.New("session: subject required")
	}
	if s.ExpiresAt.IsZero() {
		return "", errors.New("session: expiry required")
	}
	claims := Claims{
		Username: s.Username,
		Roles:    s.RoleIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.ID,
			Issuer:    issuer,
			Subject:   strconv.FormatInt(s.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(s.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("session: sign: %w", err)
	}
	return signed, nil
}

// Decode verifies the token and returns its session. Errors are one of
// shared.ErrTokenMalformed, shared.ErrTokenSignatureInvalid or shared.ErrTokenExpired.
// The signature is checked before expiry, so a tampered expired token reports
// an invalid signature.
func (c *Codec) Decode(token string) (Session, error) {
	if token == "" {
		return Session{}, shared.ErrTokenMalformed
	}
	var claims Claims
	_, err := c.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		return Session{}, classify(err)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Session{}, fmt.Errorf("%w: subject", shared.ErrTokenMalformed)
	}
	s := Session{
		ID:       claims.ID,
		UserID:   userID,
		Username: claims.Username,
		RoleIDs:  claims.Roles,
	}
	if claims.IssuedAt != nil {
		s.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return shared.ErrTokenSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return shared.ErrTokenExpired
	default:
		return shared.ErrTokenMalformed
	}
}
