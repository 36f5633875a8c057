package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/warden-admin/warden/internal/auth"
	"github.com/warden-admin/warden/internal/platform/broker"
	"github.com/warden-admin/warden/internal/session"
	"github.com/warden-admin/warden/internal/shared"
	_ "github.com/warden-admin/warden/testing"
)

type stubRepo struct {
	users map[string]*auth.User
	roles map[int64][]int64
	err   error
}

func newStubRepo() *stubRepo {
	return &stubRepo{users: make(map[string]*auth.User), roles: make(map[int64][]int64)}
}

func (s *stubRepo) add(t *testing.T, id int64, username, password string, roles ...int64) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	s.users[username] = &auth.User{ID: id, Username: username, PasswordHash: string(hash)}
	s.roles[id] = roles
}

func (s *stubRepo) FindByUsername(_ context.Context, username string) (*auth.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	u, ok := s.users[username]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return u, nil
}

func (s *stubRepo) FindByID(_ context.Context, id int64) (*auth.User, error) {
	for _, u := range s.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *stubRepo) RoleIDs(_ context.Context, userID int64) ([]int64, error) {
	return s.roles[userID], nil
}

type capturedEvents struct {
	mu     sync.Mutex
	events []broker.SecurityEvent
}

func (c *capturedEvents) Publish(_ context.Context, e broker.SecurityEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *capturedEvents) Close() {}

type loginCounts map[string]int

func (l loginCounts) ObserveLogin(result string) { l[result]++ }

var secret = []byte("0123456789abcdef0123456789abcdef")

func newCodec(t *testing.T) *session.Codec {
	t.Helper()
	codec, err := session.NewCodec(secret, 24*time.Hour)
	require.NoError(t, err)
	return codec
}

func TestAuthenticateIssuesSessionWithRoles(t *testing.T) {
	repo := newStubRepo()
	repo.add(t, 7, "alice", "correct horse", 2, 5)
	codec := newCodec(t)
	logins := loginCounts{}
	svc := auth.NewService(repo, codec, auth.WithLoginRecorder(logins))

	sess, token, err := svc.Authenticate(context.Background(), "  Alice ", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, int64(7), sess.UserID)
	assert.Equal(t, "alice", sess.Username)
	assert.Equal(t, []int64{2, 5}, sess.RoleIDs)
	assert.WithinDuration(t, sess.IssuedAt.Add(24*time.Hour), sess.ExpiresAt, time.Second)

	decoded, err := codec.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, decoded.ID)
	assert.Equal(t, 1, logins[auth.LoginSucceeded])
}

func TestAuthenticateFailuresAreIndistinguishable(t *testing.T) {
	repo := newStubRepo()
	repo.add(t, 7, "alice", "correct horse")
	events := &capturedEvents{}
	svc := auth.NewService(repo, newCodec(t), auth.WithEvents(events))

	_, _, unknownErr := svc.Authenticate(context.Background(), "mallory", "whatever")
	_, _, wrongErr := svc.Authenticate(context.Background(), "alice", "wrong")

	require.Error(t, unknownErr)
	require.Error(t, wrongErr)
	assert.Same(t, shared.ErrInvalidCredentials, unknownErr)
	assert.Same(t, shared.ErrInvalidCredentials, wrongErr)
	assert.Equal(t, unknownErr.Error(), wrongErr.Error())

	require.Len(t, events.events, 2)
	assert.Equal(t, broker.EventLoginFailed, events.events[0].Type)
	assert.Equal(t, "mallory", events.events[0].Subject)
}

func TestAuthenticateRequiresBothFields(t *testing.T) {
	svc := auth.NewService(newStubRepo(), newCodec(t))

	_, _, err := svc.Authenticate(context.Background(), "", "pw")
	assert.ErrorIs(t, err, shared.ErrValidation)
	_, _, err = svc.Authenticate(context.Background(), "alice", "")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestAuthenticateSurfacesStoreFailure(t *testing.T) {
	repo := newStubRepo()
	repo.err = errors.New("connection refused")
	svc := auth.NewService(repo, newCodec(t))

	_, _, err := svc.Authenticate(context.Background(), "alice", "pw")
	require.Error(t, err)
	assert.NotErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestAuthenticateThrottlesRepeatedFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newStubRepo()
	repo.add(t, 7, "alice", "correct horse")
	throttle := auth.NewRedisThrottle(client, 3, time.Minute, nil)
	logins := loginCounts{}
	svc := auth.NewService(repo, newCodec(t), auth.WithThrottle(throttle), auth.WithLoginRecorder(logins))
	ctx := auth.ContextWithClientIP(context.Background(), "10.0.0.9")

	for i := 0; i < 3; i++ {
		_, _, err := svc.Authenticate(ctx, "alice", "wrong")
		require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	}

	_, _, err := svc.Authenticate(ctx, "alice", "correct horse")
	assert.ErrorIs(t, err, shared.ErrTooManyAttempts)
	assert.Equal(t, 1, logins[auth.LoginThrottled])

	ttl := mr.TTL(auth.UsernameKey("alice"))
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	mr.FastForward(time.Minute + time.Second)

	_, _, err = svc.Authenticate(ctx, "alice", "correct horse")
	require.NoError(t, err)
	assert.False(t, mr.Exists(auth.UsernameKey("alice")))
}

func TestThrottleFailsOpenWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	throttle := auth.NewRedisThrottle(client, 1, time.Minute, nil)
	ctx := context.Background()
	throttle.Fail(ctx, auth.UsernameKey("alice"))
	assert.NoError(t, throttle.Check(ctx, auth.UsernameKey("alice")))
}

func TestRefreshReflectsCurrentRoles(t *testing.T) {
	repo := newStubRepo()
	repo.add(t, 7, "alice", "correct horse", 1)
	codec := newCodec(t)
	svc := auth.NewService(repo, codec)

	_, token, err := svc.Authenticate(context.Background(), "alice", "correct horse")
	require.NoError(t, err)

	repo.roles[7] = []int64{1, 3}
	sess, fresh, err := svc.Refresh(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, sess.RoleIDs)
	assert.NotEqual(t, token, fresh)

	_, _, err = svc.Refresh(context.Background(), "bogus")
	assert.ErrorIs(t, err, shared.ErrTokenMalformed)

	delete(repo.users, "alice")
	_, _, err = svc.Refresh(context.Background(), token)
	assert.ErrorIs(t, err, shared.ErrSessionRevoked)
}
