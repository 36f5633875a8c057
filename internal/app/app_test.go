package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-admin/warden/internal/observability"
	"github.com/warden-admin/warden/internal/rbac"
	"github.com/warden-admin/warden/internal/session"
	"github.com/warden-admin/warden/internal/shared"
)

func testConfig() *Config {
	return &Config{AppEnv: "test", AppRequestTimeout: time.Second, RateLimitPerMinute: 1000}
}

func TestLoadConfigRequiresLongSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("JWT_SECRET", strings.Repeat("k", 32))
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 10, cfg.LoginMaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.LoginAttemptWindow)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.False(t, cfg.IsProduction())
}

func TestLoggerAddsContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json", LogLevel: "debug"})

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	ctx = shared.ContextWithUserID(ctx, 42)
	logger.With(slog.String("component", "test")).DebugContext(ctx, "hello")

	out := buf.String()
	assert.Contains(t, out, `"request_id":"req-1"`)
	assert.Contains(t, out, `"user_id":42`)
	assert.Contains(t, out, `"component":"test"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestRouterHealthAndSecurityHeaders(t *testing.T) {
	h := NewRouter(RouterParams{Config: testConfig(), Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})

	res := httptest.NewRecorder()
	h.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"status":"ok"}`, res.Body.String())
	assert.Equal(t, "DENY", res.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", res.Header().Get("X-Content-Type-Options"))

	res = httptest.NewRecorder()
	h.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, res.Code)
	assert.Contains(t, res.Header().Get("Content-Type"), "application/problem+json")
}

func TestReadinessReportsFailures(t *testing.T) {
	h := NewRouter(RouterParams{
		Config: testConfig(),
		Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
		Readiness: map[string]ReadinessCheck{
			"postgres": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("down") },
		},
	})

	res := httptest.NewRecorder()
	h.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, res.Code)
	assert.JSONEq(t, `{"checks":{"postgres":"up","redis":"down"}}`, res.Body.String())
}

func TestRouterGatesPermissionsAndCountsDecisions(t *testing.T) {
	codec, err := session.NewCodec([]byte(strings.Repeat("s", 32)), time.Hour)
	require.NoError(t, err)
	store := rbac.NewMemoryRepository()
	store.PutUser(1, "admin")
	svc := rbac.NewService(store, nil, nil)
	role, err := svc.CreateRole(context.Background(), "admin", "", []string{"role_read"})
	require.NoError(t, err)
	require.NoError(t, svc.AssignRole(context.Background(), 1, role.ID))
	token, err := codec.Encode(codec.Issue(1, "admin", []int64{role.ID}))
	require.NoError(t, err)

	metrics := observability.NewMetrics()
	mw := rbac.Middleware{Evaluator: rbac.NewEvaluator(codec, store, metrics, nil, nil)}
	h := NewRouter(RouterParams{
		Config:             testConfig(),
		Logger:             slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
		PermissionsHandler: rbac.NewPermissionsHandler(mw),
		Metrics:            metrics,
	})

	req := httptest.NewRequest(http.MethodGet, "/permissions/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `"user-role_create"`)

	res = httptest.NewRecorder()
	h.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `warden_authz_decisions_total{permission="role_read",result="allow"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	cfg := testConfig()
	cfg.CORSAllowedOrigins = []string{"https://console.example.com"}
	h := NewRouter(RouterParams{Config: cfg, Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})

	req := httptest.NewRequest(http.MethodOptions, "/healthz", nil)
	req.Header.Set("Origin", "https://console.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	assert.Equal(t, "https://console.example.com", res.Header().Get("Access-Control-Allow-Origin"))
}

func TestInTestModeReadsEnv(t *testing.T) {
	t.Setenv("WARDEN_TEST_MODE", "1")
	assert.True(t, InTestMode())
	t.Setenv("WARDEN_TEST_MODE", "")
	assert.False(t, InTestMode())
}
