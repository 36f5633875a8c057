package auth

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/warden-admin/warden/internal/platform/httpx"
	"github.com/warden-admin/warden/internal/session"
	"github.com/warden-admin/warden/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger       *slog.Logger
	service      *Service
	loginLimiter func(http.Handler) http.Handler
}

// NewHandler constructs a Handler instance. loginPerMinute bounds login
// requests per client address; zero disables the limiter.
func NewHandler(logger *slog.Logger, service *Service, loginPerMinute int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	limiter := func(next http.Handler) http.Handler { return next }
	if loginPerMinute > 0 {
		limiter = httprate.Limit(loginPerMinute, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				httpx.RespondError(w, shared.ErrTooManyAttempts)
			}),
		)
	}
	return &Handler{logger: logger, service: service, loginLimiter: limiter}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.loginLimiter).Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Post("/refresh", h.handleRefresh)
}

type loginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=72"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx := ContextWithClientIP(r.Context(), remoteIP(r))
	sess, token, err := h.service.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		if httpx.StatusFor(err) == http.StatusInternalServerError {
			h.logger.ErrorContext(ctx, "login", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tokenResponse(sess, token))
}

// handleLogout acknowledges the client discarding its token. Tokens are not
// tracked server-side.
func (h *Handler) handleLogout(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token, ok := httpx.BearerToken(r)
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	sess, fresh, err := h.service.Refresh(r.Context(), token)
	if err != nil {
		if httpx.StatusFor(err) == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "refresh", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tokenResponse(sess, fresh))
}

func tokenResponse(sess session.Session, token string) TokenResponse {
	return TokenResponse{AccessToken: token, TokenType: "Bearer", ExpiresAt: sess.ExpiresAt}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
