package blogs

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/warden-admin/warden/internal/platform/httpx"
	"github.com/warden-admin/warden/internal/rbac"
	"github.com/warden-admin/warden/internal/session"
	"github.com/warden-admin/warden/internal/shared"
)

// Handler manages blog endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers blog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermBlogRead))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
	})
	r.With(h.rbac.Require(shared.PermBlogCreate)).Post("/", h.create)
	r.With(h.rbac.Require(shared.PermBlogEdit)).Put("/{id}", h.update)
	r.With(h.rbac.Require(shared.PermBlogDelete)).Delete("/{id}", h.delete)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, perPage := shared.PageParams(r)
	items, pagination, err := h.service.List(r.Context(), r.URL.Query().Get("q"), page, perPage)
	if err != nil {
		h.fail(w, r, "list blogs", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items, "pagination": pagination})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := blogID(w, r)
	if !ok {
		return
	}
	b, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get blog", err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req BlogRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sess, _ := session.FromContext(r.Context())
	b, err := h.service.Create(r.Context(), sess.UserID, sess.Username, req)
	if err != nil {
		h.fail(w, r, "create blog", err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/blog/%d", b.ID))
	httpx.JSON(w, http.StatusCreated, b)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := blogID(w, r)
	if !ok {
		return
	}
	var req BlogRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	b, err := h.service.Update(r.Context(), id, req)
	if err != nil {
		h.fail(w, r, "update blog", err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := blogID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.fail(w, r, "delete blog", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func blogID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid blog id", shared.ErrValidation))
		return 0, false
	}
	return id, true
}
