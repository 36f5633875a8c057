package roles_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-admin/warden/internal/rbac"
	"github.com/warden-admin/warden/internal/roles"
	"github.com/warden-admin/warden/internal/session"
	"github.com/warden-admin/warden/internal/shared"
)

type harness struct {
	store *rbac.MemoryRepository
	svc   *rbac.Service
	codec *session.Codec
	h     http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	codec, err := session.NewCodec([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)
	store := rbac.NewMemoryRepository()
	svc := rbac.NewService(store, nil, nil)
	mw := rbac.Middleware{Evaluator: rbac.NewEvaluator(codec, store, nil, nil, nil)}
	r := chi.NewRouter()
	r.Route("/roles", roles.NewHandler(nil, svc, mw).MountRoutes)
	return &harness{store: store, svc: svc, codec: codec, h: r}
}

// token creates user id with a private role granting perms.
func (hs *harness) token(t *testing.T, id int64, perms ...string) string {
	t.Helper()
	ctx := context.Background()
	hs.store.PutUser(id, "user")
	role, err := hs.svc.CreateRole(ctx, "grant-"+string(rune('a'+id)), "", perms)
	require.NoError(t, err)
	require.NoError(t, hs.svc.AssignRole(ctx, id, role.ID))
	ids, err := hs.store.UserRoleIDs(ctx, id)
	require.NoError(t, err)
	token, err := hs.codec.Encode(hs.codec.Issue(id, "user", ids))
	require.NoError(t, err)
	return token
}

func (hs *harness) do(method, path, token, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	hs.h.ServeHTTP(res, req)
	return res
}

func TestRoleLifecycle(t *testing.T) {
	hs := newHarness(t)
	admin := hs.token(t, 1, "role_read", "role_create", "role-edit", "role_delete")

	res := hs.do(http.MethodPost, "/roles/", admin, `{"name":"editor","permissions":["blog_read","blog-edit"]}`)
	require.Equal(t, http.StatusCreated, res.Code)
	var created rbac.Role
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &created))
	assert.Equal(t, []shared.Permission{shared.PermBlogEdit, shared.PermBlogRead}, created.Permissions)

	path := "/roles/" + res.Header().Get("Location")[len("/roles/"):]

	res = hs.do(http.MethodPatch, path+"/permissions", admin, `{"permissions":["blog_read"]}`)
	require.Equal(t, http.StatusOK, res.Code)

	res = hs.do(http.MethodGet, path+"/permissions", admin, "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"permissions":["blog_read"]}`, res.Body.String())

	res = hs.do(http.MethodPut, path, admin, `{"name":"writer","description":"posts"}`)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `"name":"writer"`)
	assert.Contains(t, res.Body.String(), `"permissions":["blog_read"]`)

	res = hs.do(http.MethodGet, "/roles/", admin, "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `"name":"writer"`)

	require.Equal(t, http.StatusNoContent, hs.do(http.MethodDelete, path, admin, "").Code)
	assert.Equal(t, http.StatusNotFound, hs.do(http.MethodGet, path, admin, "").Code)
}

func TestRolePermissionValidation(t *testing.T) {
	hs := newHarness(t)
	admin := hs.token(t, 1, "role_read", "role_create", "role-edit")

	res := hs.do(http.MethodPost, "/roles/", admin, `{"name":"bad","permissions":["blog_publish"]}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = hs.do(http.MethodPost, "/roles/", admin, `{"name":""}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = hs.do(http.MethodPatch, "/roles/999/permissions", admin, `{"permissions":[]}`)
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = hs.do(http.MethodPost, "/roles/", admin, `{"name":"grant-b"}`)
	assert.Equal(t, http.StatusConflict, res.Code)
}

func TestRoleRoutesEnforcePermissions(t *testing.T) {
	hs := newHarness(t)
	reader := hs.token(t, 1, "role_read")

	assert.Equal(t, http.StatusOK, hs.do(http.MethodGet, "/roles/", reader, "").Code)
	assert.Equal(t, http.StatusForbidden, hs.do(http.MethodPost, "/roles/", reader, `{"name":"x"}`).Code)
	assert.Equal(t, http.StatusForbidden, hs.do(http.MethodPut, "/roles/1", reader, `{"name":"x"}`).Code)
	assert.Equal(t, http.StatusForbidden, hs.do(http.MethodPatch, "/roles/1/permissions", reader, `{"permissions":[]}`).Code)
	assert.Equal(t, http.StatusForbidden, hs.do(http.MethodDelete, "/roles/1", reader, "").Code)
	assert.Equal(t, http.StatusUnauthorized, hs.do(http.MethodGet, "/roles/", "", "").Code)
}

func TestDeletingOwnGrantingRoleRevokesAccess(t *testing.T) {
	hs := newHarness(t)
	admin := hs.token(t, 1, "role_read", "role_delete")

	require.Equal(t, http.StatusNoContent, hs.do(http.MethodDelete, "/roles/1", admin, "").Code)
	assert.Equal(t, http.StatusForbidden, hs.do(http.MethodGet, "/roles/", admin, "").Code)
}
