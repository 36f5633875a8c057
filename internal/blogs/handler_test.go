package blogs_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-admin/warden/internal/blogs"
	"github.com/warden-admin/warden/internal/rbac"
	"github.com/warden-admin/warden/internal/session"
	"github.com/warden-admin/warden/internal/shared"
)

type mockRepository struct {
	blogs  map[int64]blogs.Blog
	nextID int64
}

func newMockRepository() *mockRepository {
	return &mockRepository{blogs: make(map[int64]blogs.Blog), nextID: 1}
}

func (m *mockRepository) Create(_ context.Context, b blogs.Blog) (blogs.Blog, error) {
	b.ID = m.nextID
	m.nextID++
	b.CreatedAt = time.Date(2026, 1, 1, 0, 0, int(b.ID), 0, time.UTC)
	b.UpdatedAt = b.CreatedAt
	m.blogs[b.ID] = b
	return b, nil
}

func (m *mockRepository) Get(_ context.Context, id int64) (blogs.Blog, error) {
	b, ok := m.blogs[id]
	if !ok {
		return blogs.Blog{}, fmt.Errorf("blog %d: %w", id, shared.ErrNotFound)
	}
	return b, nil
}

func (m *mockRepository) List(_ context.Context, f blogs.ListFilter) ([]blogs.Blog, int, error) {
	all := make([]blogs.Blog, 0, len(m.blogs))
	for _, b := range m.blogs {
		if f.Search == "" || strings.Contains(b.Title, f.Search) || strings.Contains(b.Content, f.Search) {
			all = append(all, b)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	end := f.Offset + f.Limit
	if end > len(all) {
		end = len(all)
	}
	if f.Offset >= len(all) {
		return []blogs.Blog{}, len(all), nil
	}
	return all[f.Offset:end], len(all), nil
}

func (m *mockRepository) Update(_ context.Context, id int64, title, content string) (blogs.Blog, error) {
	b, ok := m.blogs[id]
	if !ok {
		return blogs.Blog{}, fmt.Errorf("blog %d: %w", id, shared.ErrNotFound)
	}
	b.Title, b.Content = title, content
	m.blogs[id] = b
	return b, nil
}

func (m *mockRepository) Delete(_ context.Context, id int64) error {
	if _, ok := m.blogs[id]; !ok {
		return fmt.Errorf("blog %d: %w", id, shared.ErrNotFound)
	}
	delete(m.blogs, id)
	return nil
}

type audits struct{ actions []string }

func (a *audits) Record(_ context.Context, log shared.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

type harness struct {
	store *rbac.MemoryRepository
	rbac  *rbac.Service
	codec *session.Codec
	repo  *mockRepository
	audit *audits
	h     http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	codec, err := session.NewCodec([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)
	store := rbac.NewMemoryRepository()
	repo := newMockRepository()
	audit := &audits{}
	mw := rbac.Middleware{Evaluator: rbac.NewEvaluator(codec, store, nil, nil, nil)}
	r := chi.NewRouter()
	r.Route("/blog", blogs.NewHandler(nil, blogs.NewService(repo, audit, nil), mw).MountRoutes)
	return &harness{store: store, rbac: rbac.NewService(store, nil, nil), codec: codec, repo: repo, audit: audit, h: r}
}

func (hs *harness) user(t *testing.T, id int64, name string, perms ...string) string {
	t.Helper()
	ctx := context.Background()
	hs.store.PutUser(id, name)
	role, err := hs.rbac.CreateRole(ctx, name+"-role", "", perms)
	require.NoError(t, err)
	require.NoError(t, hs.rbac.AssignRole(ctx, id, role.ID))
	token, err := hs.codec.Encode(hs.codec.Issue(id, name, []int64{role.ID}))
	require.NoError(t, err)
	return token
}

func (hs *harness) do(method, path, token, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	hs.h.ServeHTTP(res, req)
	return res
}

func TestEditorCanEditButNotDelete(t *testing.T) {
	hs := newHarness(t)
	author := hs.user(t, 1, "alice", "blog_create", "blog_read")
	editor := hs.user(t, 2, "erin", "blog_read", "blog-edit")

	res := hs.do(http.MethodPost, "/blog/", author, `{"title":"Hello","content":"First post"}`)
	require.Equal(t, http.StatusCreated, res.Code)
	var created blogs.Blog
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &created))
	assert.Equal(t, "alice", created.Author)
	assert.Equal(t, int64(1), created.AuthorID)

	res = hs.do(http.MethodPut, "/blog/1", editor, `{"title":"Hello again","content":"Edited"}`)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `"title":"Hello again"`)

	res = hs.do(http.MethodDelete, "/blog/1", editor, "")
	assert.Equal(t, http.StatusForbidden, res.Code)
	_, err := hs.repo.Get(context.Background(), 1)
	assert.NoError(t, err)

	assert.Equal(t, []string{shared.AuditBlogCreate, shared.AuditBlogUpdate}, hs.audit.actions)
}

func TestBlogListingPaginates(t *testing.T) {
	hs := newHarness(t)
	author := hs.user(t, 1, "alice", "blog_create", "blog_read")
	for i := 0; i < 3; i++ {
		res := hs.do(http.MethodPost, "/blog/", author, fmt.Sprintf(`{"title":"post %d","content":"body"}`, i))
		require.Equal(t, http.StatusCreated, res.Code)
	}

	res := hs.do(http.MethodGet, "/blog/?page=1&per_page=2", author, "")
	require.Equal(t, http.StatusOK, res.Code)
	var body struct {
		Data       []blogs.Blog      `json:"data"`
		Pagination shared.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	assert.Equal(t, "post 2", body.Data[0].Title)
	assert.Equal(t, 3, body.Pagination.Total)
	assert.Equal(t, 2, body.Pagination.TotalPages)

	res = hs.do(http.MethodGet, "/blog/?q=post%201", author, "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `"total":1`)
}

func TestBlogRoutesRejectUnauthorised(t *testing.T) {
	hs := newHarness(t)
	reader := hs.user(t, 1, "rita", "blog_read")

	assert.Equal(t, http.StatusUnauthorized, hs.do(http.MethodGet, "/blog/", "", "").Code)
	assert.Equal(t, http.StatusForbidden, hs.do(http.MethodPost, "/blog/", reader, `{"title":"x","content":"y"}`).Code)
	assert.Equal(t, http.StatusNotFound, hs.do(http.MethodGet, "/blog/7", reader, "").Code)
	assert.Equal(t, http.StatusBadRequest, hs.do(http.MethodGet, "/blog/abc", reader, "").Code)
}

func TestBlogValidation(t *testing.T) {
	hs := newHarness(t)
	admin := hs.user(t, 1, "admin", "blog_create", "blog-delete")

	assert.Equal(t, http.StatusBadRequest, hs.do(http.MethodPost, "/blog/", admin, `{"title":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, hs.do(http.MethodPost, "/blog/", admin, `{"title":"  ","content":"  "}`).Code)
	assert.Equal(t, http.StatusNotFound, hs.do(http.MethodDelete, "/blog/9", admin, "").Code)
}
