package blogs_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-admin/warden/internal/blogs"
	"github.com/warden-admin/warden/internal/shared"
)

type failingAudit struct{ calls int }

func (f *failingAudit) Record(context.Context, shared.AuditLog) error {
	f.calls++
	return errors.New("audit store down")
}

func TestCreateTrimsAndRecords(t *testing.T) {
	repo := newMockRepository()
	audit := &audits{}
	svc := blogs.NewService(repo, audit, nil)

	b, err := svc.Create(context.Background(), 7, "alice", blogs.BlogRequest{Title: "  Title ", Content: " body\n"})
	require.NoError(t, err)
	assert.Equal(t, "Title", b.Title)
	assert.Equal(t, "body", b.Content)
	assert.Equal(t, int64(7), b.AuthorID)
	assert.Equal(t, []string{shared.AuditBlogCreate}, audit.actions)
}

func TestCreateRejectsBlankFields(t *testing.T) {
	svc := blogs.NewService(newMockRepository(), nil, nil)

	_, err := svc.Create(context.Background(), 1, "alice", blogs.BlogRequest{Title: "x", Content: "   "})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestListComputesPagination(t *testing.T) {
	repo := newMockRepository()
	svc := blogs.NewService(repo, nil, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := svc.Create(ctx, 1, "alice", blogs.BlogRequest{Title: "t", Content: "c"})
		require.NoError(t, err)
	}

	items, page, err := svc.List(ctx, "", 3, 2)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, shared.Pagination{Page: 3, PerPage: 2, Total: 5, TotalPages: 3}, page)
}

func TestUpdateAndDeleteUnknownPost(t *testing.T) {
	svc := blogs.NewService(newMockRepository(), nil, nil)
	ctx := context.Background()

	_, err := svc.Update(ctx, 99, blogs.BlogRequest{Title: "t", Content: "c"})
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, 99), shared.ErrNotFound)
}

func TestAuditFailureDoesNotFailMutation(t *testing.T) {
	audit := &failingAudit{}
	svc := blogs.NewService(newMockRepository(), audit, nil)

	b, err := svc.Create(context.Background(), 1, "alice", blogs.BlogRequest{Title: "t", Content: "c"})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(context.Background(), b.ID))
	assert.Equal(t, 2, audit.calls)
}
