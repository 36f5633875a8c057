// Package blogs implements the blog collection managed from the console.
package blogs

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/warden-admin/warden/internal/rbac"
	"github.com/warden-admin/warden/internal/shared"
)

// Service handles blog business logic.
type Service struct {
	repo   Repository
	audit  rbac.AuditRecorder
	logger *slog.Logger
}

// NewService builds Service instance. audit may be nil.
func NewService(repo Repository, audit rbac.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// Create stores a post authored by the given user.
func (s *Service) Create(ctx context.Context, authorID int64, author string, req BlogRequest) (Blog, error) {
	title, content, err := clean(req)
	if err != nil {
		return Blog{}, err
	}
	b, err := s.repo.Create(ctx, Blog{Title: title, Content: content, AuthorID: authorID, Author: author})
	if err != nil {
		return Blog{}, fmt.Errorf("create blog: %w", err)
	}
	s.record(ctx, shared.AuditBlogCreate, b.ID, map[string]any{"title": b.Title})
	return b, nil
}

// Get returns one post.
func (s *Service) Get(ctx context.Context, id int64) (Blog, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of posts, newest first.
func (s *Service) List(ctx context.Context, search string, page, perPage int) ([]Blog, shared.Pagination, error) {
	p := shared.NewPagination(page, perPage, 0)
	items, total, err := s.repo.List(ctx, ListFilter{Search: search, Limit: p.PerPage, Offset: p.Offset()})
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(p.Page, p.PerPage, total), nil
}

// Update replaces title and content.
func (s *Service) Update(ctx context.Context, id int64, req BlogRequest) (Blog, error) {
	title, content, err := clean(req)
	if err != nil {
		return Blog{}, err
	}
	b, err := s.repo.Update(ctx, id, title, content)
	if err != nil {
		return Blog{}, fmt.Errorf("update blog: %w", err)
	}
	s.record(ctx, shared.AuditBlogUpdate, id, map[string]any{"title": b.Title})
	return b, nil
}

// Delete removes a post.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete blog: %w", err)
	}
	s.record(ctx, shared.AuditBlogDelete, id, nil)
	return nil
}

func (s *Service) record(ctx context.Context, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{Action: action, Entity: "blog", EntityID: strconv.FormatInt(id, 10), Meta: meta}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func clean(req BlogRequest) (string, string, error) {
	title := strings.TrimSpace(req.Title)
	content := strings.TrimSpace(req.Content)
	if title == "" || content == "" {
		return "", "", fmt.Errorf("%w: title and content are required", shared.ErrValidation)
	}
	return title, content, nil
}
