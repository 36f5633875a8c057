package blogs

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/warden-admin/warden/internal/platform/db"
	"github.com/warden-admin/warden/internal/shared"
)

// Repository defines persistence for blogs.
type Repository interface {
	Create(ctx context.Context, b Blog) (Blog, error)
	Get(ctx context.Context, id int64) (Blog, error)
	List(ctx context.Context, filter ListFilter) ([]Blog, int, error)
	Update(ctx context.Context, id int64, title, content string) (Blog, error)
	Delete(ctx context.Context, id int64) error
}

type repository struct {
	pool db.Pool
}

// NewRepository returns the PostgreSQL blog store.
func NewRepository(pool db.Pool) Repository {
	return &repository{pool: pool}
}

const blogColumns = `id, title, content, COALESCE(author_id, 0), author, created_at, updated_at`

func (r *repository) Create(ctx context.Context, b Blog) (Blog, error) {
	row := r.pool.QueryRow(ctx, `
INSERT INTO blogs (title, content, author_id, author)
VALUES ($1, $2, NULLIF($3, 0), $4)
RETURNING `+blogColumns, b.Title, b.Content, b.AuthorID, b.Author)
	return scanBlog(row)
}

func (r *repository) Get(ctx context.Context, id int64) (Blog, error) {
	return scanBlog(r.pool.QueryRow(ctx, `SELECT `+blogColumns+` FROM blogs WHERE id = $1`, id))
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Blog, int, error) {
	var (
		where string
		args  []any
	)
	if s := strings.TrimSpace(filter.Search); s != "" {
		where = "WHERE title ILIKE $1 OR content ILIKE $1"
		args = append(args, "%"+s+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM blogs `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM blogs %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		blogColumns, where, len(args)+1, len(args)+2)
	rows, err := r.pool.Query(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]Blog, 0)
	for rows.Next() {
		b, err := scanBlog(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, b)
	}
	return out, total, rows.Err()
}

func (r *repository) Update(ctx context.Context, id int64, title, content string) (Blog, error) {
	row := r.pool.QueryRow(ctx, `
UPDATE blogs SET title = $2, content = $3, updated_at = NOW()
WHERE id = $1
RETURNING `+blogColumns, id, title, content)
	return scanBlog(row)
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM blogs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("blog %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func scanBlog(row pgx.Row) (Blog, error) {
	var b Blog
	if err := row.Scan(&b.ID, &b.Title, &b.Content, &b.AuthorID, &b.Author, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return Blog{}, db.MapError(err)
	}
	return b, nil
}
