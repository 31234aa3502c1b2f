package sqlite

import (
	"context"
	"fmt"
	"strings"

	"postengine/internal/domain"
	"postengine/internal/storage"

	"github.com/jmoiron/sqlx"
)

// extension tables share these columns; kinds add their own on top.
var baseExtensionColumns = []string{"id", "post_id", "slug", "sort_order", "featured_image_id", "created_at", "updated_at", "deleted_at"}

func extensionColumns(kind *domain.Kind, alias string) string {
	cols := append(append([]string{}, baseExtensionColumns...), kind.Columns...)
	if alias != "" {
		for i, c := range cols {
			cols[i] = alias + "." + c
		}
	}
	return strings.Join(cols, ", ")
}

func (s *Store) CreateExtension(ctx context.Context, kind *domain.Kind, ext *storage.Extension) error {
	cols := []string{"post_id", "slug", "sort_order", "featured_image_id"}
	args := []any{ext.PostID, ext.Slug, ext.SortOrder, ext.FeaturedImageID}

	values := ext.ColumnValues(kind)
	for _, c := range kind.Columns {
		cols = append(cols, c)
		args = append(args, values[c])
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING %s`,
		kind.Table,
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
		extensionColumns(kind, ""),
	)

	if err := sqlx.GetContext(ctx, s.ext(ctx), ext, query, args...); err != nil {
		return fmt.Errorf("cannot create %s %q: %w", kind, ext.Slug, mapSqlError(err))
	}
	return nil
}

// GetExtension loads a live extension whose post is live too. A non nil
// published additionally requires the post's published flag to match.
func (s *Store) GetExtension(ctx context.Context, kind *domain.Kind, id int64, published *bool) (*storage.Extension, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s AS e
		JOIN posts AS p ON p.id = e.post_id
		WHERE e.id = ? AND e.deleted_at IS NULL AND p.deleted_at IS NULL`,
		extensionColumns(kind, "e"), kind.Table)
	args := []any{id}

	if published != nil {
		query += ` AND p.published = ?`
		args = append(args, *published)
	}
	query += ` LIMIT 1`

	var ext storage.Extension
	if err := sqlx.GetContext(ctx, s.ext(ctx), &ext, query, args...); err != nil {
		return nil, fmt.Errorf("cannot find %s id %d: %w", kind, id, mapSqlError(err))
	}
	return &ext, nil
}

func (s *Store) UpdateExtension(ctx context.Context, kind *domain.Kind, ext *storage.Extension) error {
	sets := []string{"slug = ?", "sort_order = ?", "featured_image_id = ?"}
	args := []any{ext.Slug, ext.SortOrder, ext.FeaturedImageID}

	values := ext.ColumnValues(kind)
	for _, c := range kind.Columns {
		sets = append(sets, c+" = ?")
		args = append(args, values[c])
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, ext.ID)

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = ? AND deleted_at IS NULL RETURNING %s`,
		kind.Table, strings.Join(sets, ", "), extensionColumns(kind, ""))

	var updated storage.Extension
	if err := sqlx.GetContext(ctx, s.ext(ctx), &updated, query, args...); err != nil {
		return fmt.Errorf("could not update %s %d: %w", kind, ext.ID, mapSqlError(err))
	}

	*ext = updated
	return nil
}

func (s *Store) SoftDeleteExtension(ctx context.Context, kind *domain.Kind, id int64) error {
	query := fmt.Sprintf(`UPDATE %s SET deleted_at = CURRENT_TIMESTAMP
		WHERE id = ? AND deleted_at IS NULL`, kind.Table)

	result, err := s.ext(ctx).ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("could not delete %s: %w", kind, mapSqlError(err))
	}

	return affected(result)
}

// ListExtensions returns one page of live extensions plus the total number
// of rows matching the filter.
func (s *Store) ListExtensions(ctx context.Context, kind *domain.Kind, filter storage.ListFilter) ([]*storage.Extension, int64, error) {
	where := []string{"e.deleted_at IS NULL", "p.deleted_at IS NULL"}
	var args []any

	if filter.Published != nil {
		where = append(where, "p.published = ?")
		args = append(args, *filter.Published)
	}
	if filter.CategorySlug != "" {
		where = append(where, `EXISTS (SELECT 1 FROM category_post AS cp
			JOIN categories AS c ON c.id = cp.category_id
			WHERE cp.post_id = p.id AND c.slug = ? AND c.post_type = ?)`)
		args = append(args, filter.CategorySlug, kind.PostType)
	}

	from := fmt.Sprintf(`FROM %s AS e JOIN posts AS p ON p.id = e.post_id WHERE %s`,
		kind.Table, strings.Join(where, " AND "))

	var total int64
	if err := sqlx.GetContext(ctx, s.ext(ctx), &total, `SELECT COUNT(*) `+from, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count %s: %w", kind.Plural, mapSqlError(err))
	}
	if total == 0 {
		return nil, 0, nil
	}

	order := "e.sort_order ASC, e.id ASC"
	if kind.Order == domain.OrderByNewest {
		order = "e.id DESC"
	}

	query := fmt.Sprintf(`SELECT %s %s ORDER BY %s LIMIT ? OFFSET ?`, extensionColumns(kind, "e"), from, order)
	args = append(args, filter.Limit, filter.Offset)

	var exts []*storage.Extension
	if err := sqlx.SelectContext(ctx, s.ext(ctx), &exts, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list %s: %w", kind.Plural, mapSqlError(err))
	}

	return exts, total, nil
}
