package sqlite

import (
	"context"
	"fmt"

	"postengine/internal/domain"
	"postengine/internal/storage"

	"github.com/jmoiron/sqlx"
)

const categoryColumns = `id, post_type, name, slug, meta_title, meta_keywords, meta_description,
	meta_robots, meta_og_type, sort_order, created_at, updated_at`

func (s *Store) CreateCategory(ctx context.Context, category *storage.Category) error {
	query := `INSERT INTO categories (post_type, name, slug, meta_title, meta_keywords,
			meta_description, meta_robots, meta_og_type, sort_order)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING ` + categoryColumns

	err := sqlx.GetContext(ctx, s.ext(ctx), category, query,
		category.PostType, category.Name, category.Slug, category.MetaTitle, category.MetaKeywords,
		category.MetaDescription, category.MetaRobots, category.MetaOGType, category.SortOrder,
	)
	if err != nil {
		return fmt.Errorf("cannot create category %q: %w", category.Slug, mapSqlError(err))
	}
	return nil
}

// GetCategoriesBySlugs returns the categories of postType matching slugs.
// Unknown slugs are skipped.
func (s *Store) GetCategoriesBySlugs(ctx context.Context, postType domain.PostType, slugs []string) ([]*storage.Category, error) {
	if len(slugs) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`SELECT `+categoryColumns+` FROM categories
		WHERE post_type = ? AND slug IN (?)
		ORDER BY id ASC`, postType, slugs)
	if err != nil {
		return nil, fmt.Errorf("cannot build category query: %w", err)
	}

	var categories []*storage.Category
	if err := sqlx.SelectContext(ctx, s.ext(ctx), &categories, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get categories: %w", mapSqlError(err))
	}
	return categories, nil
}

func (s *Store) ListCategories(ctx context.Context, postType domain.PostType) ([]*storage.Category, error) {
	query := `SELECT ` + categoryColumns + ` FROM categories
		WHERE post_type = ?
		ORDER BY sort_order IS NULL, sort_order ASC, name ASC`

	var categories []*storage.Category
	if err := sqlx.SelectContext(ctx, s.ext(ctx), &categories, query, postType); err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", mapSqlError(err))
	}
	return categories, nil
}

// SyncPostCategories makes categoryIDs the post's exact category set.
func (s *Store) SyncPostCategories(ctx context.Context, postID int64, categoryIDs []int64) error {
	if len(categoryIDs) == 0 {
		if _, err := s.ext(ctx).ExecContext(ctx, `DELETE FROM category_post WHERE post_id = ?`, postID); err != nil {
			return fmt.Errorf("could not clear categories of post %d: %w", postID, mapSqlError(err))
		}
		return nil
	}

	query, args, err := sqlx.In(`DELETE FROM category_post WHERE post_id = ? AND category_id NOT IN (?)`, postID, categoryIDs)
	if err != nil {
		return fmt.Errorf("cannot build category sync: %w", err)
	}
	if _, err := s.ext(ctx).ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("could not detach categories of post %d: %w", postID, mapSqlError(err))
	}

	return s.AttachPostCategories(ctx, postID, categoryIDs)
}

// AttachPostCategories adds categoryIDs to the post, leaving existing
// associations alone.
func (s *Store) AttachPostCategories(ctx context.Context, postID int64, categoryIDs []int64) error {
	query := `INSERT INTO category_post (post_id, category_id) VALUES (?, ?)
		ON CONFLICT DO NOTHING`

	for _, id := range categoryIDs {
		if _, err := s.ext(ctx).ExecContext(ctx, query, postID, id); err != nil {
			return fmt.Errorf("could not attach category %d to post %d: %w", id, postID, mapSqlError(err))
		}
	}
	return nil
}

type postCategoryRow struct {
	PostID int64 `db:"post_id"`
	storage.Category
}

// GetCategoriesForPosts loads the categories of several posts in one query.
func (s *Store) GetCategoriesForPosts(ctx context.Context, postIDs []int64) (map[int64][]*storage.Category, error) {
	byPost := make(map[int64][]*storage.Category, len(postIDs))
	if len(postIDs) == 0 {
		return byPost, nil
	}

	query, args, err := sqlx.In(`SELECT cp.post_id, c.id, c.post_type, c.name, c.slug, c.meta_title,
			c.meta_keywords, c.meta_description, c.meta_robots, c.meta_og_type, c.sort_order,
			c.created_at, c.updated_at
		FROM categories AS c
		JOIN category_post AS cp ON cp.category_id = c.id
		WHERE cp.post_id IN (?)
		ORDER BY c.sort_order IS NULL, c.sort_order ASC, c.id ASC`, postIDs)
	if err != nil {
		return nil, fmt.Errorf("cannot build category query: %w", err)
	}

	var rows []postCategoryRow
	if err := sqlx.SelectContext(ctx, s.ext(ctx), &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get post categories: %w", mapSqlError(err))
	}

	for i := range rows {
		category := rows[i].Category
		byPost[rows[i].PostID] = append(byPost[rows[i].PostID], &category)
	}
	return byPost, nil
}
