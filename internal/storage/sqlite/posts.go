package sqlite

import (
	"context"
	"errors"
	"fmt"

	"postengine/internal/storage"

	"github.com/jmoiron/sqlx"
)

const postColumns = `id, title, excerpt, published, meta_title, meta_keywords, meta_description,
	meta_robots, meta_og_type, version, created_at, updated_at, deleted_at`

func (s *Store) CreatePost(ctx context.Context, post *storage.Post) error {
	query := `INSERT INTO posts (title, excerpt, published, meta_title, meta_keywords,
			meta_description, meta_robots, meta_og_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING ` + postColumns

	err := sqlx.GetContext(ctx, s.ext(ctx), post, query,
		post.Title, post.Excerpt, post.Published, post.MetaTitle, post.MetaKeywords,
		post.MetaDescription, post.MetaRobots, post.MetaOGType,
	)
	if err != nil {
		return fmt.Errorf("cannot create post %q: %w", post.Title, mapSqlError(err))
	}
	return nil
}

func (s *Store) GetPost(ctx context.Context, id int64) (*storage.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts
		WHERE id = ? AND deleted_at IS NULL
		LIMIT 1`

	var post storage.Post
	if err := sqlx.GetContext(ctx, s.ext(ctx), &post, query, id); err != nil {
		return nil, fmt.Errorf("cannot find post id %d: %w", id, mapSqlError(err))
	}
	return &post, nil
}

// GetPostsByIDs loads live posts by id. Missing or deleted ids are absent
// from the result.
func (s *Store) GetPostsByIDs(ctx context.Context, ids []int64) (map[int64]*storage.Post, error) {
	found := make(map[int64]*storage.Post, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	query, args, err := sqlx.In(`SELECT `+postColumns+` FROM posts
		WHERE id IN (?) AND deleted_at IS NULL`, ids)
	if err != nil {
		return nil, fmt.Errorf("cannot build post query: %w", err)
	}

	var posts []*storage.Post
	if err := sqlx.SelectContext(ctx, s.ext(ctx), &posts, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get posts: %w", mapSqlError(err))
	}

	for _, p := range posts {
		found[p.ID] = p
	}
	return found, nil
}

// UpdatePost writes the shared fields when the stored version still equals
// post.Version, then bumps the version. A stale version reports
// storage.ErrVersionConflict; a missing or deleted post storage.ErrNotFound.
func (s *Store) UpdatePost(ctx context.Context, post *storage.Post) error {
	query := `UPDATE posts SET title = ?, excerpt = ?, published = ?, meta_title = ?,
			meta_keywords = ?, meta_description = ?, meta_robots = ?, meta_og_type = ?,
			version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ? AND deleted_at IS NULL
		RETURNING ` + postColumns

	var updated storage.Post
	err := sqlx.GetContext(ctx, s.ext(ctx), &updated, query,
		post.Title, post.Excerpt, post.Published, post.MetaTitle, post.MetaKeywords,
		post.MetaDescription, post.MetaRobots, post.MetaOGType,
		post.ID, post.Version,
	)
	if err == nil {
		*post = updated
		return nil
	}

	err = mapSqlError(err)
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("could not update post %d: %w", post.ID, err)
	}

	// tell a vanished row from a concurrent writer
	if _, getErr := s.GetPost(ctx, post.ID); getErr == nil {
		return fmt.Errorf("could not update post %d: %w", post.ID, storage.ErrVersionConflict)
	}
	return fmt.Errorf("could not update post %d: %w", post.ID, storage.ErrNotFound)
}

func (s *Store) SoftDeletePost(ctx context.Context, id int64) error {
	query := `UPDATE posts SET deleted_at = CURRENT_TIMESTAMP, version = version + 1
		WHERE id = ? AND deleted_at IS NULL`

	result, err := s.ext(ctx).ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("could not delete post: %w", mapSqlError(err))
	}

	return affected(result)
}
