package sqlite

import (
	"context"
	"fmt"
	"strings"

	"postengine/internal/domain"
	"postengine/internal/storage"

	"github.com/jmoiron/sqlx"
)

const imageColumns = `id, path, source_url, alt_text, width, height, created_at, updated_at`

// UpsertImage inserts an image keyed by path, or refreshes the row already
// holding that path. img receives the stored row.
func (s *Store) UpsertImage(ctx context.Context, img *storage.Image) error {
	query := `INSERT INTO images (path, source_url, alt_text, width, height)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET
			source_url = excluded.source_url,
			alt_text = excluded.alt_text,
			width = excluded.width,
			height = excluded.height,
			updated_at = CURRENT_TIMESTAMP
		RETURNING ` + imageColumns

	err := sqlx.GetContext(ctx, s.ext(ctx), img, query, img.Path, img.SourceURL, img.AltText, img.Width, img.Height)
	if err != nil {
		return fmt.Errorf("cannot upsert image %q: %w", img.Path, mapSqlError(err))
	}
	return nil
}

// UpdateImage rewrites an existing image row in place, keeping its id.
func (s *Store) UpdateImage(ctx context.Context, img *storage.Image) error {
	query := `UPDATE images SET path = ?, source_url = ?, alt_text = ?, width = ?, height = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
		RETURNING ` + imageColumns

	var updated storage.Image
	err := sqlx.GetContext(ctx, s.ext(ctx), &updated, query,
		img.Path, img.SourceURL, img.AltText, img.Width, img.Height, img.ID)
	if err != nil {
		return fmt.Errorf("could not update image %d: %w", img.ID, mapSqlError(err))
	}

	*img = updated
	return nil
}

func (s *Store) GetImage(ctx context.Context, id int64) (*storage.Image, error) {
	query := `SELECT ` + imageColumns + ` FROM images WHERE id = ? LIMIT 1`

	var img storage.Image
	if err := sqlx.GetContext(ctx, s.ext(ctx), &img, query, id); err != nil {
		return nil, fmt.Errorf("cannot find image id %d: %w", id, mapSqlError(err))
	}
	return &img, nil
}

func (s *Store) GetImageByPath(ctx context.Context, path string) (*storage.Image, error) {
	query := `SELECT ` + imageColumns + ` FROM images WHERE path = ? LIMIT 1`

	var img storage.Image
	if err := sqlx.GetContext(ctx, s.ext(ctx), &img, query, path); err != nil {
		return nil, fmt.Errorf("cannot find image %q: %w", path, mapSqlError(err))
	}
	return &img, nil
}

// CountImageReferences counts the extension rows, soft deleted ones
// included, and content blocks pointing at the image.
func (s *Store) CountImageReferences(ctx context.Context, imageID int64) (int64, error) {
	counts := []string{`(SELECT COUNT(*) FROM post_contents WHERE image_id = ?)`}
	args := []any{imageID}
	for _, kind := range domain.Kinds() {
		counts = append(counts, fmt.Sprintf(`(SELECT COUNT(*) FROM %s WHERE featured_image_id = ?)`, kind.Table))
		args = append(args, imageID)
	}

	var refs int64
	if err := sqlx.GetContext(ctx, s.ext(ctx), &refs, `SELECT `+strings.Join(counts, " + "), args...); err != nil {
		return 0, fmt.Errorf("failed to count references to image %d: %w", imageID, mapSqlError(err))
	}
	return refs, nil
}

func (s *Store) GetImagesByIDs(ctx context.Context, ids []int64) (map[int64]*storage.Image, error) {
	found := make(map[int64]*storage.Image, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	query, args, err := sqlx.In(`SELECT `+imageColumns+` FROM images WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("cannot build image query: %w", err)
	}

	var images []*storage.Image
	if err := sqlx.SelectContext(ctx, s.ext(ctx), &images, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get images: %w", mapSqlError(err))
	}

	for _, img := range images {
		found[img.ID] = img
	}
	return found, nil
}

// AttachImage records img as part of the post's image history. Attaching
// twice is a no-op.
func (s *Store) AttachImage(ctx context.Context, postID, imageID int64) error {
	query := `INSERT INTO image_post (image_id, post_id) VALUES (?, ?)
		ON CONFLICT DO NOTHING`

	if _, err := s.ext(ctx).ExecContext(ctx, query, imageID, postID); err != nil {
		return fmt.Errorf("could not attach image %d to post %d: %w", imageID, postID, mapSqlError(err))
	}
	return nil
}

func (s *Store) GetImagesForPost(ctx context.Context, postID int64) ([]*storage.Image, error) {
	query := `SELECT i.id, i.path, i.source_url, i.alt_text, i.width, i.height, i.created_at, i.updated_at
		FROM images AS i
		JOIN image_post AS ip ON ip.image_id = i.id
		WHERE ip.post_id = ?
		ORDER BY i.id ASC`

	var images []*storage.Image
	if err := sqlx.SelectContext(ctx, s.ext(ctx), &images, query, postID); err != nil {
		return nil, fmt.Errorf("failed to get images for post %d: %w", postID, mapSqlError(err))
	}
	return images, nil
}
