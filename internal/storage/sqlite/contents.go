package sqlite

import (
	"context"
	"fmt"

	"postengine/internal/storage"

	"github.com/jmoiron/sqlx"
)

const blockColumns = `id, post_id, type, body, image_id, position`

// ReplaceBlocks swaps the post's content for blocks. Positions are
// renumbered from the slice order starting at 0.
func (s *Store) ReplaceBlocks(ctx context.Context, postID int64, blocks []*storage.Block) error {
	if _, err := s.ext(ctx).ExecContext(ctx, `DELETE FROM post_contents WHERE post_id = ?`, postID); err != nil {
		return fmt.Errorf("could not clear content of post %d: %w", postID, mapSqlError(err))
	}

	query := `INSERT INTO post_contents (post_id, type, body, image_id, position)
		VALUES (?, ?, ?, ?, ?)
		RETURNING ` + blockColumns

	for i, b := range blocks {
		image := b.Image
		err := sqlx.GetContext(ctx, s.ext(ctx), b, query, postID, b.Type, b.Body, b.ImageID, i)
		if err != nil {
			return fmt.Errorf("could not write block %d of post %d: %w", i, postID, mapSqlError(err))
		}
		b.Image = image
	}
	return nil
}

// GetBlocksForPost returns the post's blocks in position order, with image
// blocks carrying their image.
func (s *Store) GetBlocksForPost(ctx context.Context, postID int64) ([]*storage.Block, error) {
	query := `SELECT ` + blockColumns + ` FROM post_contents
		WHERE post_id = ?
		ORDER BY position ASC`

	var blocks []*storage.Block
	if err := sqlx.SelectContext(ctx, s.ext(ctx), &blocks, query, postID); err != nil {
		return nil, fmt.Errorf("failed to get content of post %d: %w", postID, mapSqlError(err))
	}

	var imageIDs []int64
	for _, b := range blocks {
		if b.ImageID != nil {
			imageIDs = append(imageIDs, *b.ImageID)
		}
	}

	images, err := s.GetImagesByIDs(ctx, imageIDs)
	if err != nil {
		return nil, err
	}
	for _, b := range blocks {
		if b.ImageID != nil {
			b.Image = images[*b.ImageID]
		}
	}
	return blocks, nil
}
