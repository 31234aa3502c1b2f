package content

import (
	"context"

	"postengine/internal/media"
	"postengine/internal/storage"
)

// ImageIngestor is what the content layer needs from image ingestion.
type ImageIngestor interface {
	FetchAndStore(ctx context.Context, src string, reserved media.Reservations) (media.Stored, error)
	Refetch(ctx context.Context, img *storage.Image) (media.Stored, error)
	CreateOrReplaceImage(ctx context.Context, stored media.Stored, spec media.ImageSpec) (*storage.Image, error)
	ReconcileFeaturedImage(ctx context.Context, existing *storage.Image, spec media.ImageSpec, stored *media.Stored) (*storage.Image, string, error)
	DeleteBlob(ctx context.Context, key string) error
}

// BlockList maintains a post's ordered content blocks.
type BlockList struct {
	store  storage.Store
	images ImageIngestor
}

func NewBlockList(store storage.Store, images ImageIngestor) *BlockList {
	return &BlockList{store: store, images: images}
}

// PreparedBlocks is a block list whose image bytes already sit in blob
// storage. Superseded lists the blobs of the post's current image blocks
// that the new list no longer uses.
type PreparedBlocks struct {
	inputs     []BlockInput
	uploads    []*media.Stored
	Superseded []string
}

// Prepare uploads the images of inputs. An image block whose source matches
// one of the post's current image blocks is fetched again over that block's
// blob and keeps its image row; other sources get fresh paths. postID 0
// means the post has no blocks yet.
func (l *BlockList) Prepare(ctx context.Context, postID int64, inputs []BlockInput, reserved media.Reservations) (*PreparedBlocks, error) {
	reusable := make(map[string][]*storage.Image)
	if postID != 0 {
		current, err := l.store.GetBlocksForPost(ctx, postID)
		if err != nil {
			return nil, storage.DomainError("get content", "post", postID, err)
		}
		for _, b := range current {
			if b.Image != nil {
				reusable[b.Image.SourceURL] = append(reusable[b.Image.SourceURL], b.Image)
			}
		}
	}

	prepared := &PreparedBlocks{inputs: inputs, uploads: make([]*media.Stored, len(inputs))}
	for idx, in := range inputs {
		if in.Type != storage.BlockImage {
			continue
		}

		spec := in.Image.spec()
		var (
			stored media.Stored
			err    error
		)
		if imgs := reusable[spec.Src]; len(imgs) > 0 {
			reusable[spec.Src] = imgs[1:]
			stored, err = l.images.Refetch(ctx, imgs[0])
		} else {
			stored, err = l.images.FetchAndStore(ctx, spec.Src, reserved)
		}
		if err != nil {
			return nil, err
		}
		prepared.uploads[idx] = &stored
	}

	for _, imgs := range reusable {
		for _, img := range imgs {
			prepared.Superseded = append(prepared.Superseded, img.Path)
		}
	}
	return prepared, nil
}

// Fresh lists the blobs uploaded for image rows that do not exist yet.
func (b *PreparedBlocks) Fresh() []string {
	if b == nil {
		return nil
	}
	var keys []string
	for _, u := range b.uploads {
		if u != nil && u.ImageID == 0 {
			keys = append(keys, u.Path)
		}
	}
	return keys
}

// ReplaceAll swaps the post's blocks for the prepared list, positioned
// 0..n-1 in input order. Image rows are recorded before any block row
// changes.
func (l *BlockList) ReplaceAll(ctx context.Context, postID int64, prepared *PreparedBlocks) ([]*storage.Block, error) {
	blocks := make([]*storage.Block, 0, len(prepared.inputs))
	for idx, in := range prepared.inputs {
		switch in.Type {
		case storage.BlockImage:
			img, err := l.images.CreateOrReplaceImage(ctx, *prepared.uploads[idx], in.Image.spec())
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, &storage.Block{Type: storage.BlockImage, ImageID: &img.ID, Image: img})
		default:
			body := in.Text
			blocks = append(blocks, &storage.Block{Type: storage.BlockText, Body: &body})
		}
	}

	if err := l.store.ReplaceBlocks(ctx, postID, blocks); err != nil {
		return nil, storage.DomainError("replace content", "post", postID, err)
	}
	return blocks, nil
}
