package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"postengine/internal/domain"
	"postengine/internal/media"
	"postengine/internal/storage"
	"postengine/internal/telemetry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Service orchestrates the post, its kind extension, content blocks,
// categories and images as one unit of work per call. Every kind goes
// through the same code path; kind differences live in domain.Kind.
type Service struct {
	store      storage.Store
	images     ImageIngestor
	categories *CategoryDirectory
	blocks     *BlockList
	forms      *DonationForms
	metrics    *telemetry.Metrics
	logger     *slog.Logger
	tracer     trace.Tracer
}

func NewService(store storage.Store, images ImageIngestor, metrics *telemetry.Metrics, logger *slog.Logger) *Service {
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Service{
		store:      store,
		images:     images,
		categories: NewCategoryDirectory(store, logger),
		blocks:     NewBlockList(store, images),
		forms:      NewDonationForms(store),
		metrics:    metrics,
		logger:     logger,
		tracer:     otel.Tracer("postengine/content"),
	}
}

// Categories exposes the category directory.
func (s *Service) Categories() *CategoryDirectory {
	return s.categories
}

// DonationForms exposes donation form lookups.
func (s *Service) DonationForms() *DonationForms {
	return s.forms
}

func (s *Service) startSpan(ctx context.Context, op string, kind *domain.Kind, id int64) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "Service."+op, trace.WithAttributes(
		attribute.String("entity.kind", kind.Name),
		attribute.Int64("entity.id", id),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// List returns one page of live entities. Kinds that are not filterable or
// categorized ignore the published and category filters.
func (s *Service) List(ctx context.Context, kind *domain.Kind, params ListParams) (_ *Page, err error) {
	ctx, span := s.startSpan(ctx, "List", kind, 0)
	defer func() { endSpan(span, err) }()

	params.normalize()

	filter := storage.ListFilter{
		Limit:  params.PerPage,
		Offset: (params.Page - 1) * params.PerPage,
	}
	if kind.Filterable {
		filter.Published = params.Published
	}
	if kind.Categorized {
		filter.CategorySlug = params.CategorySlug
	}

	exts, total, err := s.store.ListExtensions(ctx, kind, filter)
	if err != nil {
		return nil, storage.DomainError("list "+kind.Plural, kind.Name, 0, err)
	}

	page := &Page{
		Items:       make([]*Brief, 0, len(exts)),
		CurrentPage: params.Page,
		PerPage:     params.PerPage,
		Total:       total,
		LastPage:    lastPage(total, params.PerPage),
	}
	if len(exts) == 0 {
		return page, nil
	}

	postIDs := make([]int64, 0, len(exts))
	var imageIDs []int64
	for _, e := range exts {
		postIDs = append(postIDs, e.PostID)
		if e.FeaturedImageID != nil {
			imageIDs = append(imageIDs, *e.FeaturedImageID)
		}
	}

	posts, err := s.store.GetPostsByIDs(ctx, postIDs)
	if err != nil {
		return nil, storage.DomainError("load posts", "post", 0, err)
	}
	images, err := s.store.GetImagesByIDs(ctx, imageIDs)
	if err != nil {
		return nil, storage.DomainError("load images", "image", 0, err)
	}
	categories := map[int64][]*storage.Category{}
	if kind.Categorized {
		if categories, err = s.store.GetCategoriesForPosts(ctx, postIDs); err != nil {
			return nil, storage.DomainError("load categories", "category", 0, err)
		}
	}

	for _, e := range exts {
		post, ok := posts[e.PostID]
		if !ok {
			continue
		}

		brief := &Brief{
			ID:         e.ID,
			Slug:       e.Slug,
			Order:      e.SortOrder,
			Title:      post.Title,
			Excerpt:    post.Excerpt,
			Published:  post.Published,
			Categories: nonNil(categories[e.PostID]),
		}
		if e.FeaturedImageID != nil {
			brief.FeaturedImage = images[*e.FeaturedImageID]
		}
		page.Items = append(page.Items, brief)
	}

	return page, nil
}

// Read loads one live entity. A non nil published also requires the post's
// published flag to match; a mismatch reads as absent.
func (s *Service) Read(ctx context.Context, kind *domain.Kind, id int64, published *bool) (_ *Entity, err error) {
	ctx, span := s.startSpan(ctx, "Read", kind, id)
	defer func() { endSpan(span, err) }()

	ext, err := s.store.GetExtension(ctx, kind, id, published)
	if err != nil {
		return nil, storage.DomainError("get "+kind.Name, kind.Name, id, err)
	}
	return s.load(ctx, kind, ext)
}

// Create uploads the featured and block images, then writes the post
// (always published), the extension, the content blocks and the first
// category in one transaction. Any failure rolls every row back and deletes
// the blobs uploaded for it.
func (s *Service) Create(ctx context.Context, kind *domain.Kind, p *Payload) (_ *Entity, err error) {
	ctx, span := s.startSpan(ctx, "Create", kind, 0)
	defer func() {
		s.metrics.RecordMutation(ctx, kind.Name, "create", err)
		endSpan(span, err)
	}()

	if err := p.validate(kind); err != nil {
		return nil, err
	}

	// remote fetches run before the transaction takes the connection
	reserved := media.Reservations{}
	var featuredUpload *media.Stored
	if p.FeaturedImage != nil {
		stored, err := s.images.FetchAndStore(ctx, p.FeaturedImage.spec().Src, reserved)
		if err != nil {
			return nil, err
		}
		featuredUpload = &stored
	}
	prepared, err := s.blocks.Prepare(ctx, 0, p.Contents, reserved)
	if err != nil {
		s.dropUploads(ctx, featuredUpload, nil)
		return nil, err
	}

	var entity *Entity
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		ext := &storage.Extension{Slug: p.Slug}
		if p.Order != nil {
			ext.SortOrder = *p.Order
		}

		var featured *storage.Image
		if p.FeaturedImage != nil {
			img, _, err := s.images.ReconcileFeaturedImage(ctx, nil, p.FeaturedImage.spec(), featuredUpload)
			if err != nil {
				return err
			}
			featured = img
			ext.FeaturedImageID = &img.ID
		}

		post := &storage.Post{Published: true}
		p.applyPost(post)
		if err := s.store.CreatePost(ctx, post); err != nil {
			return storage.DomainError("create post", "post", 0, err)
		}
		ext.PostID = post.ID

		if err := s.applyExtension(ctx, kind, p, ext); err != nil {
			return err
		}
		if err := s.store.CreateExtension(ctx, kind, ext); err != nil {
			return storage.DomainError("create "+kind.Name, kind.Name, 0, err)
		}

		if featured != nil {
			if err := s.store.AttachImage(ctx, post.ID, featured.ID); err != nil {
				return storage.DomainError("attach image", "post", post.ID, err)
			}
		}

		if len(p.Contents) > 0 {
			if _, err := s.blocks.ReplaceAll(ctx, post.ID, prepared); err != nil {
				return err
			}
		}

		if kind.Categorized {
			if err := s.categories.AttachFirst(ctx, kind, post.ID, p.categorySlugs()); err != nil {
				return err
			}
			if len(p.CategoriesData) > 0 {
				if _, err := s.categories.AttachNew(ctx, kind, post.ID, p.CategoriesData); err != nil {
					return err
				}
			}
		}

		loaded, err := s.load(ctx, kind, ext)
		if err != nil {
			return err
		}
		entity = loaded
		return nil
	})
	if err != nil {
		s.dropUploads(ctx, featuredUpload, prepared)
		return nil, err
	}

	s.logger.Info("entity created", "kind", kind.Name, "id", entity.ID, "post_id", entity.PostID, "slug", entity.Slug)
	return entity, nil
}

// Update rewrites the post and extension of id from p in one transaction.
// The content list is always replaced, so omitted contents clear it;
// categories are synced only when p carries them and published is kept
// when p leaves it out. Images are uploaded before the transaction and
// blobs nothing points at any more are deleted after commit.
func (s *Service) Update(ctx context.Context, kind *domain.Kind, id int64, p *Payload) (_ *Entity, err error) {
	ctx, span := s.startSpan(ctx, "Update", kind, id)
	defer func() {
		s.metrics.RecordMutation(ctx, kind.Name, "update", err)
		endSpan(span, err)
	}()

	if err := p.validate(kind); err != nil {
		return nil, err
	}

	current, err := s.store.GetExtension(ctx, kind, id, nil)
	if err != nil {
		return nil, storage.DomainError("get "+kind.Name, kind.Name, id, err)
	}

	reserved := media.Reservations{}
	var featuredUpload *media.Stored
	if p.FeaturedImage != nil {
		src := p.FeaturedImage.spec().Src
		changed := current.FeaturedImageID == nil
		if !changed {
			img, err := s.store.GetImage(ctx, *current.FeaturedImageID)
			if err != nil {
				return nil, storage.DomainError("get image", "image", *current.FeaturedImageID, err)
			}
			changed = img.SourceURL != src
		}
		if changed {
			stored, err := s.images.FetchAndStore(ctx, src, reserved)
			if err != nil {
				return nil, err
			}
			featuredUpload = &stored
		}
	}
	prepared, err := s.blocks.Prepare(ctx, current.PostID, p.Contents, reserved)
	if err != nil {
		s.dropUploads(ctx, featuredUpload, nil)
		return nil, err
	}

	var (
		entity *Entity
		stale  []string
	)
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		stale = nil

		ext, err := s.store.GetExtension(ctx, kind, id, nil)
		if err != nil {
			return storage.DomainError("get "+kind.Name, kind.Name, id, err)
		}
		post, err := s.store.GetPost(ctx, ext.PostID)
		if err != nil {
			return storage.DomainError("get post", kind.Name, id, err)
		}

		if p.Version != nil && *p.Version != post.Version {
			return &domain.ConflictError{
				Resource: kind.Name,
				Detail:   fmt.Sprintf("version %d is stale, current is %d", *p.Version, post.Version),
			}
		}

		p.applyPost(post)
		if p.Published != nil {
			post.Published = *p.Published
		}
		if err := s.store.UpdatePost(ctx, post); err != nil {
			return storage.DomainError("update post", kind.Name, id, err)
		}

		if p.FeaturedImage != nil {
			var existing *storage.Image
			if ext.FeaturedImageID != nil {
				if existing, err = s.store.GetImage(ctx, *ext.FeaturedImageID); err != nil {
					return storage.DomainError("get image", "image", *ext.FeaturedImageID, err)
				}
			}

			img, staleKey, err := s.images.ReconcileFeaturedImage(ctx, existing, p.FeaturedImage.spec(), featuredUpload)
			if err != nil {
				return err
			}
			if existing == nil || img.ID != existing.ID {
				if err := s.store.AttachImage(ctx, post.ID, img.ID); err != nil {
					return storage.DomainError("attach image", "post", post.ID, err)
				}
			}
			if staleKey != "" {
				stale = append(stale, staleKey)
			}
			ext.FeaturedImageID = &img.ID
		}

		ext.Slug = p.Slug
		if p.Order != nil {
			ext.SortOrder = *p.Order
		}
		if err := s.applyExtension(ctx, kind, p, ext); err != nil {
			return err
		}
		if err := s.store.UpdateExtension(ctx, kind, ext); err != nil {
			return storage.DomainError("update "+kind.Name, kind.Name, id, err)
		}

		if _, err := s.blocks.ReplaceAll(ctx, post.ID, prepared); err != nil {
			return err
		}
		stale = append(stale, prepared.Superseded...)

		if kind.Categorized {
			if p.Categories != nil {
				if err := s.categories.Sync(ctx, kind, post.ID, p.categorySlugs()); err != nil {
					return err
				}
			}
			if len(p.CategoriesData) > 0 {
				if _, err := s.categories.AttachNew(ctx, kind, post.ID, p.CategoriesData); err != nil {
					return err
				}
			}
		}

		loaded, err := s.load(ctx, kind, ext)
		if err != nil {
			return err
		}
		entity = loaded
		return nil
	})
	if err != nil {
		s.dropUploads(ctx, featuredUpload, prepared)
		return nil, err
	}

	for _, key := range stale {
		s.dropBlob(ctx, key)
	}

	s.logger.Info("entity updated", "kind", kind.Name, "id", entity.ID, "version", entity.Post.Version)
	return entity, nil
}

// Delete soft deletes the post and then its extension in one transaction.
// A missing or already deleted id reports a *domain.NotFoundError and
// changes nothing.
func (s *Service) Delete(ctx context.Context, kind *domain.Kind, id int64) (err error) {
	ctx, span := s.startSpan(ctx, "Delete", kind, id)
	defer func() {
		s.metrics.RecordMutation(ctx, kind.Name, "delete", err)
		endSpan(span, err)
	}()

	var postID int64
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		ext, err := s.store.GetExtension(ctx, kind, id, nil)
		if err != nil {
			return storage.DomainError("get "+kind.Name, kind.Name, id, err)
		}
		postID = ext.PostID

		if err := s.store.SoftDeletePost(ctx, ext.PostID); err != nil {
			return storage.DomainError("delete post", kind.Name, id, err)
		}
		if err := s.store.SoftDeleteExtension(ctx, kind, id); err != nil {
			return storage.DomainError("delete "+kind.Name, kind.Name, id, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("entity deleted", "kind", kind.Name, "id", id, "post_id", postID)
	return nil
}

// dropBlob deletes a superseded blob unless an image row at key is still
// referenced. A failure here only orphans the blob.
// dropUploads removes the blobs of a failed write that were meant for new
// image rows.
func (s *Service) dropUploads(ctx context.Context, featured *media.Stored, prepared *PreparedBlocks) {
	keys := prepared.Fresh()
	if featured != nil && featured.ImageID == 0 {
		keys = append(keys, featured.Path)
	}
	for _, key := range keys {
		s.dropBlob(ctx, key)
	}
}

func (s *Service) dropBlob(ctx context.Context, key string) {
	img, err := s.store.GetImageByPath(ctx, key)
	switch {
	case err == nil:
		refs, err := s.store.CountImageReferences(ctx, img.ID)
		if err != nil || refs > 0 {
			return
		}
	case !errors.Is(err, storage.ErrNotFound):
		s.logger.Warn("could not check superseded image", "key", key, "err", err)
		return
	}

	if err := s.images.DeleteBlob(ctx, key); err != nil {
		s.logger.Warn("could not delete superseded image", "key", key, "err", err)
	}
}

// applyExtension copies the kind specific payload fields onto ext.
func (s *Service) applyExtension(ctx context.Context, kind *domain.Kind, p *Payload, ext *storage.Extension) error {
	if kind.AcceptsDonationForms() {
		formID, err := s.forms.Resolve(ctx, p.DonationFormID, p.DonationFormData, ext.DonationFormID)
		if err != nil {
			return err
		}
		ext.DonationFormID = formID
	}

	if kind.HasColumn("location") {
		ext.Location = p.Location
	}
	if kind.HasColumn("implementation_date") {
		ext.ImplementationDate = nil
		if p.ImplementationDate != nil {
			t := p.ImplementationDate.Time
			ext.ImplementationDate = &t
		}
	}
	return nil
}

// load assembles the full aggregate around ext.
func (s *Service) load(ctx context.Context, kind *domain.Kind, ext *storage.Extension) (*Entity, error) {
	post, err := s.store.GetPost(ctx, ext.PostID)
	if err != nil {
		return nil, storage.DomainError("get post", kind.Name, ext.ID, err)
	}

	entity := &Entity{Extension: ext, Type: kind.PostType, Post: post}

	if ext.FeaturedImageID != nil {
		if entity.FeaturedImage, err = s.store.GetImage(ctx, *ext.FeaturedImageID); err != nil {
			return nil, storage.DomainError("get image", "image", *ext.FeaturedImageID, err)
		}
	}

	blocks, err := s.store.GetBlocksForPost(ctx, post.ID)
	if err != nil {
		return nil, storage.DomainError("get content", "post", post.ID, err)
	}
	entity.Contents = nonNil(blocks)

	byPost, err := s.store.GetCategoriesForPosts(ctx, []int64{post.ID})
	if err != nil {
		return nil, storage.DomainError("get categories", "post", post.ID, err)
	}
	entity.Categories = nonNil(byPost[post.ID])

	images, err := s.store.GetImagesForPost(ctx, post.ID)
	if err != nil {
		return nil, storage.DomainError("get images", "post", post.ID, err)
	}
	entity.Images = nonNil(images)

	if ext.DonationFormID != nil {
		if entity.DonationForm, err = s.forms.Get(ctx, *ext.DonationFormID); err != nil {
			return nil, err
		}
	}

	return entity, nil
}

// nonNil keeps empty associations rendering as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
