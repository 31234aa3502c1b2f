package content

import (
	"context"
	"log/slog"

	"postengine/internal/domain"
	"postengine/internal/storage"
)

// CategoryDirectory resolves and maintains categories, scoped per kind.
type CategoryDirectory struct {
	store  storage.Store
	logger *slog.Logger
}

func NewCategoryDirectory(store storage.Store, logger *slog.Logger) *CategoryDirectory {
	return &CategoryDirectory{store: store, logger: logger}
}

func requireCategorized(kind *domain.Kind) error {
	if !kind.Categorized {
		return domain.NewValidationError("categories", kind.String()+" entries are not categorized")
	}
	return nil
}

// ResolveBySlugs returns the kind's categories matching slugs. Unknown slugs
// are omitted.
func (d *CategoryDirectory) ResolveBySlugs(ctx context.Context, kind *domain.Kind, slugs []string) ([]*storage.Category, error) {
	categories, err := d.store.GetCategoriesBySlugs(ctx, kind.PostType, slugs)
	if err != nil {
		return nil, storage.DomainError("resolve categories", "category", 0, err)
	}
	return categories, nil
}

// Create adds a category to the kind's namespace.
func (d *CategoryDirectory) Create(ctx context.Context, kind *domain.Kind, in CategoryInput) (*storage.Category, error) {
	if err := requireCategorized(kind); err != nil {
		return nil, err
	}
	if err := asValidationError(in.Validate()); err != nil {
		return nil, err
	}

	category := &storage.Category{
		PostType:        kind.PostType,
		Name:            in.Name,
		Slug:            in.Slug,
		MetaTitle:       in.MetaTitle,
		MetaKeywords:    in.MetaKeywords,
		MetaDescription: in.MetaDescription,
		MetaRobots:      in.MetaRobots,
		MetaOGType:      in.MetaOGType,
		SortOrder:       in.Order,
	}
	if err := d.store.CreateCategory(ctx, category); err != nil {
		return nil, storage.DomainError("create category", "category", 0, err)
	}
	return category, nil
}

func (d *CategoryDirectory) List(ctx context.Context, kind *domain.Kind) ([]*storage.Category, error) {
	if err := requireCategorized(kind); err != nil {
		return nil, err
	}

	categories, err := d.store.ListCategories(ctx, kind.PostType)
	if err != nil {
		return nil, storage.DomainError("list categories", "category", 0, err)
	}
	return categories, nil
}

// Sync makes the post's categories exactly the resolved slugs.
func (d *CategoryDirectory) Sync(ctx context.Context, kind *domain.Kind, postID int64, slugs []string) error {
	categories, err := d.ResolveBySlugs(ctx, kind, slugs)
	if err != nil {
		return err
	}

	if err := d.store.SyncPostCategories(ctx, postID, categoryIDs(categories)); err != nil {
		return storage.DomainError("sync categories", "post", postID, err)
	}
	return nil
}

// AttachFirst attaches the category named by the first slug, if it exists.
func (d *CategoryDirectory) AttachFirst(ctx context.Context, kind *domain.Kind, postID int64, slugs []string) error {
	if len(slugs) == 0 {
		return nil
	}

	categories, err := d.ResolveBySlugs(ctx, kind, slugs[:1])
	if err != nil {
		return err
	}

	if err := d.store.AttachPostCategories(ctx, postID, categoryIDs(categories)); err != nil {
		return storage.DomainError("attach categories", "post", postID, err)
	}
	return nil
}

// AttachNew creates one category per input and attaches them all, leaving
// the post's existing categories in place.
func (d *CategoryDirectory) AttachNew(ctx context.Context, kind *domain.Kind, postID int64, inputs []CategoryInput) ([]*storage.Category, error) {
	created := make([]*storage.Category, 0, len(inputs))
	for _, in := range inputs {
		category, err := d.Create(ctx, kind, in)
		if err != nil {
			return nil, err
		}
		created = append(created, category)
	}

	if err := d.store.AttachPostCategories(ctx, postID, categoryIDs(created)); err != nil {
		return nil, storage.DomainError("attach categories", "post", postID, err)
	}
	return created, nil
}

func categoryIDs(categories []*storage.Category) []int64 {
	ids := make([]int64, 0, len(categories))
	for _, c := range categories {
		ids = append(ids, c.ID)
	}
	return ids
}
