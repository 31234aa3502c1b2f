package storage

import (
	"context"
	"errors"
	"time"

	"postengine/internal/domain"

	"github.com/jmoiron/sqlx/types"
)

// Store is the persistence interface the orchestrator drives. Every method
// joins the transaction carried by ctx when WithTx started one.
type Store interface {
	// WithTx runs fn inside one transaction; any error rolls back every
	// write fn made.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	// posts
	CreatePost(ctx context.Context, post *Post) error
	GetPost(ctx context.Context, id int64) (*Post, error)
	GetPostsByIDs(ctx context.Context, ids []int64) (map[int64]*Post, error)
	UpdatePost(ctx context.Context, post *Post) error
	SoftDeletePost(ctx context.Context, id int64) error

	// type specific extensions
	CreateExtension(ctx context.Context, kind *domain.Kind, ext *Extension) error
	GetExtension(ctx context.Context, kind *domain.Kind, id int64, published *bool) (*Extension, error)
	UpdateExtension(ctx context.Context, kind *domain.Kind, ext *Extension) error
	SoftDeleteExtension(ctx context.Context, kind *domain.Kind, id int64) error
	ListExtensions(ctx context.Context, kind *domain.Kind, filter ListFilter) ([]*Extension, int64, error)

	// images
	UpsertImage(ctx context.Context, img *Image) error
	UpdateImage(ctx context.Context, img *Image) error
	GetImage(ctx context.Context, id int64) (*Image, error)
	GetImageByPath(ctx context.Context, path string) (*Image, error)
	CountImageReferences(ctx context.Context, imageID int64) (int64, error)
	GetImagesByIDs(ctx context.Context, ids []int64) (map[int64]*Image, error)
	AttachImage(ctx context.Context, postID, imageID int64) error
	GetImagesForPost(ctx context.Context, postID int64) ([]*Image, error)

	// categories
	CreateCategory(ctx context.Context, category *Category) error
	GetCategoriesBySlugs(ctx context.Context, postType domain.PostType, slugs []string) ([]*Category, error)
	ListCategories(ctx context.Context, postType domain.PostType) ([]*Category, error)
	SyncPostCategories(ctx context.Context, postID int64, categoryIDs []int64) error
	AttachPostCategories(ctx context.Context, postID int64, categoryIDs []int64) error
	GetCategoriesForPosts(ctx context.Context, postIDs []int64) (map[int64][]*Category, error)

	// content blocks
	ReplaceBlocks(ctx context.Context, postID int64, blocks []*Block) error
	GetBlocksForPost(ctx context.Context, postID int64) ([]*Block, error)

	// donation forms
	CreateDonationForm(ctx context.Context, form *DonationForm) error
	GetDonationForm(ctx context.Context, id int64) (*DonationForm, error)

	Close() error
}

var (
	ErrNotFound        = errors.New("record not found")
	ErrUniqueViolation = errors.New("unique constraint violation")
	ErrCheckViolation  = errors.New("check constraint violation")
	ErrVersionConflict = errors.New("row version changed")
)

// ListFilter narrows ListExtensions. A nil Published lists both states.
type ListFilter struct {
	Published    *bool
	CategorySlug string
	Limit        int64
	Offset       int64
}

type Post struct {
	ID              int64      `db:"id" json:"id"`
	Title           string     `db:"title" json:"title"`
	Excerpt         string     `db:"excerpt" json:"excerpt"`
	Published       bool       `db:"published" json:"published"`
	MetaTitle       string     `db:"meta_title" json:"meta_title"`
	MetaKeywords    string     `db:"meta_keywords" json:"meta_keywords"`
	MetaDescription string     `db:"meta_description" json:"meta_description"`
	MetaRobots      string     `db:"meta_robots" json:"meta_robots"`
	MetaOGType      string     `db:"meta_og_type" json:"meta_og_type"`
	Version         int64      `db:"version" json:"version"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt       *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Extension is the type specific row of a kind. Fields the kind's table
// does not carry stay at their zero value.
type Extension struct {
	ID                 int64      `db:"id" json:"id"`
	PostID             int64      `db:"post_id" json:"post_id"`
	Slug               string     `db:"slug" json:"slug"`
	SortOrder          int        `db:"sort_order" json:"order"`
	FeaturedImageID    *int64     `db:"featured_image_id" json:"featured_image_id,omitempty"`
	DonationFormID     *int64     `db:"donation_form_id" json:"donation_form_id,omitempty"`
	Location           *string    `db:"location" json:"location,omitempty"`
	ImplementationDate *time.Time `db:"implementation_date" json:"implementation_date,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt          *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// ColumnValues returns the kind specific column values of the extension.
func (e *Extension) ColumnValues(kind *domain.Kind) map[string]any {
	all := map[string]any{
		"donation_form_id":    e.DonationFormID,
		"location":            e.Location,
		"implementation_date": e.ImplementationDate,
	}

	values := make(map[string]any, len(kind.Columns))
	for _, c := range kind.Columns {
		values[c] = all[c]
	}
	return values
}

type Image struct {
	ID        int64     `db:"id" json:"id"`
	Path      string    `db:"path" json:"path"`
	SourceURL string    `db:"source_url" json:"source_url"`
	AltText   string    `db:"alt_text" json:"alt_text"`
	Width     int       `db:"width" json:"width"`
	Height    int       `db:"height" json:"height"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type Category struct {
	ID              int64           `db:"id" json:"id"`
	PostType        domain.PostType `db:"post_type" json:"post_type"`
	Name            string          `db:"name" json:"name"`
	Slug            string          `db:"slug" json:"slug"`
	MetaTitle       *string         `db:"meta_title" json:"meta_title,omitempty"`
	MetaKeywords    *string         `db:"meta_keywords" json:"meta_keywords,omitempty"`
	MetaDescription *string         `db:"meta_description" json:"meta_description,omitempty"`
	MetaRobots      *string         `db:"meta_robots" json:"meta_robots,omitempty"`
	MetaOGType      *string         `db:"meta_og_type" json:"meta_og_type,omitempty"`
	SortOrder       *int            `db:"sort_order" json:"order,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

const (
	BlockText  = "text"
	BlockImage = "image"
)

// Block is one item of a post's ordered content. Text blocks carry Body,
// image blocks carry ImageID.
type Block struct {
	ID       int64   `db:"id" json:"id"`
	PostID   int64   `db:"post_id" json:"post_id"`
	Type     string  `db:"type" json:"type"`
	Body     *string `db:"body" json:"body,omitempty"`
	ImageID  *int64  `db:"image_id" json:"image_id,omitempty"`
	Position int     `db:"position" json:"order"`

	Image *Image `db:"-" json:"image,omitempty"`
}

type DonationForm struct {
	ID             int64          `db:"id" json:"id"`
	Title          string         `db:"title" json:"title"`
	Status         string         `db:"status" json:"status"`
	FullyFundLevel int64          `db:"fully_fund_level" json:"fully_fund_level"`
	Levels         types.JSONText `db:"levels" json:"levels"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}
