package content

import (
	"math"

	"postengine/internal/domain"
	"postengine/internal/storage"
)

// Entity is the full aggregate of one kind: the extension row with its post
// and every association loaded.
type Entity struct {
	*storage.Extension
	Type domain.PostType `json:"type"`

	Post          *storage.Post         `json:"post"`
	FeaturedImage *storage.Image        `json:"featured_image,omitempty"`
	Contents      []*storage.Block      `json:"contents"`
	Categories    []*storage.Category   `json:"categories"`
	Images        []*storage.Image      `json:"images"`
	DonationForm  *storage.DonationForm `json:"donation_form,omitempty"`
}

// Brief is the list projection of an entity.
type Brief struct {
	ID            int64               `json:"id"`
	Slug          string              `json:"slug"`
	Order         int                 `json:"order"`
	Title         string              `json:"title"`
	Excerpt       string              `json:"excerpt"`
	Published     bool                `json:"published"`
	Categories    []*storage.Category `json:"categories"`
	FeaturedImage *storage.Image      `json:"featured_image,omitempty"`
}

const (
	DefaultPerPage = 10
	MaxPerPage     = 100
	// MaxPage keeps the row offset of any page within int64.
	MaxPage = math.MaxInt64/MaxPerPage + 1
)

// ListParams selects one page of a kind. A nil Published lists both states.
type ListParams struct {
	Page         int64
	PerPage      int64
	Published    *bool
	CategorySlug string
}

func (p *ListParams) normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	}
	p.PerPage = min(p.PerPage, MaxPerPage)
	p.Page = min(p.Page, MaxPage)
}

type Page struct {
	Items       []*Brief `json:"items"`
	CurrentPage int64    `json:"current_page"`
	PerPage     int64    `json:"per_page"`
	Total       int64    `json:"total"`
	LastPage    int64    `json:"last_page"`
}

// Empty reports whether the page holds no rows.
func (p *Page) Empty() bool {
	return len(p.Items) == 0
}

func lastPage(total, perPage int64) int64 {
	if total == 0 {
		return 1
	}
	return (total + perPage - 1) / perPage
}
