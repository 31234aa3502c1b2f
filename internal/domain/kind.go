package domain

import (
	"slices"
	"strings"
)

// PostType namespaces categories per kind of entity.
type PostType string

const (
	PostTypeProject PostType = "project"
	PostTypeBlog    PostType = "blog"
	PostTypeCareer  PostType = "career"
)

// ListOrder selects how a kind's listing is sorted.
type ListOrder int

const (
	// OrderByPosition sorts by the extension's sort_order ascending.
	OrderByPosition ListOrder = iota
	// OrderByNewest sorts by extension id descending.
	OrderByNewest
)

// Kind describes one entity type layered on a post: where its extension
// rows live and which conventions apply to it. Kinds are compared by
// pointer; use the package level values.
type Kind struct {
	Name     string
	Plural   string
	Table    string
	PostType PostType
	// Columns lists the extension columns the kind carries on top of
	// id, post_id, slug, sort_order and featured_image_id.
	Columns []string
	Order   ListOrder
	// Categorized kinds support category filters, sync and attach.
	Categorized bool
	// Filterable kinds honour the published filter on list.
	Filterable bool
}

var (
	Project = &Kind{
		Name:        "project",
		Plural:      "projects",
		Table:       "projects",
		PostType:    PostTypeProject,
		Columns:     []string{"donation_form_id"},
		Order:       OrderByPosition,
		Categorized: true,
		Filterable:  true,
	}

	Blog = &Kind{
		Name:        "blog",
		Plural:      "blogs",
		Table:       "blogs",
		PostType:    PostTypeBlog,
		Columns:     []string{"donation_form_id", "location", "implementation_date"},
		Order:       OrderByPosition,
		Categorized: true,
		Filterable:  true,
	}

	// Career lists newest first and ignores category and published filters.
	Career = &Kind{
		Name:     "career",
		Plural:   "careers",
		Table:    "careers",
		PostType: PostTypeCareer,
		Order:    OrderByNewest,
	}
)

var kinds = []*Kind{Project, Blog, Career}

// Kinds returns every registered kind.
func Kinds() []*Kind {
	return slices.Clone(kinds)
}

// KindByName resolves a singular or plural kind name.
func KindByName(name string) (*Kind, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, k := range kinds {
		if k.Name == name || k.Plural == name {
			return k, true
		}
	}
	return nil, false
}

// HasColumn reports whether the kind's extension table carries column.
func (k *Kind) HasColumn(column string) bool {
	return slices.Contains(k.Columns, column)
}

// AcceptsDonationForms reports whether extensions reference donation forms.
func (k *Kind) AcceptsDonationForms() bool {
	return k.HasColumn("donation_form_id")
}

func (k *Kind) String() string {
	return k.Name
}
