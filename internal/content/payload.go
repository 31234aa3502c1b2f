package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"postengine/internal/media"
	"postengine/internal/storage"
)

// Payload is the create and update input shared by every kind. Fields a
// kind does not carry are ignored for that kind.
type Payload struct {
	Title           string `json:"title"`
	Excerpt         string `json:"excerpt"`
	MetaTitle       string `json:"meta_title"`
	MetaKeywords    string `json:"meta_keywords"`
	MetaDescription string `json:"meta_description"`
	MetaRobots      string `json:"meta_robots"`
	MetaOGType      string `json:"meta_og_type"`
	// Published is ignored on create, which always publishes.
	Published *bool `json:"published"`
	// Version, when set on update, must match the stored post version.
	Version *int64 `json:"version"`

	Slug  string `json:"slug"`
	Order *int   `json:"order"`

	DonationFormID   *int64             `json:"donation_form_id"`
	DonationFormData *DonationFormInput `json:"donation_form_data"`

	FeaturedImage *ImageInput `json:"featured_image"`
	// Contents is the whole block list; on update an omitted list clears it.
	Contents []BlockInput `json:"contents"`
	// Categories syncs the category set on update when non nil. Create only
	// attaches the first entry.
	Categories     []CategoryRef   `json:"categories"`
	CategoriesData []CategoryInput `json:"categories_data"`

	Location           *string `json:"location"`
	ImplementationDate *Date   `json:"implementation_date"`
}

func (p *Payload) applyPost(post *storage.Post) {
	post.Title = p.Title
	post.Excerpt = p.Excerpt
	post.MetaTitle = p.MetaTitle
	post.MetaKeywords = p.MetaKeywords
	post.MetaDescription = p.MetaDescription
	post.MetaRobots = p.MetaRobots
	post.MetaOGType = p.MetaOGType
}

func (p *Payload) categorySlugs() []string {
	slugs := make([]string, 0, len(p.Categories))
	for _, c := range p.Categories {
		slugs = append(slugs, c.Slug)
	}
	return slugs
}

type ImageInput struct {
	Src     string  `json:"src"`
	AltText *string `json:"alt_text"`
}

func (i *ImageInput) spec() media.ImageSpec {
	return media.ImageSpec{Src: strings.TrimSpace(i.Src), AltText: i.AltText}
}

// BlockInput is one content block. On the wire a text block's body is a
// string and an image block's body is an {src, alt_text} object.
type BlockInput struct {
	Type  string `json:"type"`
	Text  string
	Image *ImageInput
}

func (b *BlockInput) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type string          `json:"type"`
		Body json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	b.Type = raw.Type
	body := bytes.TrimSpace(raw.Body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil
	}

	switch raw.Type {
	case storage.BlockImage:
		var img ImageInput
		if err := json.Unmarshal(body, &img); err != nil {
			return fmt.Errorf("image block body must be an object with src and alt_text: %w", err)
		}
		b.Image = &img
	default:
		var text string
		if err := json.Unmarshal(body, &text); err != nil {
			return fmt.Errorf("text block body must be a string: %w", err)
		}
		b.Text = text
	}
	return nil
}

type CategoryRef struct {
	Slug string `json:"slug"`
}

type CategoryInput struct {
	Name            string  `json:"name"`
	Slug            string  `json:"slug"`
	MetaTitle       *string `json:"meta_title"`
	MetaKeywords    *string `json:"meta_keywords"`
	MetaDescription *string `json:"meta_description"`
	MetaRobots      *string `json:"meta_robots"`
	MetaOGType      *string `json:"meta_og_type"`
	Order           *int    `json:"order"`
}

// DonationFormInput creates a donation form inline. Every field is required.
type DonationFormInput struct {
	Title          string          `json:"title"`
	Status         string          `json:"status"`
	FullyFundLevel *int64          `json:"fully_fund_level"`
	Levels         json.RawMessage `json:"levels"`
}

// Date accepts either a calendar date or an RFC 3339 timestamp.
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}

	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("date %q must look like 2006-01-02", s)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Format(time.DateOnly))
}
