package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"postengine/internal/domain"
	"postengine/internal/storage"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	maxTitleLength = 255
	maxSlugLength  = 255
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

var slugRules = []validation.Rule{
	validation.Required,
	validation.Length(1, maxSlugLength),
	validation.Match(slugPattern).Error("must be lowercase words joined by hyphens"),
}

func (i ImageInput) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.Src, validation.Required, validation.By(httpURL)),
	)
}

func (b BlockInput) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Type, validation.Required, validation.In(storage.BlockText, storage.BlockImage)),
		validation.Field(&b.Text, validation.When(b.Type == storage.BlockText, validation.Required)),
		validation.Field(&b.Image, validation.When(b.Type == storage.BlockImage, validation.Required)),
	)
}

func (c CategoryRef) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Slug, validation.Required),
	)
}

func (c CategoryInput) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Name, validation.Required, validation.Length(1, maxTitleLength)),
		validation.Field(&c.Slug, slugRules...),
	)
}

func (d DonationFormInput) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Title, validation.Required),
		validation.Field(&d.Status, validation.Required),
		validation.Field(&d.FullyFundLevel, validation.NotNil, validation.Min(int64(0))),
		validation.Field(&d.Levels, validation.Required, validation.By(jsonArray)),
	)
}

func jsonArray(value any) error {
	raw, _ := value.(json.RawMessage)
	var levels []json.RawMessage
	if err := json.Unmarshal(raw, &levels); err != nil || levels == nil {
		return errors.New("must be an array")
	}
	return nil
}

func httpURL(value any) error {
	s, _ := value.(string)
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http or https URL")
	}
	return nil
}

// validate normalizes and checks p for kind. Create and update share the
// rules.
func (p *Payload) validate(kind *domain.Kind) error {
	p.Title = strings.TrimSpace(p.Title)
	p.Slug = strings.TrimSpace(p.Slug)

	err := validation.ValidateStruct(p,
		validation.Field(&p.Title, validation.Required, validation.Length(1, maxTitleLength)),
		validation.Field(&p.Slug, slugRules...),
		validation.Field(&p.FeaturedImage),
		validation.Field(&p.Contents),
		validation.Field(&p.Categories,
			validation.When(!kind.Categorized, validation.Empty.Error(fmt.Sprintf("%s entries are not categorized", kind)))),
		validation.Field(&p.CategoriesData,
			validation.When(!kind.Categorized, validation.Empty.Error(fmt.Sprintf("%s entries are not categorized", kind)))),
		validation.Field(&p.DonationFormID,
			validation.When(!kind.AcceptsDonationForms(), validation.Nil.Error(fmt.Sprintf("%s entries take no donation form", kind))),
			validation.Min(int64(1))),
		validation.Field(&p.DonationFormData,
			validation.When(!kind.AcceptsDonationForms(), validation.Nil.Error(fmt.Sprintf("%s entries take no donation form", kind)))),
	)
	return asValidationError(err)
}

// asValidationError flattens ozzo errors into a domain.ValidationError keyed
// by dotted field path, e.g. "contents.0.body".
func asValidationError(err error) error {
	if err == nil {
		return nil
	}

	var internal validation.InternalError
	if errors.As(err, &internal) {
		return err
	}

	var errs validation.Errors
	if !errors.As(err, &errs) {
		return &domain.ValidationError{Message: "invalid payload: " + err.Error()}
	}

	fields := make(map[string]string)
	flatten("", errs, fields)
	return &domain.ValidationError{Message: "invalid payload", Fields: fields}
}

func flatten(prefix string, errs validation.Errors, into map[string]string) {
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		name := strings.TrimPrefix(prefix+"."+publicName(k), ".")

		var nested validation.Errors
		if errors.As(errs[k], &nested) {
			flatten(name, nested, into)
			continue
		}
		into[name] = errs[k].Error()
	}
}

// publicName maps block fields without a json tag onto the wire "body".
func publicName(field string) string {
	switch field {
	case "Text", "Image":
		return "body"
	}
	return field
}
