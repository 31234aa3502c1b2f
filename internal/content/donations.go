package content

import (
	"context"
	"errors"

	"postengine/internal/domain"
	"postengine/internal/storage"

	"github.com/jmoiron/sqlx/types"
)

// DonationForms resolves the donation form an extension references.
type DonationForms struct {
	store storage.Store
}

func NewDonationForms(store storage.Store) *DonationForms {
	return &DonationForms{store: store}
}

// Resolve returns the form id to store for a payload: an explicit id wins
// and must exist, inline data creates a new form, and neither keeps current.
func (f *DonationForms) Resolve(ctx context.Context, id *int64, data *DonationFormInput, current *int64) (*int64, error) {
	switch {
	case id != nil:
		if _, err := f.store.GetDonationForm(ctx, *id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, domain.NewValidationError("donation_form_id", "no such donation form")
			}
			return nil, storage.DomainError("get donation form", "donation form", *id, err)
		}
		return id, nil

	case data != nil:
		form, err := f.Create(ctx, *data)
		if err != nil {
			return nil, err
		}
		return &form.ID, nil
	}
	return current, nil
}

func (f *DonationForms) Create(ctx context.Context, in DonationFormInput) (*storage.DonationForm, error) {
	if err := asValidationError(in.Validate()); err != nil {
		return nil, err
	}

	form := &storage.DonationForm{
		Title:          in.Title,
		Status:         in.Status,
		FullyFundLevel: *in.FullyFundLevel,
		Levels:         types.JSONText(in.Levels),
	}
	if err := f.store.CreateDonationForm(ctx, form); err != nil {
		return nil, storage.DomainError("create donation form", "donation form", 0, err)
	}
	return form, nil
}

func (f *DonationForms) Get(ctx context.Context, id int64) (*storage.DonationForm, error) {
	form, err := f.store.GetDonationForm(ctx, id)
	if err != nil {
		return nil, storage.DomainError("get donation form", "donation form", id, err)
	}
	return form, nil
}
