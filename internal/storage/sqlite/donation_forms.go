package sqlite

import (
	"context"
	"fmt"

	"postengine/internal/storage"

	"github.com/jmoiron/sqlx"
)

const donationFormColumns = `id, title, status, fully_fund_level, levels, created_at, updated_at`

func (s *Store) CreateDonationForm(ctx context.Context, form *storage.DonationForm) error {
	query := `INSERT INTO donation_forms (title, status, fully_fund_level, levels)
		VALUES (?, ?, ?, ?)
		RETURNING ` + donationFormColumns

	err := sqlx.GetContext(ctx, s.ext(ctx), form, query,
		form.Title, form.Status, form.FullyFundLevel, form.Levels.String())
	if err != nil {
		return fmt.Errorf("cannot create donation form %q: %w", form.Title, mapSqlError(err))
	}
	return nil
}

func (s *Store) GetDonationForm(ctx context.Context, id int64) (*storage.DonationForm, error) {
	query := `SELECT ` + donationFormColumns + ` FROM donation_forms WHERE id = ? LIMIT 1`

	var form storage.DonationForm
	if err := sqlx.GetContext(ctx, s.ext(ctx), &form, query, id); err != nil {
		return nil, fmt.Errorf("cannot find donation form id %d: %w", id, mapSqlError(err))
	}
	return &form, nil
}
