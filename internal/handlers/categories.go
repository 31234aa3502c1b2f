package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"postengine/internal/content"
	"postengine/internal/domain"
	"postengine/internal/storage"
)

type CategoryService interface {
	Create(ctx context.Context, kind *domain.Kind, in content.CategoryInput) (*storage.Category, error)
	List(ctx context.Context, kind *domain.Kind) ([]*storage.Category, error)
}

type DonationFormLookup interface {
	Get(ctx context.Context, id int64) (*storage.DonationForm, error)
}

// CategoryHandler serves the per kind category directory and donation form
// lookups.
type CategoryHandler struct {
	Categories CategoryService
	Forms      DonationFormLookup
	Logger     *slog.Logger
}

func NewCategoryHandler(categories CategoryService, forms DonationFormLookup, logger *slog.Logger) *CategoryHandler {
	return &CategoryHandler{Categories: categories, Forms: forms, Logger: logger}
}

// HandleList serves GET /api/{kinds}/categories
func (h *CategoryHandler) HandleList(kind *domain.Kind) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		categories, err := h.Categories.List(r.Context(), kind)
		if err != nil {
			respondError(w, r, h.Logger, err)
			return
		}
		success(w, h.Logger, http.StatusOK, "categories retrieved successfully.", categories)
	})
}

// HandleCreate serves POST /api/{kinds}/categories
func (h *CategoryHandler) HandleCreate(kind *domain.Kind) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in content.CategoryInput
		if err := decodeBody(w, r, &in); err != nil {
			badRequest(w, h.Logger, err.Error(), nil)
			return
		}

		category, err := h.Categories.Create(r.Context(), kind, in)
		if err != nil {
			respondError(w, r, h.Logger, err)
			return
		}
		success(w, h.Logger, http.StatusCreated, "category created successfully.", category)
	})
}

// HandleDonationForm serves GET /api/donation-forms/{id}
func (h *CategoryHandler) HandleDonationForm() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			NotFound(h.Logger)(w, r)
			return
		}

		form, err := h.Forms.Get(r.Context(), id)
		if err != nil {
			respondError(w, r, h.Logger, err)
			return
		}
		success(w, h.Logger, http.StatusOK, "donation form retrieved successfully.", form)
	})
}
