package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"postengine/internal/content"
	"postengine/internal/domain"
	"postengine/internal/storage"
)

// EntityService is the orchestrator surface the handlers drive.
type EntityService interface {
	List(ctx context.Context, kind *domain.Kind, params content.ListParams) (*content.Page, error)
	Read(ctx context.Context, kind *domain.Kind, id int64, published *bool) (*content.Entity, error)
	Create(ctx context.Context, kind *domain.Kind, p *content.Payload) (*content.Entity, error)
	Update(ctx context.Context, kind *domain.Kind, id int64, p *content.Payload) (*content.Entity, error)
	Delete(ctx context.Context, kind *domain.Kind, id int64) error
}

// Renderer turns a text block body into HTML.
type Renderer interface {
	Render(source []byte) ([]byte, error)
}

// EntityHandler serves the CRUD endpoints of every kind.
type EntityHandler struct {
	Service  EntityService
	Markdown Renderer
	Logger   *slog.Logger
}

func NewEntityHandler(service EntityService, markdown Renderer, logger *slog.Logger) *EntityHandler {
	return &EntityHandler{
		Service:  service,
		Markdown: markdown,
		Logger:   logger,
	}
}

type pagination struct {
	CurrentPage int64 `json:"current_page"`
	PerPage     int64 `json:"per_page"`
	Total       int64 `json:"total"`
	LastPage    int64 `json:"last_page"`
}

type pageView struct {
	Data       []*content.Brief `json:"data"`
	Pagination pagination       `json:"pagination"`
}

type blockView struct {
	*storage.Block
	HTML string `json:"html,omitempty"`
}

// entityView shadows the entity's contents with rendered blocks.
type entityView struct {
	*content.Entity
	Contents []blockView `json:"contents"`
}

func (h *EntityHandler) view(e *content.Entity) (*entityView, error) {
	v := &entityView{Entity: e, Contents: make([]blockView, 0, len(e.Contents))}
	for _, b := range e.Contents {
		bv := blockView{Block: b}
		if b.Type == storage.BlockText && b.Body != nil && h.Markdown != nil {
			html, err := h.Markdown.Render([]byte(*b.Body))
			if err != nil {
				return nil, fmt.Errorf("render block %d: %w", b.ID, err)
			}
			bv.HTML = string(html)
		}
		v.Contents = append(v.Contents, bv)
	}
	return v, nil
}

func (h *EntityHandler) respondEntity(w http.ResponseWriter, r *http.Request, code int, message string, e *content.Entity) {
	v, err := h.view(e)
	if err != nil {
		InternalError(w, r, h.Logger, err)
		return
	}
	success(w, h.Logger, code, message, v)
}

// HandleList serves GET /api/{kinds}?page=&per_page=&published=&category_slug=
func (h *EntityHandler) HandleList(kind *domain.Kind) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		published, err := optionalBool(r, "published")
		if err != nil {
			badRequest(w, h.Logger, err.Error(), nil)
			return
		}
		pageNum, err := optionalInt(r, "page")
		if err != nil {
			badRequest(w, h.Logger, err.Error(), nil)
			return
		}
		perPage, err := optionalInt(r, "per_page")
		if err != nil {
			badRequest(w, h.Logger, err.Error(), nil)
			return
		}

		page, err := h.Service.List(r.Context(), kind, content.ListParams{
			Page:         pageNum,
			PerPage:      perPage,
			Published:    published,
			CategorySlug: r.URL.Query().Get("category_slug"),
		})
		if err != nil {
			respondError(w, r, h.Logger, err)
			return
		}

		if page.Empty() {
			writeJSON(w, h.Logger, http.StatusNotFound, envelope{Message: fmt.Sprintf("No %s found", kind.Plural)})
			return
		}

		success(w, h.Logger, http.StatusOK, fmt.Sprintf("%s retrieved successfully.", kind.Plural), pageView{
			Data: page.Items,
			Pagination: pagination{
				CurrentPage: page.CurrentPage,
				PerPage:     page.PerPage,
				Total:       page.Total,
				LastPage:    page.LastPage,
			},
		})
	})
}

// HandleRead serves GET /api/{kinds}/{id}?published=
func (h *EntityHandler) HandleRead(kind *domain.Kind) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			NotFound(h.Logger)(w, r)
			return
		}
		published, err := optionalBool(r, "published")
		if err != nil {
			badRequest(w, h.Logger, err.Error(), nil)
			return
		}

		entity, err := h.Service.Read(r.Context(), kind, id, published)
		if err != nil {
			respondError(w, r, h.Logger, err)
			return
		}
		h.respondEntity(w, r, http.StatusOK, kind.Name+" retrieved successfully.", entity)
	})
}

// HandleCreate serves POST /api/{kinds}
func (h *EntityHandler) HandleCreate(kind *domain.Kind) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p content.Payload
		if err := decodeBody(w, r, &p); err != nil {
			badRequest(w, h.Logger, err.Error(), nil)
			return
		}

		entity, err := h.Service.Create(r.Context(), kind, &p)
		if err != nil {
			respondError(w, r, h.Logger, err)
			return
		}
		h.respondEntity(w, r, http.StatusCreated, kind.Name+" created successfully.", entity)
	})
}

// HandleUpdate serves PUT /api/{kinds}/{id}
func (h *EntityHandler) HandleUpdate(kind *domain.Kind) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			NotFound(h.Logger)(w, r)
			return
		}

		var p content.Payload
		if err := decodeBody(w, r, &p); err != nil {
			badRequest(w, h.Logger, err.Error(), nil)
			return
		}

		entity, err := h.Service.Update(r.Context(), kind, id, &p)
		if err != nil {
			respondError(w, r, h.Logger, err)
			return
		}
		h.respondEntity(w, r, http.StatusOK, kind.Name+" updated successfully.", entity)
	})
}

// HandleDelete serves DELETE /api/{kinds}/{id}
func (h *EntityHandler) HandleDelete(kind *domain.Kind) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			NotFound(h.Logger)(w, r)
			return
		}

		if err := h.Service.Delete(r.Context(), kind, id); err != nil {
			respondError(w, r, h.Logger, err)
			return
		}
		success(w, h.Logger, http.StatusOK, kind.Name+" deleted successfully.", nil)
	})
}
