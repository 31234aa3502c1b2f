package router

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"postengine/internal/config"
	"postengine/internal/content"
	"postengine/internal/domain"
	"postengine/internal/handlers"
	"postengine/internal/middleware"
	"postengine/internal/storage"
	"postengine/internal/telemetry"

	"go.opentelemetry.io/otel/trace/noop"
)

type stubService struct{ kinds []string }

func (s *stubService) List(_ context.Context, kind *domain.Kind, _ content.ListParams) (*content.Page, error) {
	s.kinds = append(s.kinds, kind.Name)
	return &content.Page{Items: []*content.Brief{{ID: 1, Slug: "one"}}, CurrentPage: 1, PerPage: 10, Total: 1, LastPage: 1}, nil
}

func (s *stubService) Read(context.Context, *domain.Kind, int64, *bool) (*content.Entity, error) {
	return nil, &domain.NotFoundError{Resource: "entity"}
}

func (s *stubService) Create(context.Context, *domain.Kind, *content.Payload) (*content.Entity, error) {
	return nil, &domain.NotFoundError{Resource: "entity"}
}

func (s *stubService) Update(context.Context, *domain.Kind, int64, *content.Payload) (*content.Entity, error) {
	return nil, &domain.NotFoundError{Resource: "entity"}
}

func (s *stubService) Delete(context.Context, *domain.Kind, int64) error {
	return nil
}

type stubCategories struct{}

func (stubCategories) Create(_ context.Context, kind *domain.Kind, in content.CategoryInput) (*storage.Category, error) {
	return &storage.Category{PostType: kind.PostType, Slug: in.Slug}, nil
}

func (stubCategories) List(context.Context, *domain.Kind) ([]*storage.Category, error) {
	return []*storage.Category{}, nil
}

func (stubCategories) Get(context.Context, int64) (*storage.DonationForm, error) {
	return &storage.DonationForm{ID: 1}, nil
}

func newTestRouter(t *testing.T) (http.Handler, *stubService) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := config.DefaultConfig()
	svc := &stubService{}
	metrics := telemetry.NewNoopMetrics()

	return NewRouter(RouterDependencies{
		Cfg:             cfg,
		Logger:          logger,
		EntityHandler:   handlers.NewEntityHandler(svc, nil, logger),
		CategoryHandler: handlers.NewCategoryHandler(stubCategories{}, stubCategories{}, logger),
		ImageHandler:    http.NotFoundHandler(),
		Limiter:         middleware.NewRateLimiter(ctx, cfg.Limiter, false, metrics),
		Tracer:          noop.NewTracerProvider().Tracer(""),
		Metrics:         metrics,
	}), svc
}

func TestRoutes(t *testing.T) {
	t.Parallel()
	h, svc := newTestRouter(t)

	tests := []struct {
		method   string
		target   string
		wantCode int
	}{
		{method: http.MethodGet, target: "/healthz", wantCode: http.StatusOK},
		{method: http.MethodGet, target: "/api/projects", wantCode: http.StatusOK},
		{method: http.MethodGet, target: "/api/blogs", wantCode: http.StatusOK},
		{method: http.MethodGet, target: "/api/careers", wantCode: http.StatusOK},
		{method: http.MethodGet, target: "/api/projects/categories", wantCode: http.StatusOK},
		{method: http.MethodGet, target: "/api/careers/categories", wantCode: http.StatusNotFound},
		{method: http.MethodGet, target: "/api/blogs/3", wantCode: http.StatusNotFound},
		{method: http.MethodDelete, target: "/api/careers/3", wantCode: http.StatusOK},
		{method: http.MethodGet, target: "/api/donation-forms/1", wantCode: http.StatusOK},
		{method: http.MethodGet, target: "/api/widgets", wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.target, nil)
		req.RemoteAddr = "203.0.113.9:4000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != tt.wantCode {
			t.Errorf("%s %s: got %d, want %d", tt.method, tt.target, rec.Code, tt.wantCode)
		}
	}

	if strings.Join(svc.kinds, ",") != "project,blog,career" {
		t.Errorf("list dispatched to %v", svc.kinds)
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()
	h, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/projects", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("allowed origin: got %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/projects", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}
