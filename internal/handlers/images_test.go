package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"postengine/internal/media"
	"postengine/internal/storage"
	"postengine/internal/telemetry"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel/trace/noop"
)

var testNamespace = uuid.Must(uuid.FromString("570e8400-c29b-45d4-a716-446655440700"))

type recordingVariants struct {
	mu   sync.Mutex
	jobs []media.VariantJob
}

func (v *recordingVariants) Key(src string, width int) string {
	return media.VariantKey(testNamespace, src, width)
}

func (v *recordingVariants) Enqueue(_ context.Context, job media.VariantJob) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.jobs = append(v.jobs, job)
	return nil
}

func newImageMux(t *testing.T) (*http.ServeMux, *storage.MemoryStore, *recordingVariants) {
	t.Helper()
	blobs := storage.NewMemoryStore()
	variants := &recordingVariants{}

	h := &ImageHandler{
		Blobs:    blobs,
		Variants: variants,
		Prefix:   "images",
		Tracer:   noop.NewTracerProvider().Tracer(""),
		Metrics:  telemetry.NewNoopMetrics(),
		Logger:   discardLogger(),
	}
	mux := http.NewServeMux()
	mux.Handle("GET /images/{path...}", h)
	return mux, blobs, variants
}

func TestImageHandlerOriginal(t *testing.T) {
	t.Parallel()
	mux, blobs, variants := newImageMux(t)
	ctx := context.Background()

	if err := blobs.Save(ctx, "images/2026/10/y.png", bytes.NewReader([]byte("png bytes"))); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/images/2026/10/y.png", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != "png bytes" {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type %q", ct)
	}
	if len(variants.jobs) != 0 {
		t.Errorf("plain request queued variants: %v", variants.jobs)
	}
}

func TestImageHandlerVariants(t *testing.T) {
	t.Parallel()
	mux, blobs, variants := newImageMux(t)
	ctx := context.Background()
	const key = "images/2026/10/y.png"

	if err := blobs.Save(ctx, key, bytes.NewReader([]byte("png bytes"))); err != nil {
		t.Fatal(err)
	}

	// miss: original streamed, every width queued
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/images/2026/10/y.png?w=800", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("X-Cache") != "MISS" || rec.Body.String() != "png bytes" {
		t.Fatalf("miss: %d %q %q", rec.Code, rec.Header().Get("X-Cache"), rec.Body.String())
	}
	if len(variants.jobs) != len(media.VariantWidths) || variants.jobs[0].SourcePath != key {
		t.Errorf("jobs: %+v", variants.jobs)
	}

	// hit: cached webp streamed
	if err := blobs.Save(ctx, variants.Key(key, 800), bytes.NewReader([]byte("webp bytes"))); err != nil {
		t.Fatal(err)
	}
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/images/2026/10/y.png?w=800", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("X-Cache") != "HIT" || rec.Body.String() != "webp bytes" {
		t.Fatalf("hit: %d %q %q", rec.Code, rec.Header().Get("X-Cache"), rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/webp" {
		t.Errorf("content type %q", ct)
	}
}

func TestImageHandlerErrors(t *testing.T) {
	t.Parallel()
	mux, _, variants := newImageMux(t)

	tests := []struct {
		target   string
		wantCode int
	}{
		{target: "/images/2026/10/missing.png", wantCode: http.StatusNotFound},
		{target: "/images/2026/10/missing.png?w=800", wantCode: http.StatusNotFound},
		{target: "/images/2026/10/y.png?w=640", wantCode: http.StatusBadRequest},
		{target: "/images/2026/10/y.png?w=wide", wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))
		if rec.Code != tt.wantCode {
			t.Errorf("%s: got %d, want %d", tt.target, rec.Code, tt.wantCode)
		}
	}
	if len(variants.jobs) != 0 {
		t.Errorf("missing source queued variants: %v", variants.jobs)
	}
}
