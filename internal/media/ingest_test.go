package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"postengine/internal/domain"
	"postengine/internal/storage"

	"github.com/gofrs/uuid/v5"
)

var testNamespace = uuid.Must(uuid.FromString("570e8400-c29b-45d4-a716-446655440700"))

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type stubFetcher struct {
	mu     sync.Mutex
	bodies map[string][]byte
}

func (f *stubFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.bodies[url]
	if !ok {
		return nil, fmt.Errorf("get %s: unexpected status 404 Not Found", url)
	}
	return body, nil
}

// fakeImages assigns ids and enforces path uniqueness like the real store.
// refs stands in for the extension and block rows pointing at an image.
type fakeImages struct {
	byPath map[string]*storage.Image
	refs   map[int64]int64
	nextID int64
}

func newFakeImages() *fakeImages {
	return &fakeImages{byPath: make(map[string]*storage.Image), refs: make(map[int64]int64)}
}

func (f *fakeImages) UpsertImage(_ context.Context, img *storage.Image) error {
	if existing, ok := f.byPath[img.Path]; ok {
		img.ID = existing.ID
	} else {
		f.nextID++
		img.ID = f.nextID
	}
	stored := *img
	f.byPath[img.Path] = &stored
	return nil
}

func (f *fakeImages) UpdateImage(_ context.Context, img *storage.Image) error {
	for p, existing := range f.byPath {
		if existing.ID == img.ID {
			delete(f.byPath, p)
		} else if p == img.Path {
			return storage.ErrUniqueViolation
		}
	}
	stored := *img
	f.byPath[img.Path] = &stored
	return nil
}

func (f *fakeImages) GetImageByPath(_ context.Context, path string) (*storage.Image, error) {
	img, ok := f.byPath[path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	found := *img
	return &found, nil
}

func (f *fakeImages) CountImageReferences(_ context.Context, imageID int64) (int64, error) {
	return f.refs[imageID], nil
}

func newTestIngestor(t *testing.T, fetcher Fetcher) (*Ingestor, *storage.MemoryStore, *fakeImages) {
	t.Helper()
	blobs := storage.NewMemoryStore()
	images := newFakeImages()
	clock := func() time.Time { return time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC) }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewIngestor(images, blobs, fetcher, "images", testNamespace, logger, WithClock(clock)), blobs, images
}

func TestBlobPath(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, time.October, 19, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		src     string
		want    string
		wantErr bool
	}{
		{name: "plain", src: "https://cdn.example.org/a/b/photo.jpg", want: "images/2026/10/photo.jpg"},
		{name: "query ignored", src: "http://x/y.jpg?size=large", want: "images/2026/10/y.jpg"},
		{name: "escaped name", src: "https://x/my%20pic.png", want: "images/2026/10/my pic.png"},
		{name: "no file name", src: "https://cdn.example.org/", wantErr: true},
		{name: "not http", src: "ftp://x/y.jpg", wantErr: true},
		{name: "relative", src: "y.jpg", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := BlobPath("images", tt.src, at)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFetchAndStore(t *testing.T) {
	t.Parallel()
	fetcher := &stubFetcher{bodies: map[string][]byte{
		"http://x/y.png":     pngBytes(t, 4, 3),
		"http://other/y.png": pngBytes(t, 6, 6),
		"http://x/text.png":  []byte("not an image"),
	}}
	ing, blobs, images := newTestIngestor(t, fetcher)
	ctx := context.Background()

	stored, err := ing.FetchAndStore(ctx, "http://x/y.png", nil)
	if err != nil {
		t.Fatalf("FetchAndStore: %v", err)
	}
	if stored.Path != "images/2026/03/y.png" || stored.Src != "http://x/y.png" || stored.Width != 4 || stored.Height != 3 {
		t.Errorf("got %+v", stored)
	}
	if !blobs.Exists(ctx, stored.Path) {
		t.Error("blob not written")
	}

	for _, src := range []string{"http://x/missing.png", "http://x/text.png", "nope"} {
		_, err := ing.FetchAndStore(ctx, src, nil)
		var ingestErr *domain.IngestionError
		if !errors.As(err, &ingestErr) {
			t.Errorf("%s: got %v, want IngestionError", src, err)
		}
		if !errors.Is(err, domain.ErrIngestion) {
			t.Errorf("%s: error should match ErrIngestion", src)
		}
	}

	// a recorded path is never handed out again
	if _, err := ing.CreateOrReplaceImage(ctx, stored, ImageSpec{Src: stored.Src}); err != nil {
		t.Fatalf("record: %v", err)
	}
	reserved := Reservations{}
	tests := []struct {
		src  string
		want string
	}{
		{src: "http://other/y.png", want: "images/2026/03/y-2.png"},
		{src: "http://x/y.png", want: "images/2026/03/y-3.png"},
	}
	for _, tt := range tests {
		got, err := ing.FetchAndStore(ctx, tt.src, reserved)
		if err != nil {
			t.Fatalf("%s: %v", tt.src, err)
		}
		if got.Path != tt.want {
			t.Errorf("%s: got path %q, want %q", tt.src, got.Path, tt.want)
		}
	}
	if len(images.byPath) != 1 {
		t.Errorf("uploading must not write rows, got %d", len(images.byPath))
	}
}

func TestRefetchKeepsPath(t *testing.T) {
	t.Parallel()
	fetcher := &stubFetcher{bodies: map[string][]byte{"http://x/y.png": pngBytes(t, 5, 5)}}
	ing, blobs, _ := newTestIngestor(t, fetcher)
	ctx := context.Background()

	existing := &storage.Image{ID: 7, Path: "images/2025/12/y.png", SourceURL: "http://x/y.png"}
	stored, err := ing.Refetch(ctx, existing)
	if err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if stored.Path != existing.Path || stored.ImageID != existing.ID || stored.Width != 5 {
		t.Errorf("got %+v", stored)
	}
	if !blobs.Exists(ctx, existing.Path) {
		t.Error("blob not rewritten")
	}
}

func TestCreateOrReplaceImageRejectsClaimedPath(t *testing.T) {
	t.Parallel()
	ing, _, images := newTestIngestor(t, &stubFetcher{})
	ctx := context.Background()

	owned := &storage.Image{Path: "images/2026/03/y.png", SourceURL: "http://x/y.png", AltText: "owner"}
	if err := images.UpsertImage(ctx, owned); err != nil {
		t.Fatal(err)
	}
	images.refs[owned.ID] = 1

	fresh := Stored{Path: owned.Path, Src: "http://other/y.png", Width: 1, Height: 1}
	if _, err := ing.CreateOrReplaceImage(ctx, fresh, ImageSpec{Src: fresh.Src}); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("fresh upload on a referenced path: got %v, want conflict", err)
	}

	refreshed := Stored{Path: owned.Path, Src: owned.SourceURL, Width: 2, Height: 2, ImageID: owned.ID}
	img, err := ing.CreateOrReplaceImage(ctx, refreshed, ImageSpec{Src: owned.SourceURL, AltText: ptr("owner")})
	if err != nil {
		t.Fatalf("refresh of own row: %v", err)
	}
	if img.ID != owned.ID || img.Width != 2 {
		t.Errorf("got %+v", img)
	}
}

func TestReconcileFeaturedImage(t *testing.T) {
	t.Parallel()
	fetcher := &stubFetcher{bodies: map[string][]byte{
		"http://x/one.png": pngBytes(t, 2, 2),
		"http://x/two.png": pngBytes(t, 8, 4),
	}}
	ing, blobs, _ := newTestIngestor(t, fetcher)
	ctx := context.Background()

	upload := func(src string) *Stored {
		t.Helper()
		stored, err := ing.FetchAndStore(ctx, src, nil)
		if err != nil {
			t.Fatalf("upload %s: %v", src, err)
		}
		return &stored
	}

	img, stale, err := ing.ReconcileFeaturedImage(ctx, nil, ImageSpec{Src: "http://x/one.png", AltText: ptr("first")}, upload("http://x/one.png"))
	if err != nil {
		t.Fatalf("ingest new: %v", err)
	}
	if stale != "" || img.ID == 0 || img.AltText != "first" || img.SourceURL != "http://x/one.png" {
		t.Fatalf("new image: %+v stale %q", img, stale)
	}

	// unchanged source: alt text only
	same, stale, err := ing.ReconcileFeaturedImage(ctx, img, ImageSpec{Src: "http://x/one.png", AltText: ptr("second")}, nil)
	if err != nil {
		t.Fatalf("alt only: %v", err)
	}
	if stale != "" || same.ID != img.ID || same.AltText != "second" || same.Path != img.Path {
		t.Errorf("alt only: %+v stale %q", same, stale)
	}

	// changed source: same identity, new path, old blob reported stale
	moved, stale, err := ing.ReconcileFeaturedImage(ctx, same, ImageSpec{Src: "http://x/two.png"}, upload("http://x/two.png"))
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if moved.ID != img.ID || moved.Path != "images/2026/03/two.png" || moved.Width != 8 {
		t.Errorf("replace: %+v", moved)
	}
	if moved.AltText != "second" {
		t.Errorf("nil alt text should keep %q, got %q", "second", moved.AltText)
	}
	if stale != img.Path {
		t.Errorf("stale: got %q, want %q", stale, img.Path)
	}
	// deletion is the caller's job once its transaction commits
	if !blobs.Exists(ctx, img.Path) {
		t.Error("old blob must survive until the caller deletes it")
	}

	if err := ing.DeleteBlob(ctx, stale); err != nil {
		t.Fatalf("delete blob: %v", err)
	}
	if blobs.Exists(ctx, stale) {
		t.Error("stale blob still present")
	}
}

func TestReconcileUnchangedSourceReportsUpload(t *testing.T) {
	t.Parallel()
	ing, _, _ := newTestIngestor(t, &stubFetcher{})

	existing := &storage.Image{ID: 1, Path: "images/2026/01/a.png", SourceURL: "http://x/a.png", AltText: "a"}
	upload := &Stored{Path: "images/2026/03/a.png", Src: "http://x/a.png"}

	img, stale, err := ing.ReconcileFeaturedImage(context.Background(), existing, ImageSpec{Src: "http://x/a.png"}, upload)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if img.ID != existing.ID || img.Path != existing.Path {
		t.Errorf("existing row should stay, got %+v", img)
	}
	if stale != upload.Path {
		t.Errorf("unused upload should be stale, got %q", stale)
	}
}

func TestReconcileLeavesSharedRowAlone(t *testing.T) {
	t.Parallel()
	ing, _, images := newTestIngestor(t, &stubFetcher{})
	ctx := context.Background()

	shared := &storage.Image{Path: "images/2026/01/a.png", SourceURL: "http://x/a.png", AltText: "kept"}
	if err := images.UpsertImage(ctx, shared); err != nil {
		t.Fatal(err)
	}
	images.refs[shared.ID] = 2

	upload := &Stored{Path: "images/2026/03/b.png", Src: "http://x/b.png", Width: 3, Height: 3}
	img, stale, err := ing.ReconcileFeaturedImage(ctx, shared, ImageSpec{Src: "http://x/b.png"}, upload)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if img.ID == shared.ID || img.Path != upload.Path || img.AltText != "kept" {
		t.Errorf("expected a new row carrying the alt text, got %+v", img)
	}
	if stale != "" {
		t.Errorf("a blob still referenced must not be stale, got %q", stale)
	}
	if row := images.byPath[shared.Path]; row == nil || row.SourceURL != "http://x/a.png" {
		t.Errorf("shared row rewritten: %+v", row)
	}
}

func TestReconcileWithoutUploadConflicts(t *testing.T) {
	t.Parallel()
	ing, blobs, images := newTestIngestor(t, &stubFetcher{})

	existing := &storage.Image{ID: 1, Path: "images/2026/01/a.png", SourceURL: "http://x/a.png"}
	images.byPath[existing.Path] = existing

	_, _, err := ing.ReconcileFeaturedImage(context.Background(), existing, ImageSpec{Src: "http://x/b.png"}, nil)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("got %v, want conflict", err)
	}
	if len(blobs.Keys()) != 0 {
		t.Errorf("no blob should be written, got %v", blobs.Keys())
	}
	if images.byPath[existing.Path].SourceURL != "http://x/a.png" {
		t.Error("existing image row must be untouched")
	}
}

func ptr[T any](v T) *T {
	return &v
}
