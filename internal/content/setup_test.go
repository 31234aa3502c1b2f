package content

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"postengine/internal/domain"
	"postengine/internal/media"
	"postengine/internal/storage"
	"postengine/internal/storage/sqlite"

	"github.com/gofrs/uuid/v5"
)

var testNamespace = uuid.Must(uuid.FromString("570e8400-c29b-45d4-a716-446655440700"))

// countingBlobs records blob writes and deletes on top of a memory store.
type countingBlobs struct {
	*storage.MemoryStore
	mu      sync.Mutex
	saves   int
	deletes []string
}

func (c *countingBlobs) Save(ctx context.Context, path string, body io.ReadSeeker) error {
	c.mu.Lock()
	c.saves++
	c.mu.Unlock()
	return c.MemoryStore.Save(ctx, path, body)
}

func (c *countingBlobs) Delete(ctx context.Context, path string) error {
	c.mu.Lock()
	c.deletes = append(c.deletes, path)
	c.mu.Unlock()
	return c.MemoryStore.Delete(ctx, path)
}

// stubFetcher serves canned bodies. With hold set, every fetch signals
// entered and then waits for hold to close.
type stubFetcher struct {
	mu      sync.Mutex
	bodies  map[string][]byte
	hold    chan struct{}
	entered chan struct{}
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f.hold != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
		select {
		case <-f.hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.bodies[url]
	if !ok {
		return nil, fmt.Errorf("get %s: unexpected status 404 Not Found", url)
	}
	return body, nil
}

func (f *stubFetcher) serve(url string, w, h int) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)

	f.mu.Lock()
	f.bodies[url] = buf.Bytes()
	f.mu.Unlock()
}

type fixture struct {
	svc     *Service
	store   *sqlite.Store
	blobs   *countingBlobs
	fetcher *stubFetcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "content.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Migrate("../../migrations"); err != nil {
		t.Fatalf("migration failed: %v", err)
	}

	blobs := &countingBlobs{MemoryStore: storage.NewMemoryStore()}
	fetcher := &stubFetcher{bodies: make(map[string][]byte)}
	for _, src := range []string{"http://x/y.jpg", "http://x/z.jpg", "http://x/block.png"} {
		fetcher.serve(src, 4, 2)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC) }
	ingestor := media.NewIngestor(store, blobs, fetcher, "images", testNamespace, logger, media.WithClock(clock))

	return &fixture{
		svc:     NewService(store, ingestor, nil, logger),
		store:   store,
		blobs:   blobs,
		fetcher: fetcher,
	}
}

func (f *fixture) seedCategories(t *testing.T, kind *domain.Kind, slugs ...string) {
	t.Helper()
	for _, slug := range slugs {
		if _, err := f.svc.Categories().Create(context.Background(), kind, CategoryInput{Name: "Category " + slug, Slug: slug}); err != nil {
			t.Fatalf("seed category %s: %v", slug, err)
		}
	}
}

func ptr[T any](v T) *T {
	return &v
}

func textBlocks(bodies ...string) []BlockInput {
	blocks := make([]BlockInput, 0, len(bodies))
	for _, b := range bodies {
		blocks = append(blocks, BlockInput{Type: storage.BlockText, Text: b})
	}
	return blocks
}

func basicPayload(title, slug string) *Payload {
	return &Payload{
		Title:    title,
		Slug:     slug,
		Excerpt:  "excerpt of " + title,
		Contents: textBlocks("hi"),
	}
}

func slugsOf(categories []*storage.Category) []string {
	out := make([]string, 0, len(categories))
	for _, c := range categories {
		out = append(out, c.Slug)
	}
	return out
}
