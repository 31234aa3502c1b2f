package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"postengine/internal/domain"
	"postengine/internal/storage"
	"postengine/internal/telemetry"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// ImageStore is the slice of persistence ingestion reads and writes.
type ImageStore interface {
	UpsertImage(ctx context.Context, img *storage.Image) error
	UpdateImage(ctx context.Context, img *storage.Image) error
	GetImageByPath(ctx context.Context, path string) (*storage.Image, error)
	CountImageReferences(ctx context.Context, imageID int64) (int64, error)
}

// ImageSpec names a remote image and its alt text. A nil AltText leaves the
// stored alt text alone on reconcile.
type ImageSpec struct {
	Src     string
	AltText *string
}

// Stored describes bytes written to blob storage, not yet recorded. ImageID
// is set when the bytes refreshed the blob of an existing row.
type Stored struct {
	Path    string
	Src     string
	Width   int
	Height  int
	ImageID int64
}

// Reservations are the blob paths handed out during one orchestrated call,
// so two references made by the same call never land on one path.
type Reservations map[string]struct{}

func (r Reservations) taken(path string) bool {
	_, ok := r[path]
	return ok
}

func (r Reservations) add(path string) {
	if r != nil {
		r[path] = struct{}{}
	}
}

// maxPathSuffix bounds the numbered alternatives tried for a taken path.
const maxPathSuffix = 64

type Ingestor struct {
	images    ImageStore
	blobs     storage.Provider
	fetcher   Fetcher
	prefix    string
	namespace uuid.UUID
	now       func() time.Time
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
}

type IngestorOption func(*Ingestor)

// WithClock overrides the clock used for date partitioned paths.
func WithClock(now func() time.Time) IngestorOption {
	return func(i *Ingestor) { i.now = now }
}

func WithMetrics(m *telemetry.Metrics) IngestorOption {
	return func(i *Ingestor) { i.metrics = m }
}

func NewIngestor(images ImageStore, blobs storage.Provider, fetcher Fetcher, prefix string, namespace uuid.UUID, logger *slog.Logger, opts ...IngestorOption) *Ingestor {
	i := &Ingestor{
		images:    images,
		blobs:     blobs,
		fetcher:   fetcher,
		prefix:    prefix,
		namespace: namespace,
		now:       time.Now,
		metrics:   telemetry.NewNoopMetrics(),
		logger:    logger,
		tracer:    otel.Tracer("postengine/media/ingest"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// BlobPath derives the storage key for src ingested at t:
// {prefix}/{YYYY}/{MM}/{basename of the URL path}.
func BlobPath(prefix, src string, t time.Time) (string, error) {
	u, err := url.Parse(src)
	if err != nil {
		return "", fmt.Errorf("parse source url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return "", fmt.Errorf("source url %q has no file name", src)
	}

	return path.Join(prefix, t.Format("2006"), t.Format("01"), name), nil
}

// FetchAndStore downloads src and writes it to a blob path no image row
// holds yet: the derived path, or name-2.ext, name-3.ext and so on when that
// is taken. Every image row therefore owns its blob. The bytes must decode
// as an image.
func (i *Ingestor) FetchAndStore(ctx context.Context, src string, reserved Reservations) (Stored, error) {
	base, err := BlobPath(i.prefix, src, i.now())
	if err != nil {
		return Stored{}, &domain.IngestionError{Source: src, Err: err}
	}

	key, err := i.allocate(ctx, base, reserved)
	if err != nil {
		return Stored{}, &domain.IngestionError{Source: src, Err: err}
	}

	stored, err := i.store(ctx, src, key)
	if err != nil {
		return Stored{}, err
	}
	reserved.add(key)
	return stored, nil
}

// Refetch downloads the source of img again over its own blob.
func (i *Ingestor) Refetch(ctx context.Context, img *storage.Image) (Stored, error) {
	stored, err := i.store(ctx, img.SourceURL, img.Path)
	if err != nil {
		return Stored{}, err
	}
	stored.ImageID = img.ID
	return stored, nil
}

func (i *Ingestor) allocate(ctx context.Context, base string, reserved Reservations) (string, error) {
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for n := 1; n <= maxPathSuffix; n++ {
		candidate := base
		if n > 1 {
			candidate = fmt.Sprintf("%s-%d%s", stem, n, ext)
		}
		if reserved.taken(candidate) {
			continue
		}

		_, err := i.images.GetImageByPath(ctx, candidate)
		if errors.Is(err, storage.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("look up %s: %w", candidate, err)
		}
	}
	return "", fmt.Errorf("no free path next to %s", base)
}

func (i *Ingestor) store(ctx context.Context, src, key string) (Stored, error) {
	ctx, span := i.tracer.Start(ctx, "Ingestor.FetchAndStore", trace.WithAttributes(
		attribute.String("image.src", src),
		attribute.String("image.path", key),
	))
	defer span.End()

	start := time.Now()

	body, err := i.fetcher.Fetch(ctx, src)
	if err != nil {
		span.RecordError(err)
		return Stored{}, &domain.IngestionError{Source: src, Err: err}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(body))
	if err != nil {
		return Stored{}, &domain.IngestionError{Source: src, Err: fmt.Errorf("not a decodable image: %w", err)}
	}

	if err := i.blobs.Save(ctx, key, bytes.NewReader(body)); err != nil {
		span.RecordError(err)
		return Stored{}, &domain.IngestionError{Source: src, Err: fmt.Errorf("save %s: %w", key, err)}
	}

	// variants of whatever lived at key before are stale now
	if err := i.deleteVariants(ctx, key); err != nil {
		i.logger.Warn("could not drop stale variants", "key", key, "err", err)
	}

	span.SetAttributes(attribute.String("image.format", format))
	i.metrics.ImagesIngestedTotal.Add(ctx, 1)
	i.metrics.IngestDuration.Record(ctx, float64(time.Since(start).Milliseconds()))

	return Stored{Path: key, Src: src, Width: cfg.Width, Height: cfg.Height}, nil
}

// CreateOrReplaceImage records stored bytes as an image, keyed by path: a row
// already holding the path is refreshed rather than duplicated. A fresh
// upload whose path another reference claimed meanwhile is a conflict.
func (i *Ingestor) CreateOrReplaceImage(ctx context.Context, stored Stored, spec ImageSpec) (*storage.Image, error) {
	img := &storage.Image{
		Path:      stored.Path,
		SourceURL: stored.Src,
		Width:     stored.Width,
		Height:    stored.Height,
	}
	if spec.AltText != nil {
		img.AltText = *spec.AltText
	}

	if err := i.images.UpsertImage(ctx, img); err != nil {
		return nil, storage.DomainError("upsert image", "image", 0, err)
	}

	if stored.ImageID == 0 {
		refs, err := i.images.CountImageReferences(ctx, img.ID)
		if err != nil {
			return nil, storage.DomainError("count image references", "image", img.ID, err)
		}
		if refs > 0 {
			return nil, &domain.ConflictError{Resource: "image", Detail: fmt.Sprintf("path %s was taken concurrently, retry", img.Path)}
		}
	}
	return img, nil
}

// ReconcileFeaturedImage brings existing in line with spec, recording
// stored, the bytes uploaded for spec beforehand. Without an existing image
// stored becomes a new row. A changed source rewrites the existing row in
// place and returns its old blob key as stale, for the caller to delete once
// its writes are durable; a row some other reference still points at is
// left alone and stored gets a row of its own. An unchanged source only
// touches the alt text, and an upload made for it is returned as stale.
func (i *Ingestor) ReconcileFeaturedImage(ctx context.Context, existing *storage.Image, spec ImageSpec, stored *Stored) (*storage.Image, string, error) {
	if existing == nil {
		if stored == nil {
			return nil, "", fmt.Errorf("featured image %s was not uploaded", spec.Src)
		}
		img, err := i.CreateOrReplaceImage(ctx, *stored, spec)
		return img, "", err
	}

	if spec.Src == existing.SourceURL {
		var stale string
		if stored != nil {
			stale = stored.Path
		}
		if spec.AltText == nil || *spec.AltText == existing.AltText {
			return existing, stale, nil
		}

		updated := *existing
		updated.AltText = *spec.AltText
		if err := i.images.UpdateImage(ctx, &updated); err != nil {
			return nil, "", storage.DomainError("update image", "image", existing.ID, err)
		}
		return &updated, stale, nil
	}

	if stored == nil {
		return nil, "", &domain.ConflictError{Resource: "image", Detail: "featured image changed concurrently, retry"}
	}

	alt := spec.AltText
	if alt == nil {
		alt = &existing.AltText
	}

	refs, err := i.images.CountImageReferences(ctx, existing.ID)
	if err != nil {
		return nil, "", storage.DomainError("count image references", "image", existing.ID, err)
	}
	if refs > 1 {
		img, err := i.CreateOrReplaceImage(ctx, *stored, ImageSpec{Src: spec.Src, AltText: alt})
		return img, "", err
	}

	updated := *existing
	updated.Path = stored.Path
	updated.SourceURL = stored.Src
	updated.Width = stored.Width
	updated.Height = stored.Height
	updated.AltText = *alt

	if err := i.images.UpdateImage(ctx, &updated); err != nil {
		return nil, "", storage.DomainError("update image", "image", existing.ID, err)
	}
	return &updated, existing.Path, nil
}

// DeleteBlob removes a blob and its cached variants.
func (i *Ingestor) DeleteBlob(ctx context.Context, key string) error {
	return errors.Join(
		i.blobs.Delete(ctx, key),
		i.deleteVariants(ctx, key),
	)
}

func (i *Ingestor) deleteVariants(ctx context.Context, key string) error {
	var errs []error
	for _, w := range VariantWidths {
		variant := VariantKey(i.namespace, key, w)
		if !i.blobs.Exists(ctx, variant) {
			continue
		}
		if err := i.blobs.Delete(ctx, variant); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
