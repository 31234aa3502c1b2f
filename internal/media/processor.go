package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"slices"
	"sync"

	"postengine/internal/storage"

	"github.com/gofrs/uuid/v5"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/image/draw"
)

// VariantWidths are the widths webp variants are generated at.
var VariantWidths = []int{800, 1200, 1920}

var ErrQueueFull = errors.New("image processor queue full")

// VariantKey is the blob key of the webp variant of src at width. Keys are
// UUIDv5 of the source key so they stay stable across restarts.
func VariantKey(namespace uuid.UUID, src string, width int) string {
	return fmt.Sprintf("variants/%s_%d.webp", uuid.NewV5(namespace, src), width)
}

// SupportedWidth reports whether variants are generated at width.
func SupportedWidth(width int) bool {
	return slices.Contains(VariantWidths, width)
}

// VariantService generates resized webp copies of stored images.
type VariantService interface {
	Key(src string, width int) string
	Enqueue(ctx context.Context, job VariantJob) error
}

type VariantJob struct {
	SourcePath string
	Width      int
	ParentSpan trace.SpanContext
}

type Processor struct {
	jobs      chan VariantJob
	wg        sync.WaitGroup
	logger    *slog.Logger
	inFlight  sync.Map
	store     storage.Provider
	namespace uuid.UUID
	tracer    trace.Tracer
}

var _ VariantService = (*Processor)(nil)

// NewProcessor starts workercount workers that drain the job queue until ctx
// is cancelled.
func NewProcessor(ctx context.Context, store storage.Provider, namespace uuid.UUID, workercount int, logger *slog.Logger) *Processor {
	p := &Processor{
		jobs:      make(chan VariantJob, 25),
		logger:    logger,
		store:     store,
		namespace: namespace,
		tracer:    otel.Tracer("postengine/media/processor"),
	}
	for i := range workercount {
		p.wg.Go(func() {
			p.worker(ctx, i)
		})
	}

	go func() {
		<-ctx.Done()
		p.logger.Info("image processor received shutdown signal")
		p.wg.Wait()
		p.logger.Info("image processor shutdown complete")
	}()

	return p
}

// Wait blocks until every worker has exited.
func (p *Processor) Wait() {
	p.wg.Wait()
}

func (p *Processor) Key(src string, width int) string {
	return VariantKey(p.namespace, src, width)
}

func (p *Processor) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.jobs:
			p.ProcessJob(ctx, id, job)
			p.inFlight.Delete(p.Key(job.SourcePath, job.Width))
		}
	}
}

func (p *Processor) ProcessJob(ctx context.Context, id int, job VariantJob) {
	link := trace.Link{
		SpanContext: job.ParentSpan,
	}

	ctx, span := p.tracer.Start(ctx, "ProcessJob",
		trace.WithAttributes(
			attribute.String("image.path", job.SourcePath),
			attribute.Int("image.width", job.Width),
		),
		trace.WithLinks(link),
	)
	defer span.End()

	destKey := p.Key(job.SourcePath, job.Width)

	p.logger.Debug("worker processing image variant", "worker_id", id, "path", job.SourcePath, "variant", job.Width)

	// any other worker has done this?
	if p.store.Exists(ctx, destKey) {
		return
	}

	if ctx.Err() != nil {
		return
	}

	reader, err := p.store.Open(ctx, job.SourcePath)
	if err != nil {
		p.logger.Error("failed to open source", "key", job.SourcePath, "err", err)
		return
	}
	defer reader.Close()

	_, cpuSpan := p.tracer.Start(ctx, "GenerateVariant.CPU")
	processed, err := generateVariant(ctx, reader, job.Width)
	cpuSpan.End()
	if err != nil {
		p.logger.Error("variant failed", "worker", id, "variant", job.Width, "err", err)
		return
	}

	if err := p.store.Save(ctx, destKey, processed); err != nil {
		p.logger.Error("failed to save variant", "key", destKey, "err", err)
	}
}

// Enqueue schedules a variant unless the same one is already queued. It never
// blocks: a full queue reports ErrQueueFull.
func (p *Processor) Enqueue(ctx context.Context, job VariantJob) error {
	if !SupportedWidth(job.Width) {
		return fmt.Errorf("unsupported variant width %d", job.Width)
	}

	key := p.Key(job.SourcePath, job.Width)

	// no duplicated jobs
	if _, loaded := p.inFlight.LoadOrStore(key, struct{}{}); loaded {
		return nil
	}

	select {
	case <-ctx.Done():
		p.inFlight.Delete(key)
		return ctx.Err()
	case p.jobs <- job:
		return nil
	default:
		p.inFlight.Delete(key)
		return ErrQueueFull
	}
}

func generateVariant(ctx context.Context, r io.Reader, width int) (io.ReadSeeker, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode error: %w", err)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	img = resizeImage(img, width)

	var buf bytes.Buffer
	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, 75)
	if err != nil {
		return nil, fmt.Errorf("encoding options: %w", err)
	}

	if err := webp.Encode(&buf, img, options); err != nil {
		return nil, fmt.Errorf("encode error: %w", err)
	}

	return bytes.NewReader(buf.Bytes()), nil
}

// resizeImage scales source down to maxWidth keeping the aspect ratio.
// Narrower images are returned untouched.
func resizeImage(source image.Image, maxWidth int) image.Image {
	b := source.Bounds()
	currentWidth := b.Dx()

	if currentWidth <= maxWidth {
		return source
	}

	newHeight := max((b.Dy()*maxWidth)/currentWidth, 1)

	dest := image.NewRGBA(image.Rect(0, 0, maxWidth, newHeight))

	// bilinear has a good quality / speed tradeoff
	draw.BiLinear.Scale(dest, dest.Bounds(), source, source.Bounds(), draw.Over, nil)

	return dest
}
