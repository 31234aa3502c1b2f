package handlers

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"postengine/internal/media"
	"postengine/internal/storage"
	"postengine/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ImageHandler streams stored images. With ?w= it serves the webp variant
// of that width when cached and queues its generation when not.
type ImageHandler struct {
	Blobs    storage.Provider
	Variants media.VariantService
	Prefix   string
	Tracer   trace.Tracer
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
}

const cacheForAYear = 31536000

func (h *ImageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.Tracer.Start(r.Context(), "ImageHandler.ServeHTTP")
	defer span.End()

	// expected format: /images/{YYYY}/{MM}/{name}, the blob key keeps the prefix
	rest := r.PathValue("path")
	if rest == "" || strings.Contains(rest, "..") {
		NotFound(h.Logger)(w, r)
		return
	}
	key := path.Join(h.Prefix, rest)
	span.SetAttributes(attribute.String("image.key", key))

	if raw := r.URL.Query().Get("w"); raw != "" {
		width, err := strconv.Atoi(raw)
		if err != nil || !media.SupportedWidth(width) {
			badRequest(w, h.Logger, fmt.Sprintf("w must be one of %v", media.VariantWidths), nil)
			return
		}

		variantKey := h.Variants.Key(key, width)
		if h.Blobs.Exists(ctx, variantKey) {
			span.SetAttributes(attribute.String("cache.status", "hit"))
			h.Metrics.CacheHitsTotal.Add(ctx, 1)

			w.Header().Set("X-Cache", "HIT")
			// attempt to cache in the browser for a long time
			w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d, immutable", cacheForAYear))
			h.stream(w, r, variantKey, "image/webp", "variant")
			return
		}

		span.SetAttributes(attribute.String("cache.status", "miss"))
		h.Metrics.CacheMissesTotal.Add(ctx, 1)
		w.Header().Set("X-Cache", "MISS")

		if h.Blobs.Exists(ctx, key) {
			parent := trace.SpanFromContext(ctx).SpanContext()
			for _, wanted := range media.VariantWidths {
				err := h.Variants.Enqueue(ctx, media.VariantJob{SourcePath: key, Width: wanted, ParentSpan: parent})
				if err != nil {
					h.Logger.Warn("variant not queued", "key", key, "width", wanted, "err", err)
				}
			}
		}
	}

	mimeType := mime.TypeByExtension(path.Ext(key))
	if mimeType == "" {
		mimeType = "application/octet-stream" // fallback
	}
	h.stream(w, r, key, mimeType, "original")
}

func (h *ImageHandler) stream(w http.ResponseWriter, r *http.Request, key, mimeType, kind string) {
	ctx := r.Context()

	reader, err := h.Blobs.Open(ctx, key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			NotFound(h.Logger)(w, r)
			return
		}
		h.Logger.Error("failed to open image", "key", key, "err", err)
		InternalError(w, r, h.Logger, err)
		return
	}
	defer reader.Close()

	h.Metrics.ImageRequestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("image.kind", kind)))

	w.Header().Set("Content-Type", mimeType)
	if _, err := io.Copy(w, reader); err != nil {
		h.Logger.Warn("stream interrupted", "err", err)
	}
}
