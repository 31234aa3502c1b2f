package storage

import (
	"context"
	"io"
)

// Provider is the blob store holding image bytes, addressed by slash
// separated keys.
type Provider interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) bool
	Save(ctx context.Context, path string, body io.ReadSeeker) error
	Delete(ctx context.Context, path string) error
}
