package media

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"postengine/internal/storage"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

// SyncDir walks sourceDir and uploads every image missing from dst, keyed by
// its slash separated path relative to sourceDir. It returns how many blobs
// were uploaded. Used to move a local store onto object storage.
func SyncDir(ctx context.Context, dst storage.Provider, sourceDir string, logger *slog.Logger) (int, error) {
	logger.Info("starting image sync", "dir", sourceDir)

	root, err := os.OpenRoot(sourceDir)
	if err != nil {
		return 0, fmt.Errorf("could not open directory %s: %w", sourceDir, err)
	}
	defer root.Close()

	uploaded := 0
	err = fs.WalkDir(root.FS(), ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}

		if !slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(path))) {
			return nil
		}
		// variants regenerate on demand
		if strings.HasPrefix(path, "variants/") {
			return nil
		}

		if dst.Exists(ctx, path) {
			return nil
		}

		logger.Info("syncing missing image", "key", path)

		file, err := root.Open(path)
		if err != nil {
			logger.Error("failed to open local file", "path", path, "err", err)
			return nil
		}
		defer file.Close()

		if err := dst.Save(ctx, path, file); err != nil {
			return fmt.Errorf("upload %s: %w", path, err)
		}
		uploaded++
		return nil
	})

	return uploaded, err
}
