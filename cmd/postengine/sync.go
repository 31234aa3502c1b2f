package main

import (
	"fmt"

	"postengine/internal/media"

	"github.com/spf13/cobra"
)

var syncImagesCmd = &cobra.Command{
	Use:   "sync-images <dir>",
	Short: "Upload image files under dir that the blob store is missing",
	Long: `Walks dir and uploads every image file whose key is not yet in the
configured blob store. Keys are the slash separated paths relative to dir,
so a local images/ tree can seed an S3 bucket.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		blobs, err := newBlobProvider(cfg.Storage)
		if err != nil {
			return fmt.Errorf("open blob store: %w", err)
		}

		uploaded, err := media.SyncDir(cmd.Context(), blobs, args[0], logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d files\n", uploaded)
		return nil
	},
}
