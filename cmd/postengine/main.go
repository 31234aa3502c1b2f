// Command postengine serves the content API and runs its maintenance tasks.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"postengine/internal/config"
	"postengine/internal/storage"
	"postengine/internal/storage/sqlite"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// set by -ldflags at build time
var version = "dev"

var (
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "postengine",
	Short:         "Content API for projects, blogs and careers",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// a missing .env is fine, the environment may already be set
		_ = godotenv.Load()

		cfg = config.LoadWithDefaults()
		if cfg.App.Version == "dev" {
			cfg.App.Version = version
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		logHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Logger.Level})
		logger = slog.New(logHandler).With("app", cfg.App.Name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(syncImagesCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(rootCtx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// newBlobProvider returns the blob store selected by STORAGE_DRIVER.
func newBlobProvider(c config.StorageConfig) (storage.Provider, error) {
	switch c.Driver {
	case "s3":
		return storage.NewS3Store(c.S3)
	case "memory":
		return storage.NewMemoryStore(), nil
	default:
		return storage.NewLocalStorage(c.LocalRoot)
	}
}

func openStore(c config.DBConfig) (*sqlite.Store, error) {
	return sqlite.NewStore(c.Path, sqlite.WithBusyTimeout(c.BusyTimeout), sqlite.WithJournalMode(c.JournalMode))
}
