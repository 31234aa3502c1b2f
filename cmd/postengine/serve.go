package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"postengine/internal/config"
	"postengine/internal/content"
	"postengine/internal/handlers"
	"postengine/internal/media"
	"postengine/internal/middleware"
	"postengine/internal/router"
	"postengine/internal/storage/sqlite"
	"postengine/internal/telemetry"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), cfg, logger)
	},
}

type App struct {
	Server    *http.Server
	Logger    *slog.Logger
	Config    *config.Config
	Store     *sqlite.Store
	Processor *media.Processor
}

func NewApp(cfg *config.Config, logger *slog.Logger, store *sqlite.Store, processor *media.Processor, handler http.Handler) *App {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.Timeouts.Read,
		WriteTimeout: cfg.HTTP.Timeouts.Write,
		IdleTimeout:  cfg.HTTP.Timeouts.Idle,
	}

	return &App{
		Server:    server,
		Logger:    logger,
		Config:    cfg,
		Store:     store,
		Processor: processor,
	}
}

func (a *App) Run(ctx context.Context) error {
	srvErrChan := make(chan error, 1)

	go func() {
		a.Logger.Info("server starting", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErrChan <- err
		}
	}()

	select {
	case err := <-srvErrChan:
		return fmt.Errorf("server startup failed: %w", err)
	case <-ctx.Done():
		a.Logger.Info("shutdown signal received")
	}

	// attempt clean shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.HTTP.Timeouts.Shutdown)
	defer cancel()

	a.Logger.Info("draining connections...")
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		// graceful shutdown timed out
		if closeErr := a.Server.Close(); closeErr != nil {
			// both failed. Return combined error.
			return fmt.Errorf("graceful shutdown failed: %w", errors.Join(err, closeErr))
		}
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	// workers stop on ctx; wait so no variant write races the exit
	a.Processor.Wait()
	a.Logger.Info("server stopped")
	return nil
}

func serve(rootCtx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("application starting", "pid", os.Getpid())
	logger.Info("configuration loaded",
		"name", cfg.App.Name,
		"version", cfg.App.Version,
		"env", cfg.App.Environment,
		"port", cfg.HTTP.Port,
		"db", cfg.DB.Path,
		"storage", cfg.Storage.Driver,
		"journal_mode", cfg.DB.JournalMode,
		"rate_limit_read_rps", cfg.Limiter.Read.RPS,
		"rate_limit_write_rps", cfg.Limiter.Write.RPS,
		"trusted_proxy", cfg.Proxy.Trusted,
		"telemetry", cfg.Metrics.EnableTelemetry,
	)

	tel, err := telemetry.Init(rootCtx, cfg.App.Name, cfg.App.Version, cfg.App.Environment,
		cfg.Metrics.OtelEndpoint, cfg.Metrics.EnableTelemetry, logger)
	if err != nil {
		return fmt.Errorf("telemetry init: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.Timeouts.Shutdown)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown", "err", err)
		}
	}()

	metrics, err := telemetry.NewMetrics(tel.Meter)
	if err != nil {
		return fmt.Errorf("metrics init: %w", err)
	}

	store, err := openStore(cfg.DB)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(cfg.DB.MigrationsPath); err != nil {
		return err
	}

	blobs, err := newBlobProvider(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	// validated by config.Validate
	namespace := uuid.Must(uuid.FromString(cfg.App.AssetNamespace))

	ingestor := media.NewIngestor(store, blobs, media.NewHTTPFetcher(cfg.Ingest), cfg.Ingest.Prefix, namespace, logger,
		media.WithMetrics(metrics))
	processor := media.NewProcessor(rootCtx, blobs, namespace, cfg.Ingest.Workers, logger)

	service := content.NewService(store, ingestor, metrics, logger)

	limiter := middleware.NewRateLimiter(rootCtx, cfg.Limiter, cfg.Proxy.Trusted, metrics)

	handler := router.NewRouter(router.RouterDependencies{
		Cfg:             cfg,
		Logger:          logger,
		EntityHandler:   handlers.NewEntityHandler(service, content.NewMarkdownRenderer("/"+cfg.Ingest.Prefix+"/"), logger),
		CategoryHandler: handlers.NewCategoryHandler(service.Categories(), service.DonationForms(), logger),
		ImageHandler: &handlers.ImageHandler{
			Blobs:    blobs,
			Variants: processor,
			Prefix:   cfg.Ingest.Prefix,
			Tracer:   tel.Tracer,
			Metrics:  metrics,
			Logger:   logger,
		},
		Limiter: limiter,
		Tracer:  tel.Tracer,
		Metrics: metrics,
	})

	app := NewApp(cfg, logger, store, processor, handler)
	if err := app.Run(rootCtx); err != nil {
		return fmt.Errorf("server crashed: %w", err)
	}

	logger.Info("application exited successfully")
	return nil
}
