package router

import (
	"log/slog"
	"net/http"

	"postengine/internal/config"
	"postengine/internal/domain"
	"postengine/internal/handlers"
	"postengine/internal/middleware"
	"postengine/internal/telemetry"

	"github.com/rs/cors"
	"go.opentelemetry.io/otel/trace"
)

// RouterDependencies holds everything needed to register routes.
type RouterDependencies struct {
	Cfg             *config.Config
	Logger          *slog.Logger
	EntityHandler   *handlers.EntityHandler
	CategoryHandler *handlers.CategoryHandler
	ImageHandler    http.Handler
	Limiter         *middleware.RateLimiter
	Tracer          trace.Tracer
	Metrics         *telemetry.Metrics
}

func NewRouter(deps RouterDependencies) http.Handler {
	// routing
	appMux := http.NewServeMux()

	for _, kind := range domain.Kinds() {
		base := "/api/" + kind.Plural

		appMux.Handle("GET "+base, deps.EntityHandler.HandleList(kind))
		appMux.Handle("POST "+base, deps.EntityHandler.HandleCreate(kind))
		appMux.Handle("GET "+base+"/{id}", deps.EntityHandler.HandleRead(kind))
		appMux.Handle("PUT "+base+"/{id}", deps.EntityHandler.HandleUpdate(kind))
		appMux.Handle("DELETE "+base+"/{id}", deps.EntityHandler.HandleDelete(kind))

		if kind.Categorized {
			appMux.Handle("GET "+base+"/categories", deps.CategoryHandler.HandleList(kind))
			appMux.Handle("POST "+base+"/categories", deps.CategoryHandler.HandleCreate(kind))
		}
	}
	appMux.Handle("GET /api/donation-forms/{id}", deps.CategoryHandler.HandleDonationForm())

	appMux.Handle("GET /images/{path...}", deps.ImageHandler)

	appMux.HandleFunc("/", handlers.NotFound(deps.Logger))

	middlewareStack := []middleware.Middleware{
		middleware.Recover(deps.Logger),
	}

	if deps.Cfg.Metrics.EnableTelemetry {
		// order matters so don't append
		middlewareStack = append(middlewareStack, middleware.Observability(deps.Tracer, deps.Metrics, deps.Logger))
	} else {
		middlewareStack = append(middlewareStack, middleware.Logger(deps.Logger))
	}

	middlewareStack = append(middlewareStack, deps.Limiter.Middleware(deps.Logger))

	appHandler := middleware.Chain(appMux, middlewareStack...)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: deps.Cfg.CORS.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Origin", "Content-Type", "Accept"},
		ExposedHeaders: []string{"X-Trace-ID", "X-Cache", "Retry-After"},
		MaxAge:         600,
	})

	rootMux := http.NewServeMux()

	// lightweight for docker keepalive
	rootMux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	rootMux.Handle("/", corsHandler.Handler(appHandler))

	return rootMux
}
