package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"postengine/internal/domain"
	"postengine/internal/middleware"
)

// envelope is the body of every JSON response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
	Errors  any    `json:"errors"`
}

// respondError maps err onto a status through domain.HTTPError. Server side
// failures are logged and answered with a generic message.
func respondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var httpErr domain.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode() >= http.StatusInternalServerError {
		InternalError(w, r, logger, err)
		return
	}

	code := httpErr.StatusCode()
	var fields any
	var verr *domain.ValidationError
	if errors.As(err, &verr) && len(verr.Fields) > 0 {
		fields = verr.Fields
	}

	if code == http.StatusNotFound {
		logger = middleware.LoggerFrom(r.Context(), logger)
		logger.Warn("404 not found", "path", r.URL.Path, "method", r.Method, "err", err)
	}
	writeJSON(w, logger, code, envelope{Message: err.Error(), Errors: fields})
}

// InternalError handles 500 errors
func InternalError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	logger = middleware.LoggerFrom(r.Context(), logger)
	logger.Error("500 internal server error", "err", err, "path", r.URL.Path, "method", r.Method)
	writeJSON(w, logger, http.StatusInternalServerError, envelope{
		Message: "Something went wrong on our end. The error has been logged.",
	})
}

// NotFound answers unknown routes.
func NotFound(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger.Warn("404 not found", "path", r.URL.Path, "method", r.Method, "ip", r.RemoteAddr)
		writeJSON(w, logger, http.StatusNotFound, envelope{Message: "The resource you are looking for doesn't exist."})
	}
}

func badRequest(w http.ResponseWriter, logger *slog.Logger, message string, fields map[string]string) {
	var errs any
	if len(fields) > 0 {
		errs = fields
	}
	writeJSON(w, logger, http.StatusBadRequest, envelope{Message: message, Errors: errs})
}
