package storage

import (
	"errors"

	"postengine/internal/domain"
)

// DomainError translates storage sentinels into the domain error kinds.
// Errors that already carry a domain kind pass through untouched.
func DomainError(op, resource string, id int64, err error) error {
	if err == nil {
		return nil
	}

	var httpErr domain.HTTPError
	if errors.As(err, &httpErr) {
		return err
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return &domain.NotFoundError{Resource: resource, ID: id}
	case errors.Is(err, ErrUniqueViolation):
		return &domain.ConflictError{Resource: resource, Detail: "already exists"}
	case errors.Is(err, ErrVersionConflict):
		return &domain.ConflictError{Resource: resource, Detail: "modified concurrently, retry"}
	case errors.Is(err, ErrCheckViolation):
		return &domain.ValidationError{Message: op + ": " + err.Error()}
	default:
		return &domain.PersistenceError{Op: op, Err: err}
	}
}
