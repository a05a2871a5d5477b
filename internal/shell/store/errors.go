// Package store provides persistence for pages, deployments and donated domains.
package store

import (
	"errors"
	"fmt"

	"github.com/artpar/pagehost/internal/core/apperr"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicateID is returned when creating an entity with an existing ID.
	ErrDuplicateID = errors.New("entity with this ID already exists")

	// ErrDuplicateSubdomain is returned when a live page already holds the name.
	ErrDuplicateSubdomain = errors.New("subdomain is already taken on this domain")

	// ErrDuplicateDomain is returned when a donated domain is submitted twice.
	ErrDuplicateDomain = errors.New("domain has already been donated")

	// ErrDuplicateUsage is returned when a donated subdomain or page is reserved twice.
	ErrDuplicateUsage = errors.New("subdomain is already reserved")

	// ErrCapacityExceeded is returned when a donated domain counter would leave its bounds.
	ErrCapacityExceeded = errors.New("donated domain capacity exceeded")

	// ErrForeignKey is returned when a foreign key constraint is violated.
	ErrForeignKey = errors.New("foreign key constraint violated")

	// ErrConnectionFailed is returned when database connection fails.
	ErrConnectionFailed = errors.New("database connection failed")

	// ErrMigrationFailed is returned when database migration fails.
	ErrMigrationFailed = errors.New("database migration failed")

	// ErrInvalidData is returned when JSON serialization/deserialization fails.
	ErrInvalidData = errors.New("invalid data format")

	// ErrTxFailed is returned when a transaction operation fails.
	ErrTxFailed = errors.New("transaction failed")
)

// StoreError wraps errors with additional context.
type StoreError struct {
	Op      string // Operation that failed (e.g., "CreatePage")
	Entity  string // Entity type (e.g., "page", "donated_domain")
	ID      string // Entity ID if applicable
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(op, entity, id, message string, err error) *StoreError {
	return &StoreError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}

// =============================================================================
// Classification
// =============================================================================

// Classify translates a store error into the service error taxonomy.
// A nil err stays nil.
func Classify(err error, message string) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return apperr.Wrap(apperr.KindNotFound, message, err)
	case errors.Is(err, ErrDuplicateSubdomain),
		errors.Is(err, ErrDuplicateDomain),
		errors.Is(err, ErrDuplicateUsage),
		errors.Is(err, ErrDuplicateID),
		errors.Is(err, ErrCapacityExceeded):
		return apperr.Wrap(apperr.KindConflict, message, err)
	case errors.Is(err, ErrForeignKey):
		return apperr.Wrap(apperr.KindNotFound, message, err)
	}
	return apperr.Downstream("store", message, err)
}
