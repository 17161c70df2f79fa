package lifecycle

import (
	"errors"
	"fmt"

	"github.com/kiranshivaraju/clinidoc/internal/store"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
)

var (
	// ErrNotFound is returned when the document does not exist.
	ErrNotFound = store.ErrNotFound
	// ErrInvalidTransition marks a status change the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrValidation marks an AI analysis payload that failed validation.
	ErrValidation = errors.New("analysis validation failed")
	// ErrStorage wraps document store and object store failures.
	ErrStorage = errors.New("storage unavailable")
)

// TransitionError reports a rejected status change. The document is unchanged.
type TransitionError struct {
	From models.ProcessingStatus
	To   models.ProcessingStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// ValidationError names the analysis field that failed and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}
