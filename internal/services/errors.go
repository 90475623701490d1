package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ujala-development/serials/internal/domain"
	"github.com/ujala-development/serials/internal/repositories"
)

var (
	// ErrValidation indicates missing or invalid input. Nothing was written.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates a referenced factory, model, order, item or product does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateAllocation indicates a uniqueness violation at commit time. The write was rolled
	// back and the caller may retry the whole operation.
	ErrDuplicateAllocation = errors.New("duplicate allocation")
	// ErrInvalidTransition indicates a fulfillment guard rejected a status change.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrTransient indicates the store was unavailable or the transaction aborted. Safe to retry.
	ErrTransient = errors.New("transient store failure")
)

// ItemTransitionFailure explains why one item could not move.
type ItemTransitionFailure struct {
	ItemID string        `json:"itemId"`
	From   domain.Status `json:"from"`
	To     domain.Status `json:"to"`
	Reason string        `json:"reason"`
}

// TransitionError lists every item of a batch that blocked the transition. It matches
// ErrInvalidTransition with errors.Is.
type TransitionError struct {
	Failures []ItemTransitionFailure
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	if e == nil || len(e.Failures) == 0 {
		return ErrInvalidTransition.Error()
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.ItemID, f.Reason))
	}
	return fmt.Sprintf("%s: %s", ErrInvalidTransition.Error(), strings.Join(parts, "; "))
}

// Is reports whether target is ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ErrorKind returns a stable machine readable name for err.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateAllocation):
		return "duplicate_allocation"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "internal"
	}
}

// IsRetryable reports whether re-invoking the whole operation may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrDuplicateAllocation) || errors.Is(err, ErrTransient)
}

func mapStoreError(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{ErrValidation, ErrNotFound, ErrDuplicateAllocation, ErrInvalidTransition, ErrTransient} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}

	var recErr *repositories.RecordError
	if errors.As(err, &recErr) {
		switch recErr.Code {
		case repositories.RecordErrorNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, recErr.Message)
		case repositories.RecordErrorDuplicate:
			return fmt.Errorf("%w: %s", ErrDuplicateAllocation, recErr.Message)
		case repositories.RecordErrorInvalidInput:
			return fmt.Errorf("%w: %s", ErrValidation, recErr.Message)
		}
	}

	var counterErr *repositories.CounterError
	if errors.As(err, &counterErr) {
		if counterErr.Code == repositories.CounterErrorNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, counterErr.Message)
		}
		return fmt.Errorf("%w: %s", ErrValidation, counterErr.Message)
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case repoErr.IsUnavailable(), repoErr.IsConflict():
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
	}
	return err
}
