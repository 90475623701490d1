package repositories

import (
	"errors"
	"fmt"
)

// RecordErrorCode enumerates failure reasons for order, item, directory and product records.
type RecordErrorCode string

const (
	// RecordErrorNotFound indicates the referenced record does not exist.
	RecordErrorNotFound RecordErrorCode = "record_not_found"
	// RecordErrorDuplicate indicates a uniqueness constraint (order ID, serial number, code) was violated.
	RecordErrorDuplicate RecordErrorCode = "record_duplicate"
	// RecordErrorInvalidInput indicates the caller supplied arguments the store cannot persist.
	RecordErrorInvalidInput RecordErrorCode = "record_invalid_input"
)

// RecordError wraps record failures with machine readable codes.
type RecordError struct {
	Op      string
	Code    RecordErrorCode
	Kind    string
	Key     string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *RecordError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *RecordError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the record is missing.
func (e *RecordError) IsNotFound() bool { return e != nil && e.Code == RecordErrorNotFound }

// IsConflict reports whether a uniqueness constraint was violated.
func (e *RecordError) IsConflict() bool { return e != nil && e.Code == RecordErrorDuplicate }

// IsUnavailable is always false; availability failures come from the backend error types.
func (e *RecordError) IsUnavailable() bool { return false }

// NewRecordError constructs a typed record error.
func NewRecordError(code RecordErrorCode, message string, err error) *RecordError {
	if message == "" {
		message = string(code)
	}
	return &RecordError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NotFound builds a not-found error for the record kind and key.
func NotFound(kind, key string) *RecordError {
	e := NewRecordError(RecordErrorNotFound, fmt.Sprintf("%s %q not found", kind, key), nil)
	e.Kind = kind
	e.Key = key
	return e
}

// Duplicate builds a uniqueness violation for the record kind and key.
func Duplicate(kind, key string, err error) *RecordError {
	e := NewRecordError(RecordErrorDuplicate, fmt.Sprintf("%s %q already exists", kind, key), err)
	e.Kind = kind
	e.Key = key
	return e
}

// IsRecordCode reports whether err carries a RecordError with the given code.
func IsRecordCode(err error, code RecordErrorCode) bool {
	var recErr *RecordError
	return errors.As(err, &recErr) && recErr.Code == code
}
