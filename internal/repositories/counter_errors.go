package repositories

import "fmt"

// CounterErrorCode enumerates failure reasons for counter operations.
type CounterErrorCode string

const (
	// CounterErrorInvalidInput indicates the caller supplied invalid arguments.
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
	// CounterErrorNotFound indicates the factory has never allocated a serial.
	CounterErrorNotFound CounterErrorCode = "counter_not_found"
	// CounterErrorOverflow indicates an increment would exceed the int64 range.
	CounterErrorOverflow CounterErrorCode = "counter_overflow"
)

// CounterError wraps counter-specific failures with machine readable codes.
type CounterError struct {
	Op      string
	Code    CounterErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the counter does not exist yet.
func (e *CounterError) IsNotFound() bool { return e != nil && e.Code == CounterErrorNotFound }

// IsConflict is always false for counter errors.
func (e *CounterError) IsConflict() bool { return false }

// IsUnavailable is always false for counter errors.
func (e *CounterError) IsUnavailable() bool { return false }

// NewCounterError constructs a typed counter error.
func NewCounterError(code CounterErrorCode, message string, err error) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
