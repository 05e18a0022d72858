package services

import (
	"errors"
	"fmt"
)

// Sentinel errors for the lifecycle and aggregation services. Handlers map
// these onto HTTP status codes; nothing below this layer knows about HTTP.
var (
	// ErrNotFound covers both "row absent" and "row not owned by caller" —
	// the two are indistinguishable on purpose so ownership cannot be probed.
	ErrNotFound = errors.New("not found")

	// ErrDependency indicates the persistence layer or the generation
	// provider failed. Client-side, this means "retry", not "fix your input".
	ErrDependency = errors.New("dependency failure")
)

// ValidationError reports client-fixable input problems. Field names the
// offending input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func validationErr(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func dependencyErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrDependency, err)
}
