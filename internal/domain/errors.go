package domain

import "errors"

// Sentinel errors for the domain layer.
var (
	ErrNotFound           = errors.New("domain: not found")
	ErrConflict           = errors.New("domain: conflict")
	ErrUnauthorized       = errors.New("domain: unauthorized")
	ErrForbidden          = errors.New("domain: forbidden")
	ErrValidation         = errors.New("domain: validation failed")
	ErrIntegrityViolation = errors.New("domain: integrity violation")
)

// Causes carried by ValidationError. Match with errors.Is.
var (
	ErrCircularReference = errors.New("circular reference")
	ErrMaxDepthExceeded  = errors.New("maximum hierarchy depth exceeded")
	ErrDuplicateCode     = errors.New("duplicate code")
	ErrInvalidCode       = errors.New("invalid code format")
	ErrHasActiveChildren = errors.New("node has active children")
	ErrNegativeAmount    = errors.New("negative amount")
	ErrParentMismatch    = errors.New("parent mismatch")
	ErrInactiveNode      = errors.New("node is inactive")
)

// ValidationError is a client-caused failure. errors.Is(err, ErrValidation)
// reports true for every ValidationError; the optional Cause narrows it down.
type ValidationError struct {
	Field  string
	Reason string
	Cause  error
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, reason string, cause error) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, Cause: cause}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return "validation: " + e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}
