package models

import "errors"

// Error taxonomy shared by the engine, the repositories and the HTTP layer.
// Wrap with fmt.Errorf("...: %w", ErrX) and match with errors.Is.
var (
	ErrValidation         = errors.New("validation error")
	ErrCapacityExhausted  = errors.New("capacity exhausted")
	ErrNotFound           = errors.New("not found")
	ErrAlreadySettled     = errors.New("already settled")
	ErrTransientUpstream  = errors.New("upstream unavailable")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrForbidden          = errors.New("forbidden")
	ErrDuplicate          = errors.New("duplicate")
)

// ErrorCode returns the stable machine-readable code for err.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrCapacityExhausted):
		return "capacity_exhausted"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadySettled):
		return "already_settled"
	case errors.Is(err, ErrTransientUpstream):
		return "transient_upstream"
	case errors.Is(err, ErrInvariantViolation):
		return "invariant_violation"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	}
	return "internal_error"
}
