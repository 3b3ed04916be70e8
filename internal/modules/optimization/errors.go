package optimization

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds returned by the optimization pipeline. Every failure wraps
// exactly one of them so callers can branch with errors.Is.
var (
	// ErrInputShape reports mismatched instrument sets or matrix dimensions.
	ErrInputShape = errors.New("input shape mismatch")
	// ErrMissingParameter reports a required parameter that was not supplied.
	ErrMissingParameter = errors.New("missing parameter")
	// ErrUnsupportedOption reports an unknown objective, metric or out-of-range option.
	ErrUnsupportedOption = errors.New("unsupported option")
	// ErrNumericDegeneracy reports a singular or near-singular matrix.
	ErrNumericDegeneracy = errors.New("numeric degeneracy")
	// ErrInsufficientData reports series too short or unavailable for estimation.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrReferenceLookup reports an instrument absent from the reference table.
	ErrReferenceLookup = errors.New("reference lookup failed")
	// ErrTargetUnattainable reports a target return above the best attainable return.
	ErrTargetUnattainable = errors.New("target return unattainable")
)

// TargetReturnError carries the attainable bound for an infeasible target return.
type TargetReturnError struct {
	Target        float64
	MaxAttainable float64
}

func (e *TargetReturnError) Error() string {
	return fmt.Sprintf("%s: target %.4f exceeds maximum attainable %.4f",
		ErrTargetUnattainable, e.Target, e.MaxAttainable)
}

// Unwrap lets errors.Is match ErrTargetUnattainable.
func (e *TargetReturnError) Unwrap() error {
	return ErrTargetUnattainable
}

// ErrorKind returns a stable label for err, used for metrics and API responses.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrInputShape):
		return "input_shape"
	case errors.Is(err, ErrMissingParameter):
		return "missing_parameter"
	case errors.Is(err, ErrUnsupportedOption):
		return "unsupported_option"
	case errors.Is(err, ErrNumericDegeneracy):
		return "numeric_degeneracy"
	case errors.Is(err, ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, ErrReferenceLookup):
		return "reference_lookup"
	case errors.Is(err, ErrTargetUnattainable):
		return "target_unattainable"
	default:
		return "internal"
	}
}
