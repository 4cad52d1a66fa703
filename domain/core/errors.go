package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Specification errors
	ErrInvalidSpec     = errors.New("invalid model specification")
	ErrNonNestedModel  = errors.New("models are not nested")
	ErrUnknownVariable = errors.New("unknown variable")

	// Fitting errors
	ErrFitConvergence   = errors.New("model fit failed to converge")
	ErrInsufficientData = errors.New("insufficient data for analysis")

	// Non-fatal conditions surfaced as warnings
	ErrEmptySignificantRegion = errors.New("no significant derivative region")
)

// Error constructors with context
func NewInvalidSpecError(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidSpec, reason)
}

func NewNonNestedModelError(full, reduced string) error {
	return fmt.Errorf("%w: %q is not %q minus its last term", ErrNonNestedModel, reduced, full)
}

func NewUnknownVariableError(name string) error {
	return fmt.Errorf("%w: %s", ErrUnknownVariable, name)
}

func NewFitConvergenceError(what string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrFitConvergence, what)
	}
	return fmt.Errorf("%w: %s: %v", ErrFitConvergence, what, err)
}

func NewInsufficientDataError(rows, needed int) error {
	return fmt.Errorf("%w: %d rows, need at least %d", ErrInsufficientData, rows, needed)
}

// Error checking helpers
func IsInvalidSpecError(err error) bool {
	return errors.Is(err, ErrInvalidSpec) || errors.Is(err, ErrUnknownVariable)
}

func IsFitConvergenceError(err error) bool {
	return errors.Is(err, ErrFitConvergence)
}

func IsNonNestedModelError(err error) bool {
	return errors.Is(err, ErrNonNestedModel)
}

// Warning is a non-fatal condition attached to a result.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (w Warning) Error() string {
	return w.Message
}

func (w Warning) Unwrap() error {
	return w.Err
}

// WarningEmptySignificantRegion is the code for derivative curves without a significant interval.
const WarningEmptySignificantRegion = "EMPTY_SIGNIFICANT_REGION"

// NewEmptySignificantRegionWarning reports that no grid point had a derivative CI excluding zero.
func NewEmptySignificantRegionWarning(smoothVar string) Warning {
	return Warning{
		Code:    WarningEmptySignificantRegion,
		Message: fmt.Sprintf("derivative of %s is not significant anywhere on its range", smoothVar),
		Err:     ErrEmptySignificantRegion,
	}
}
