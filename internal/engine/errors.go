package engine

import (
	"errors"
	"fmt"

	"incidentline/internal/domain"
	"incidentline/internal/engine/auth"
	"incidentline/internal/repo"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrGone         = errors.New("gone")
	ErrInternal     = errors.New("internal error")
)

// InvalidTransitionError reports a status change the workflow does not allow.
type InvalidTransitionError struct {
	From domain.Status
	To   domain.Status
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

type internalError struct {
	op  string
	err error
}

func (e *internalError) Error() string   { return e.op + ": " + e.err.Error() }
func (e *internalError) Unwrap() []error { return []error{ErrInternal, e.err} }

// storeErr keeps NotFound visible and marks every other persistence failure
// as internal.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &internalError{op: op, err: err}
}

// authErr passes policy denials through and marks a failure to evaluate the
// policy as internal.
func authErr(err error) error {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return err
	}
	return &internalError{op: "authorize", err: err}
}
