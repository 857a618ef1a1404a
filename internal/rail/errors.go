package rail

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("validation failed")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("external service unavailable")
	ErrInternal    = errors.New("internal error")
)

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Unavailable wraps a transport failure so callers can match ErrUnavailable
// while keeping the cause in the chain.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// Kind returns the taxonomy sentinel err belongs to, or ErrInternal.
func Kind(err error) error {
	for _, k := range []error{ErrNotFound, ErrValidation, ErrConflict, ErrUnavailable} {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrInternal
}
