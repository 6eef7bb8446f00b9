package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("key not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidState    = errors.New("invalid state")
)

// Error wraps a fault raised by a backend engine. Adapters map every native
// error other than not-found into an *Error so callers see one taxonomy.
type Error struct {
	Backend string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns err as an *Error, or nil if err is nil. Errors that already
// belong to the taxonomy pass through untouched.
func Wrap(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrInvalidState) {
		return err
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Backend: backend, Op: op, Err: err}
}

// IsStoreError reports whether err carries a backend fault.
func IsStoreError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func invalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

func validateKey(key []byte) error {
	if key == nil {
		return invalidArgument("key is nil")
	}
	if len(key) == 0 {
		return invalidArgument("key is empty")
	}
	return nil
}

func validateValue(value []byte) error {
	if value == nil {
		return invalidArgument("value is nil")
	}
	return nil
}
