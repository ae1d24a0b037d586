package realtime

import (
	"errors"
	"fmt"
)

// Sentinel kinds returned by stores (stable for errors.Is).
var (
	ErrInvalidInput = errors.New("invalid_input")
	ErrNotFound     = errors.New("not_found")
	ErrForbidden    = errors.New("forbidden")
)

// StoreError is a typed store failure with a stable Op + Kind contract.
// Msg may carry context for logs; it is also sent to clients, so keep it free of internals.
type StoreError struct {
	Op   string
	Kind error
	Msg  string
}

func (e StoreError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e StoreError) Unwrap() error { return e.Kind }

func invalidInput(op, msg string) error {
	return StoreError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}

func notFound(op, msg string) error {
	return StoreError{Op: op, Kind: ErrNotFound, Msg: msg}
}

func forbidden(op, msg string) error {
	return StoreError{Op: op, Kind: ErrForbidden, Msg: msg}
}

// errorCode maps an error to the wire error code sent to clients.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "internal"
	}
}
