package txbuilder

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedAddress marks an address argument or config entry that
	// does not parse as a 20-byte hex address.
	ErrMalformedAddress = errors.New("malformed address")

	// ErrInvalidArgument marks a missing or out-of-range argument.
	ErrInvalidArgument = errors.New("invalid argument")
)

// FieldError names the offending field.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}
