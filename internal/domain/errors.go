package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks caller input that fails a precondition.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a lookup for a record that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks an update rejected because of the record's current state.
	ErrConflict = errors.New("conflict")
)

// UnknownDeviceTokensError rejects a notification whose token list contains
// tokens that do not resolve to a registered device. The whole create is
// refused; no records are written.
type UnknownDeviceTokensError struct {
	Tokens []string
}

func (e *UnknownDeviceTokensError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("unknown device tokens: %s", strings.Join(e.Tokens, ", "))
}
