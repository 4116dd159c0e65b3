package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateFill marks an idempotent no-op: the fill ID was already
	// applied and the returned snapshot reflects the unchanged position.
	ErrDuplicateFill = errors.New("duplicate fill")

	ErrPositionNotFound = errors.New("position not found")
	ErrBalanceNotFound  = errors.New("balance not found")
)

// ValidationError rejects a malformed fill before any state mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid fill: %s %s", e.Field, e.Reason)
}
