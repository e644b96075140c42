package agenda

import (
	"errors"
	"fmt"
)

// ErrInvalid is matched by every ValidationError:
//
//	if errors.Is(err, agenda.ErrInvalid) {
//	    // malformed input, nothing was sent or stored
//	}
var ErrInvalid = errors.New("invalid agenda item")

// ValidationError reports a malformed field. It is raised locally before
// any store write or network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrInvalid) true for any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
