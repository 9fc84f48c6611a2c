package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error is an error raised by the replicated map. It carries an optional
// inner error, annotated with the stack at the point it was wrapped.
type Error struct {
	Inner   error
	Message string
}

// New creates an error with the provided message and no inner error.
func New(text string) *Error {
	return &Error{Message: text}
}

// WrapError wraps the inner error with a formatted message. The inner error
// remains reachable through errors.Is and errors.As.
func WrapError(inner error, messagef string, messageArgs ...interface{}) *Error {
	return &Error{
		Inner:   errors.WithStack(inner),
		Message: fmt.Sprintf(messagef, messageArgs...),
	}
}

func (e *Error) Unwrap() error {
	return e.Inner
}

func (e *Error) Error() string {
	if e.Inner == nil {
		return e.Message
	}
	return e.Message + ": " + errors.Cause(e.Inner).Error()
}

// Is reports whether any error in the chain of err matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
