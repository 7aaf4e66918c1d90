package service

import "errors"

// Error kinds surfaced by UserService. Match them with errors.Is.
var (
	ErrMissingField  = errors.New("missing field")
	ErrWeakPassword  = errors.New("weak password")
	ErrUsernameTaken = errors.New("username taken")
	ErrNotFound      = errors.New("not found")
	ErrUpdateFailed  = errors.New("update failed")
)

// Error carries a human readable message alongside one of the error kinds.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}
