package model

import "errors"

// Error kinds. Match them with errors.Is; the concrete *Error carries the
// message shown to clients.
var (
	ErrNotFound         = errors.New("not found")
	ErrSelfRelation     = errors.New("self relation")
	ErrPoolTimeout      = errors.New("connection pool timeout")
	ErrTransactionAbort = errors.New("transaction aborted")
	ErrValidation       = errors.New("validation failed")
)

// Error pairs an error kind with a user-facing message and an optional cause.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

func NotFound(message string) *Error {
	return &Error{Kind: ErrNotFound, Message: message}
}

func Invalid(message string) *Error {
	return &Error{Kind: ErrValidation, Message: message}
}

// SelfRelation is returned when a user tries to follow or unfollow itself.
// action is the verb used in the message ("follow", "unfollow").
func SelfRelation(action string) *Error {
	return &Error{Kind: ErrSelfRelation, Message: "You cannot " + action + " yourself."}
}

// Message returns the user-facing message of err if it carries one.
func Message(err error) (string, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Message, true
	}
	return "", false
}
