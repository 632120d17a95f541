package model

import "errors"

var (
	ErrAuth       = errors.New("auth error")
	ErrTransport  = errors.New("transport error")
	ErrConfigIO   = errors.New("config io error")
	ErrPrint      = errors.New("print error")
	ErrFilesystem = errors.New("filesystem error")

	ErrNoPrinter         = errors.New("no printer configured")
	ErrAlreadySubscribed = errors.New("realtime channel already active")
)

// Error carries a verbatim message under one of the kinds above, so callers
// can match with errors.Is while the UI shows the backend's own text.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

func NewError(kind error, message string) error {
	return &Error{Kind: kind, Message: message}
}
