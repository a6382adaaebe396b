package relay

import (
	"errors"

	"chat-relay/auth"
)

var (
	ErrUnauthenticated = auth.ErrUnauthenticated
	ErrValidation      = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrStorage         = errors.New("storage failure")
	ErrTransport       = errors.New("transport failure")
	ErrShuttingDown    = errors.New("relay is shutting down")
)

// Error frame codes.
const (
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeNotFound        = "NOT_FOUND"
	CodeForbidden       = "FORBIDDEN"
	CodeStorage         = "STORAGE"
	CodeUnavailable     = "UNAVAILABLE"
	CodeInternal        = "INTERNAL"
)

// errorFrame maps err onto the payload sent to the originating session.
// Storage and internal failures carry a generic message.
func errorFrame(err error) ErrorEvent {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return ErrorEvent{Code: CodeUnauthenticated, Message: err.Error()}
	case errors.Is(err, ErrValidation):
		return ErrorEvent{Code: CodeInvalidArgument, Message: err.Error()}
	case errors.Is(err, ErrNotFound):
		return ErrorEvent{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, ErrForbidden):
		return ErrorEvent{Code: CodeForbidden, Message: err.Error()}
	case errors.Is(err, ErrStorage):
		return ErrorEvent{Code: CodeStorage, Message: "storage unavailable, try again"}
	case errors.Is(err, ErrShuttingDown):
		return ErrorEvent{Code: CodeUnavailable, Message: err.Error()}
	}
	return ErrorEvent{Code: CodeInternal, Message: "internal error"}
}
