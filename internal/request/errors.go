package request

import (
	"fmt"
	"net/http"
)

// Error is a request failure that is reported to the client as-is.
// Code is the HTTP status of the response.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func badRequest(format string, args ...any) *Error {
	return &Error{Code: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

func notLoaded(message string) *Error {
	return &Error{Code: http.StatusInternalServerError, Message: message}
}
