package model

import (
	"errors"
	"fmt"
)

// ErrUnavailable is returned by health checks when the model server is not
// serving.
var ErrUnavailable = errors.New("model server unavailable")

// StatusError is a non-200 answer from the model server.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("model server error (status %d)", e.Code)
	}
	return fmt.Sprintf("model server error (status %d): %s", e.Code, e.Body)
}

// Is implements errors.Is support for StatusError.
// This allows errors.Is(err, &StatusError{}) to work with wrapped errors.
func (e *StatusError) Is(target error) bool {
	_, ok := target.(*StatusError)
	return ok
}

// Temporary reports whether the status suggests the request may succeed
// later.
func (e *StatusError) Temporary() bool {
	return e.Code == 429 || e.Code >= 500
}
