package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies task and API failures so callers can branch on the
// category without string matching.
type Kind string

const (
	KindModelLoad   Kind = "model_load"
	KindInference   Kind = "inference"
	KindPersistence Kind = "persistence"
	KindBadRequest  Kind = "bad_request"
	KindNotFound    Kind = "not_found"
	KindInternal    Kind = "internal"
)

// Error carries a failure kind, an operator-facing message and the cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// HTTPStatus maps the failure kind onto a response status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ModelLoad marks a model or device acquisition failure. Fatal to the
// task, never retried.
func ModelLoad(err error, format string, args ...any) *Error {
	return &Error{Kind: KindModelLoad, Message: fmt.Sprintf(format, args...), Err: err}
}

// Inference marks a transcription failure after fallback was exhausted.
func Inference(err error, format string, args ...any) *Error {
	return &Error{Kind: KindInference, Message: fmt.Sprintf(format, args...), Err: err}
}

// Persistence marks an output write failure.
func Persistence(err error, format string, args ...any) *Error {
	return &Error{Kind: KindPersistence, Message: fmt.Sprintf(format, args...), Err: err}
}

// BadRequest marks an invalid API request.
func BadRequest(format string, args ...any) *Error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

// NotFound marks a missing file or task.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the failure kind, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Sentinels shared across the queue and worker packages.
var (
	ErrQueueEmpty   = errors.New("queue empty")
	ErrTaskActive   = errors.New("a task is already active")
	ErrTaskNotFound = errors.New("task not found")
)
