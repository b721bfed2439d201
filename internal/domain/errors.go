package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failures the stack manager reports.
type ErrorKind string

const (
	KindAlreadyExists            ErrorKind = "ALREADY_EXISTS"
	KindNoSuchObject             ErrorKind = "NO_SUCH_OBJECT"
	KindPermissionDenied         ErrorKind = "PERMISSION_DENIED"
	KindInsufficientCapabilities ErrorKind = "INSUFFICIENT_CAPABILITIES"
	KindLimitExceeded            ErrorKind = "LIMIT_EXCEEDED"
	KindUnknownParameter         ErrorKind = "UNKNOWN_PARAMETER"
	KindInvalidInput             ErrorKind = "INVALID_INPUT"
	KindUnknownError             ErrorKind = "UNKNOWN_ERROR"
)

// Sentinel errors, one per kind. errors.Is matches any *Error of the same kind.
var (
	ErrAlreadyExists            = &Error{Kind: KindAlreadyExists, Message: "a stack with that name already exists"}
	ErrNoSuchObject             = &Error{Kind: KindNoSuchObject, Message: "no such stack"}
	ErrPermissionDenied         = &Error{Kind: KindPermissionDenied, Message: "permission denied"}
	ErrInsufficientCapabilities = &Error{Kind: KindInsufficientCapabilities, Message: "the template requires capabilities that were not granted"}
	ErrLimitExceeded            = &Error{Kind: KindLimitExceeded, Message: "a quota for the resource has been reached"}
	ErrUnknownParameter         = &Error{Kind: KindUnknownParameter, Message: "parameters are not defined in the template"}
	ErrInvalidInput             = &Error{Kind: KindInvalidInput, Message: "invalid input"}
	ErrUnknown                  = &Error{Kind: KindUnknownError, Message: "an unknown error occurred"}
)

// Conditions that refine a kind. They are wrapped by an *Error and can be
// matched with errors.Is.
var (
	// ErrStackInconsistent means the stack rolled back its creation and can
	// only be deleted and created again. Retrying the update never helps.
	ErrStackInconsistent = errors.New("stack is in an inconsistent state (ROLLBACK_COMPLETE), delete and re-create it")

	// ErrNoChanges means an update did not change any parameter or template.
	ErrNoChanges = errors.New("no updates are to be performed")
)

// Error is a failure reported to callers. Message is safe to return to the
// caller; Err carries the underlying cause for logging only.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError creates an error of the given kind. An empty message uses the
// default message of the kind.
func NewError(kind ErrorKind, message string, cause error) *Error {
	if message == "" {
		message = DefaultMessage(kind)
	}
	return &Error{Kind: kind, Message: message, Err: cause}
}

// InvalidInput is a shorthand for a KindInvalidInput error with a message.
func InvalidInput(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// DefaultMessage returns the generic message of a kind.
func DefaultMessage(kind ErrorKind) string {
	switch kind {
	case KindAlreadyExists:
		return ErrAlreadyExists.Message
	case KindNoSuchObject:
		return ErrNoSuchObject.Message
	case KindPermissionDenied:
		return ErrPermissionDenied.Message
	case KindInsufficientCapabilities:
		return ErrInsufficientCapabilities.Message
	case KindLimitExceeded:
		return ErrLimitExceeded.Message
	case KindUnknownParameter:
		return ErrUnknownParameter.Message
	case KindInvalidInput:
		return ErrInvalidInput.Message
	default:
		return ErrUnknown.Message
	}
}

// AsError returns the *Error in err's chain, or an UnknownError wrapping err
// when there is none.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{Kind: KindUnknownError, Message: ErrUnknown.Message, Err: err}
}

// StandardError is the error body returned by the API.
type StandardError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// StandardErrorResponse wraps a StandardError for JSON responses.
type StandardErrorResponse struct {
	Error StandardError `json:"error"`
}
