// Package apperr defines the error taxonomy shared by the token authority,
// the post model, the backends and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for translation into an HTTP response.
type Kind string

// Error kinds
const (
	// KindInvalidRequest is a malformed or semantically invalid request
	KindInvalidRequest Kind = "invalid_request"

	// KindInvalidGrant is a failed authorization code redemption
	KindInvalidGrant Kind = "invalid_grant"

	// KindUnauthorized is a missing, invalid or revoked credential
	KindUnauthorized Kind = "unauthorized"

	// KindInsufficientScope is a valid credential lacking the scope for an action
	KindInsufficientScope Kind = "insufficient_scope"

	// KindNotFound is a missing post, blog, code or staged file
	KindNotFound Kind = "not_found"

	// KindDuplicate is a create that collides with an existing resource
	KindDuplicate Kind = "duplicate"

	// KindBackendFault is a failure talking to a storage backend
	KindBackendFault Kind = "backend_fault"

	// KindConfiguration is a fatal configuration problem
	KindConfiguration Kind = "configuration"
)

// Error is the application error type. Code is the machine readable error
// string placed in the "error" member of JSON error bodies.
type Error struct {
	Kind        Kind
	Code        string
	Description string
	Cause       error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Description, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new error
func New(kind Kind, code, description string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Description: description, Cause: cause}
}

// InvalidRequest creates a new invalid request error
func InvalidRequest(description string) *Error {
	return New(KindInvalidRequest, "invalid_request", description, nil)
}

// InvalidGrant creates a new invalid grant error
func InvalidGrant(description string) *Error {
	return New(KindInvalidGrant, "invalid_grant", description, nil)
}

// Unauthorized creates a new unauthorized error
func Unauthorized(description string) *Error {
	return New(KindUnauthorized, "unauthorized", description, nil)
}

// InsufficientScope creates the error returned when a token may not perform action.
func InsufficientScope(action string) *Error {
	return New(KindInsufficientScope, "insufficient_scope",
		fmt.Sprintf("Access token not valid for action '%s'", action), nil)
}

// NotFound creates a new not found error
func NotFound(description string) *Error {
	return New(KindNotFound, "not_found", description, nil)
}

// DuplicatePost creates the error returned when a post already exists at uri.
func DuplicatePost(uri string) *Error {
	return New(KindDuplicate, "invalid_request",
		fmt.Sprintf("A post with URI %s already exists", uri), nil)
}

// BackendFault creates a new backend fault error
func BackendFault(description string, cause error) *Error {
	return New(KindBackendFault, "backend_fault", description, cause)
}

// Configuration creates a new configuration error
func Configuration(description string) *Error {
	return New(KindConfiguration, "configuration_error", description, nil)
}

// Configurationf creates a new configuration error from a format string
func Configurationf(format string, args ...any) *Error {
	return Configuration(fmt.Sprintf(format, args...))
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind checks if err carries an *Error of the given kind
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// IsConfiguration checks if the error is a configuration error
func IsConfiguration(err error) bool {
	return IsKind(err, KindConfiguration)
}

// Status maps err to an HTTP status code. Errors outside the taxonomy are
// internal server errors.
func Status(err error) int {
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindInvalidRequest, KindInvalidGrant, KindDuplicate:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindInsufficientScope:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
