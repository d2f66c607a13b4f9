// Package errs defines the error taxonomy shared by repositories, services
// and the HTTP edge. Errors carry a kind that drives retry behavior and the
// HTTP status mapping, plus an optional structured field payload for
// validation failures.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers.
type Kind int

const (
	// KindInternal is an invariant violation or an unknown failure. Never retried.
	KindInternal Kind = iota
	// KindValidation means the input is malformed or violates a business rule.
	KindValidation
	// KindForbidden means the ACL denied the operation.
	KindForbidden
	// KindNotFound means the target entity does not exist.
	KindNotFound
	// KindTransientExternal means an external collaborator failed; safe to retry.
	KindTransientExternal
	// KindConstraints is a repository-level unique/check violation. Services
	// surface it to clients as a validation failure.
	KindConstraints
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindTransientExternal:
		return "transient_external"
	case KindConstraints:
		return "constraints"
	default:
		return "internal"
	}
}

// FieldError is one structured failure attached to a request field.
type FieldError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Params  map[string]string `json:"params,omitempty"`
}

// Error is the tagged error value propagated through the service layer.
type Error struct {
	ErrKind Kind
	Message string
	// Fields maps a field name to its failures; populated for validation
	// and constraint errors.
	Fields map[string][]FieldError
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Message != "" {
			return fmt.Sprintf("%s: %s: %v", e.ErrKind, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.ErrKind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.ErrKind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{ErrKind: kind, Message: msg}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{ErrKind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and context message.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{ErrKind: kind, Message: msg, Err: err}
}

// Internal wraps err as an internal failure.
func Internal(err error, msg string) *Error {
	return Wrap(KindInternal, err, msg)
}

// TransientExternal wraps a collaborator failure.
func TransientExternal(err error, msg string) *Error {
	return Wrap(KindTransientExternal, err, msg)
}

// NotFound reports a missing entity.
func NotFound(entity string) *Error {
	return Newf(KindNotFound, "%s not found", entity)
}

// Forbidden reports an ACL denial.
func Forbidden() *Error {
	return New(KindForbidden, "access denied")
}

// Validation builds a validation error with a single field failure.
func Validation(field, code, msg string) *Error {
	return &Error{
		ErrKind: KindValidation,
		Message: msg,
		Fields:  map[string][]FieldError{field: {{Code: code, Message: msg}}},
	}
}

// ValidationFields builds a validation error from a prepared field map.
func ValidationFields(fields map[string][]FieldError) *Error {
	return &Error{ErrKind: KindValidation, Message: "validation failed", Fields: fields}
}

// Constraint builds a repository constraint error for one field.
func Constraint(field, code, msg string) *Error {
	return &Error{
		ErrKind: KindConstraints,
		Message: msg,
		Fields:  map[string][]FieldError{field: {{Code: code, Message: msg}}},
	}
}

// KindOf extracts the kind of err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.ErrKind
	}
	return KindInternal
}

// FieldsOf extracts the field payload of err, if any.
func FieldsOf(err error) map[string][]FieldError {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

// AsValidation rewrites a constraint error as a client-facing validation
// error; other errors pass through unchanged.
func AsValidation(err error) error {
	var e *Error
	if errors.As(err, &e) && e.ErrKind == KindConstraints {
		return &Error{ErrKind: KindValidation, Message: e.Message, Fields: e.Fields, Err: e.Err}
	}
	return err
}

// HTTPStatus maps an error kind to its response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindConstraints:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindTransientExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsTransient reports whether the error is safe to retry.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransientExternal
}
