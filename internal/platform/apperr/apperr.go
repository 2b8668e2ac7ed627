// Package apperr defines the error taxonomy shared by every service and the
// HTTP layer: validation, conflict, not-found, authorization and remote
// failures, each mapped to a single HTTP status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindAuthorization
	KindUnauthenticated
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindAuthorization:
		return "authorization"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindRemote:
		return "remote"
	default:
		return "internal"
	}
}

// HTTPStatus returns the status code used when an error of this kind reaches a client.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindAuthorization:
		return http.StatusForbidden
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindRemote:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Conflict codes.
const (
	CodeBedOccupied           = "BED_OCCUPIED"
	CodeAlreadyAdmitted       = "ALREADY_ADMITTED"
	CodePatientDischarged     = "PATIENT_DISCHARGED"
	CodeDuplicateEmployeeCode = "DUPLICATE_EMPLOYEE_CODE"
	CodeLastAdmin             = "LAST_ADMIN"
	CodeInvalidTransition     = "INVALID_TRANSITION"
)

// Error is an application error with a kind, a machine-readable code and an
// optional wrapped cause.
type Error struct {
	Kind    Kind              `json:"-"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation reports a missing or out-of-range field. It is raised before any
// remote call is made.
func Validation(message string, details map[string]string) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    "VALIDATION_ERROR",
		Message: message,
		Details: details,
	}
}

// Conflict reports a rejected operation that the caller should not retry as-is.
func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found", resource),
		Details: map[string]string{"resource": resource, "id": id},
	}
}

// Forbidden reports a role that lacks the capability for an action.
func Forbidden(message string) *Error {
	return &Error{Kind: KindAuthorization, Code: "FORBIDDEN", Message: message}
}

// Unauthenticated reports a missing, invalid or expired session.
func Unauthenticated(message string) *Error {
	return &Error{Kind: KindUnauthenticated, Code: "UNAUTHENTICATED", Message: message}
}

// Remote wraps a store failure (unreachable or rejected write).
func Remote(err error, message string) *Error {
	return &Error{Kind: KindRemote, Code: "REMOTE_ERROR", Message: message, Err: err}
}

// BedOccupied is returned when a bed already has an active occupant.
func BedOccupied(bed string) *Error {
	e := Conflict(CodeBedOccupied, "bed is already occupied")
	e.Details = map[string]string{"bed_number": bed}
	return e
}

// KindOf returns the kind of err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err is an application error of the given kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

// HasCode reports whether err is an application error carrying code.
func HasCode(err error, code string) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Code == code
}
