// Package apperr defines the error taxonomy shared by the identity service layers.
package apperr

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeBadRequest      Code = "BAD_REQUEST"
	CodeUserNotFound    Code = "USER_NOT_FOUND"
	CodeUserNameExisted Code = "USER_NAME_EXISTED"
	CodeEmailExisted    Code = "EMAIL_EXISTED"
	CodeUnknownStatus   Code = "UNKNOWN_STATUS"
	CodeUnknownReason   Code = "UNKNOWN_REASON"
	CodeUnknownRole     Code = "UNKNOWN_ROLE"
	CodeInternal        Code = "INTERNAL_SERVER_ERROR"
)

// internalMessage is the only text callers ever see for internal faults.
const internalMessage = "internal server error, please try again"

// HTTPStatus maps the code to an HTTP status.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeBadRequest, CodeUnknownStatus, CodeUnknownReason, CodeUnknownRole:
		return http.StatusBadRequest
	case CodeUserNotFound:
		return http.StatusNotFound
	case CodeUserNameExisted, CodeEmailExisted:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// GRPCCode maps the code to a gRPC status code.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeBadRequest, CodeUnknownStatus, CodeUnknownReason, CodeUnknownRole:
		return codes.InvalidArgument
	case CodeUserNotFound:
		return codes.NotFound
	case CodeUserNameExisted, CodeEmailExisted:
		return codes.AlreadyExists
	default:
		return codes.Internal
	}
}

// Error is the domain error type carried across the service layers.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil && e.Code == CodeInternal {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Public returns the message safe to hand to a remote caller.
func (e *Error) Public() string {
	if e.Code == CodeInternal {
		return internalMessage
	}
	return e.Message
}

// Sentinels usable with errors.Is.
var (
	ErrBadRequest      = &Error{Code: CodeBadRequest, Message: "bad request"}
	ErrUserNotFound    = &Error{Code: CodeUserNotFound, Message: "user not found"}
	ErrUserNameExisted = &Error{Code: CodeUserNameExisted, Message: "user name already exists"}
	ErrEmailExisted    = &Error{Code: CodeEmailExisted, Message: "email already exists"}
	ErrUnknownStatus   = &Error{Code: CodeUnknownStatus, Message: "user status not found"}
	ErrUnknownReason   = &Error{Code: CodeUnknownReason, Message: "user reason of status not found"}
	ErrUnknownRole     = &Error{Code: CodeUnknownRole, Message: "user role not found"}
	ErrInternal        = &Error{Code: CodeInternal, Message: internalMessage}
)

// BadRequest reports an input validation failure.
func BadRequest(msg string) *Error {
	return &Error{Code: CodeBadRequest, Message: msg}
}

// UserNotFound reports a lookup miss.
func UserNotFound() *Error {
	return &Error{Code: CodeUserNotFound, Message: "user not found"}
}

// UserNameExisted reports a create rejected because the user name is taken.
func UserNameExisted(name string) *Error {
	return &Error{Code: CodeUserNameExisted, Message: name + " already exists"}
}

// EmailExisted reports a create rejected because the email is taken.
func EmailExisted(email string) *Error {
	return &Error{Code: CodeEmailExisted, Message: email + " already exists"}
}

// Internal wraps a store or transport fault.
func Internal(cause error) *Error {
	return &Error{Code: CodeInternal, Message: "internal server error", Cause: cause}
}

// CodeOf extracts the code of err, defaulting to CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// As converts any error into an *Error, wrapping foreign errors as internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}
