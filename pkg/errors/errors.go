package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Announcement workflow errors. Codes mirror the wire contract consumed by
// the dashboard client.
var (
	ErrAnnouncementNotFound      = New("ANNOUNCEMENT_NOT_FOUND", http.StatusNotFound, "announcement not found")
	ErrRequestNotFound           = New("REQUEST_NOT_FOUND", http.StatusNotFound, "request not found")
	ErrUserNotFound              = New("USER_NOT_FOUND", http.StatusNotFound, "user not found")
	ErrDeviceNotFound            = New("DEVICE_NOT_FOUND", http.StatusNotFound, "device not found")
	ErrInvalidDeviceIDs          = New("INVALID_DEVICE_IDS", http.StatusNotFound, "one or more device ids do not exist")
	ErrInvalidAnnouncementStatus = New("INVALID_ANNOUNCEMENT_STATUS", http.StatusConflict, "announcement status does not allow this action")
	ErrRequestAlreadyApproved    = New("REQUEST_ALREADY_APPROVED", http.StatusConflict, "request already approved")
	ErrUserForbiddenToApprove    = New("USER_FORBIDDEN_TO_APPROVE", http.StatusForbidden, "user is not allowed to approve a request")
	ErrInvalidExtendedEndDate    = New("INVALID_EXTENDED_END_DATE", http.StatusBadRequest, "extended end date must be after the current end date")
)
