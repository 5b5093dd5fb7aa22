package errors

import (
	stderrors "errors"
	"net/http"
)

type ErrorType string

const (
	ErrorTypeNotFound         ErrorType = "NOT_FOUND"
	ErrorTypeValidation       ErrorType = "VALIDATION"
	ErrorTypeInternal         ErrorType = "INTERNAL"
	ErrorTypeMalformedRequest ErrorType = "MALFORMED_REQUEST"
	ErrorTypeInvalidRange     ErrorType = "INVALID_RANGE"
	ErrorTypeLock             ErrorType = "LOCK"
	ErrorTypeRead             ErrorType = "READ"
	ErrorTypeChecksumMismatch ErrorType = "CHECKSUM_MISMATCH"
	ErrorTypeWrite            ErrorType = "WRITE"
	ErrorTypeVersioning       ErrorType = "VERSIONING"
)

type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"-"`
	Details any       `json:"details,omitempty"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(t ErrorType, code int, message string, err error) *Error {
	return &Error{
		Type:    t,
		Message: message,
		Code:    code,
		Err:     err,
	}
}

func NotFound(message string) *Error {
	return newError(ErrorTypeNotFound, http.StatusNotFound, message, nil)
}

func ValidationError(message string, details any) *Error {
	e := newError(ErrorTypeValidation, http.StatusBadRequest, message, nil)
	e.Details = details
	return e
}

func Internal(message string, err error) *Error {
	return newError(ErrorTypeInternal, http.StatusInternalServerError, message, err)
}

// MalformedRequest reports a request body that could not be decoded into
// its typed form. field is empty when the body as a whole is unusable.
func MalformedRequest(field, message string) *Error {
	e := newError(ErrorTypeMalformedRequest, http.StatusBadRequest, message, nil)
	if field != "" {
		e.Details = map[string]string{"field": field}
	}
	return e
}

func InvalidRange(message string, details any) *Error {
	e := newError(ErrorTypeInvalidRange, http.StatusBadRequest, message, nil)
	e.Details = details
	return e
}

func LockError(message string, err error) *Error {
	return newError(ErrorTypeLock, http.StatusInternalServerError, message, err)
}

func ReadError(message string, err error) *Error {
	return newError(ErrorTypeRead, http.StatusInternalServerError, message, err)
}

// ChecksumMismatch is returned when the client's view of the document was
// stale. Both values travel in Details so the caller can log them.
func ChecksumMismatch(expected, actual uint32) *Error {
	e := newError(ErrorTypeChecksumMismatch, http.StatusConflict, "checksum mismatch", nil)
	e.Details = map[string]uint32{
		"expected": expected,
		"actual":   actual,
	}
	return e
}

func WriteError(message string, err error) *Error {
	return newError(ErrorTypeWrite, http.StatusInternalServerError, message, err)
}

func VersioningError(message string, err error) *Error {
	return newError(ErrorTypeVersioning, http.StatusInternalServerError, message, err)
}

// TypeOf returns the ErrorType of the first *Error in err's chain, or
// ErrorTypeInternal when there is none.
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

func Is(err error, t ErrorType) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Type == t
}

// StatusCode maps err to the HTTP status a handler should reply with.
func StatusCode(err error) int {
	var e *Error
	if stderrors.As(err, &e) && e.Code != 0 {
		return e.Code
	}
	return http.StatusInternalServerError
}

// As is re-exported so callers importing this package under the name
// "errors" keep access to the standard helper.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
