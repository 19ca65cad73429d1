package tracking

import "errors"

type ErrorCode string

const (
	ErrorCodeValidation           ErrorCode = "validation_error"
	ErrorCodeNotFound             ErrorCode = "not_found"
	ErrorCodeStoreUnavailable     ErrorCode = "store_unavailable"
	ErrorCodeThreadCreationFailed ErrorCode = "thread_creation_failed"
	ErrorCodeDispatchFailed       ErrorCode = "dispatch_failed"
	ErrorCodeInternal             ErrorCode = "internal_error"
)

type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the whole event may be resent.
func (e *Error) Retryable() bool {
	return e.Code == ErrorCodeStoreUnavailable || e.Code == ErrorCodeThreadCreationFailed
}

func newError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the ErrorCode carried by err, or ErrorCodeInternal.
func CodeOf(err error) ErrorCode {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Code
	}
	return ErrorCodeInternal
}
