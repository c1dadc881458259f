package api

import (
	"fmt"

	"github.com/pkg/errors"
)

type ErrorCode string

const (
	// InvalidArgumentErrorCode is used when a required value is missing or empty.
	InvalidArgumentErrorCode ErrorCode = "INVALID_ARGUMENT"

	// ConfigurationErrorCode is used when the static configuration is missing or contradictory.
	ConfigurationErrorCode ErrorCode = "CONFIGURATION_ERROR"

	// AuthenticationFailedErrorCode is used when the grid rejects the credentials.
	AuthenticationFailedErrorCode ErrorCode = "AUTHENTICATION_FAILED"

	// TransportErrorCode is used for network or grid protocol failures.
	TransportErrorCode ErrorCode = "TRANSPORT_ERROR"

	PathResolutionErrorCode ErrorCode = "PATH_RESOLUTION_ERROR"

	DirectoryCreationErrorCode ErrorCode = "DIRECTORY_CREATION_ERROR"

	DeletionErrorCode ErrorCode = "DELETION_ERROR"

	// UnsupportedDestinationTypeErrorCode is used when a move or copy targets
	// something that is not a collection of this server.
	UnsupportedDestinationTypeErrorCode ErrorCode = "UNSUPPORTED_DESTINATION_TYPE"

	NotFoundErrorCode ErrorCode = "NOT_FOUND"

	// AlreadyExistsErrorCode is used when a create targets an existing entry.
	AlreadyExistsErrorCode ErrorCode = "ALREADY_EXISTS"

	AlreadyLockedErrorCode ErrorCode = "ALREADY_LOCKED"

	LockPreconditionFailedErrorCode ErrorCode = "LOCK_PRECONDITION_FAILED"

	NotAuthorizedForLockErrorCode ErrorCode = "NOT_AUTHORIZED_FOR_LOCK"

	// NoActiveSessionErrorCode requires a session in the context. Seeing it
	// means a handler ran outside the session filters.
	NoActiveSessionErrorCode ErrorCode = "NO_ACTIVE_SESSION"

	FileSizeExceedsMaximumErrorCode ErrorCode = "FILE_SIZE_EXCEEDS_MAXIMUM"

	// BadRequestErrorCode is used when the client supplied stream could not be consumed.
	BadRequestErrorCode ErrorCode = "BAD_REQUEST"

	CacheInitializationErrorCode ErrorCode = "CACHE_INITIALIZATION_ERROR"

	UnknownError ErrorCode = "UNKNOWN"
)

func NewError(code ErrorCode) AppError {
	return AppError{Code: code}
}

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e AppError) WithMessage(msg string) AppError {
	e.Message = msg
	return e
}

func (e AppError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

// IsErrorCode reports whether err, or the cause it wraps, is an AppError
// with the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// GetErrorCode returns the code of the AppError behind err. Errors that are
// not AppErrors report UnknownError.
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	apiErr, ok := errors.Cause(err).(AppError)
	if !ok {
		return UnknownError
	}
	return apiErr.Code
}

// Wrap classifies err under code keeping its text. AppErrors already in the
// taxonomy pass through unchanged so the original classification survives
// crossing component boundaries.
func Wrap(err error, code ErrorCode, msg string) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.Cause(err).(AppError); ok {
		return err
	}
	return NewError(code).WithMessage(fmt.Sprintf("%s: %s", msg, err.Error()))
}
