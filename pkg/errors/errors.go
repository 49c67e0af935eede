package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"lancast/internal/core/domain"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotConfigured      ErrorCode = "NO_SESSION_CONFIGURED"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeBadGateway         ErrorCode = "BAD_GATEWAY"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus}
}

func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus, Cause: err}
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

// FromDomain maps control-plane errors onto API errors. Unknown errors become
// internal errors.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr
	}

	switch {
	case stderrors.Is(err, domain.ErrInvalidAddress),
		stderrors.Is(err, domain.ErrInvalidRegion),
		stderrors.Is(err, domain.ErrInvalidSource):
		return WrapError(err, ErrCodeInvalidInput, "invalid request", http.StatusBadRequest)
	case stderrors.Is(err, domain.ErrNoSessionConfigured):
		return WrapError(err, ErrCodeNotConfigured, "select a role first", http.StatusPreconditionFailed)
	case stderrors.Is(err, domain.ErrSessionActive),
		stderrors.Is(err, domain.ErrNotCasting),
		stderrors.Is(err, domain.ErrWrongRole):
		return WrapError(err, ErrCodeConflict, "operation not allowed in current session state", http.StatusConflict)
	case stderrors.Is(err, domain.ErrConnectRefused):
		return WrapError(err, ErrCodeBadGateway, "caster unreachable", http.StatusBadGateway)
	case stderrors.Is(err, domain.ErrBind):
		return WrapError(err, ErrCodeServiceUnavailable, "signaling port unavailable", http.StatusServiceUnavailable)
	case domain.IsPipelineError(err):
		return WrapError(err, ErrCodeInternal, "media pipeline failure", http.StatusInternalServerError)
	default:
		return WrapError(err, ErrCodeInternal, "internal error", http.StatusInternalServerError)
	}
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}
