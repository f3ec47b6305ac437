package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"meetsfu/internal/core/domain"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput         ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound             ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized         ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden            ErrorCode = "FORBIDDEN"
	ErrCodeConflict             ErrorCode = "CONFLICT"
	ErrCodeRateLimit            ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal             ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable   ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeRoomNotFound         ErrorCode = "ROOM_NOT_FOUND"
	ErrCodeRoomFull             ErrorCode = "ROOM_FULL"
	ErrCodeRoomLocked           ErrorCode = "ROOM_LOCKED"
	ErrCodeCapabilitiesMismatch ErrorCode = "CAPABILITIES_MISMATCH"
	ErrCodeResourceExhausted    ErrorCode = "RESOURCE_EXHAUSTED"
	ErrCodeHandleClosed         ErrorCode = "HANDLE_CLOSED"
	ErrCodeTimeout              ErrorCode = "TIMEOUT"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

// Common error constructors
func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewForbiddenError(message string) *AppError {
	return NewAppError(ErrCodeForbidden, message, http.StatusForbidden)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

type domainMapping struct {
	target error
	code   ErrorCode
	status int
}

// ordered: the first match wins
var domainMappings = []domainMapping{
	{domain.ErrRoomNotFound, ErrCodeRoomNotFound, http.StatusNotFound},
	{domain.ErrRoomFull, ErrCodeRoomFull, http.StatusConflict},
	{domain.ErrRoomLocked, ErrCodeRoomLocked, http.StatusForbidden},
	{domain.ErrForbidden, ErrCodeForbidden, http.StatusForbidden},
	{domain.ErrCapabilitiesMismatch, ErrCodeCapabilitiesMismatch, http.StatusUnprocessableEntity},
	{domain.ErrResourceExhausted, ErrCodeResourceExhausted, http.StatusServiceUnavailable},
	{domain.ErrHandleClosedRace, ErrCodeHandleClosed, http.StatusGone},
	{domain.ErrHandleClosed, ErrCodeHandleClosed, http.StatusGone},
	{domain.ErrPeerClosed, ErrCodeHandleClosed, http.StatusGone},
	{domain.ErrTransportTimeout, ErrCodeTimeout, http.StatusGatewayTimeout},
	{domain.ErrWorkerNotFound, ErrCodeNotFound, http.StatusNotFound},
	{domain.ErrRouterNotFound, ErrCodeNotFound, http.StatusNotFound},
	{domain.ErrTransportNotFound, ErrCodeNotFound, http.StatusNotFound},
	{domain.ErrProducerNotFound, ErrCodeNotFound, http.StatusNotFound},
	{domain.ErrConsumerNotFound, ErrCodeNotFound, http.StatusNotFound},
	{domain.ErrPeerNotFound, ErrCodeNotFound, http.StatusNotFound},
	{domain.ErrPeerNotJoined, ErrCodeConflict, http.StatusConflict},
	{domain.ErrAlreadyJoined, ErrCodeConflict, http.StatusConflict},
	{domain.ErrRoomMismatch, ErrCodeInvalidInput, http.StatusBadRequest},
	{domain.ErrWrongDirection, ErrCodeInvalidInput, http.StatusBadRequest},
	{domain.ErrInvalidParameters, ErrCodeInvalidInput, http.StatusBadRequest},
}

// FromDomain converts any error into an AppError carrying its wire code.
// Unknown errors become INTERNAL_ERROR; context errors become TIMEOUT.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr
	}
	for _, m := range domainMappings {
		if stderrors.Is(err, m.target) {
			return WrapError(err, m.code, err.Error(), m.status)
		}
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return WrapError(err, ErrCodeTimeout, err.Error(), http.StatusGatewayTimeout)
	}
	return WrapError(err, ErrCodeInternal, "internal error", http.StatusInternalServerError)
}
