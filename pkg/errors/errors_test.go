package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"meetsfu/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeNotFound, "room missing", http.StatusNotFound)
	assert.Equal(t, "NOT_FOUND: room missing", err.Error())

	wrapped := WrapError(errors.New("boom"), ErrCodeInternal, "failed", http.StatusInternalServerError)
	assert.Contains(t, wrapped.Error(), "caused by: boom")
	assert.EqualError(t, wrapped.Unwrap(), "boom")
}

func TestAppError_WithContext(t *testing.T) {
	err := NewInvalidInputError("bad").WithContext("field", "roomId")
	assert.Equal(t, "roomId", err.Context["field"])

	bare := &AppError{Code: ErrCodeInternal}
	bare.WithContext("k", 1)
	assert.Equal(t, 1, bare.Context["k"])
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		err    *AppError
		code   ErrorCode
		status int
	}{
		{NewInvalidInputError("x"), ErrCodeInvalidInput, http.StatusBadRequest},
		{NewNotFoundError("room"), ErrCodeNotFound, http.StatusNotFound},
		{NewUnauthorizedError("x"), ErrCodeUnauthorized, http.StatusUnauthorized},
		{NewForbiddenError("x"), ErrCodeForbidden, http.StatusForbidden},
		{NewRateLimitError(), ErrCodeRateLimit, http.StatusTooManyRequests},
		{NewInternalError("x"), ErrCodeInternal, http.StatusInternalServerError},
		{NewServiceUnavailableError("x"), ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
		})
	}
	assert.Equal(t, "room not found", NewNotFoundError("room").Message)
}

func TestGetAppError(t *testing.T) {
	appErr := NewForbiddenError("no")
	assert.True(t, IsAppError(appErr))
	assert.Same(t, appErr, GetAppError(fmt.Errorf("outer: %w", appErr)))

	assert.False(t, IsAppError(errors.New("plain")))
	assert.Nil(t, GetAppError(errors.New("plain")))
}

func TestFromDomain(t *testing.T) {
	tests := []struct {
		err  error
		code ErrorCode
	}{
		{domain.ErrRoomNotFound, ErrCodeRoomNotFound},
		{domain.ErrRoomFull, ErrCodeRoomFull},
		{domain.ErrRoomLocked, ErrCodeRoomLocked},
		{domain.ErrForbidden, ErrCodeForbidden},
		{domain.ErrCapabilitiesMismatch, ErrCodeCapabilitiesMismatch},
		{domain.ErrResourceExhausted, ErrCodeResourceExhausted},
		{domain.ErrHandleClosedRace, ErrCodeHandleClosed},
		{domain.ErrTransportTimeout, ErrCodeTimeout},
		{domain.ErrProducerNotFound, ErrCodeNotFound},
		{domain.ErrAlreadyJoined, ErrCodeConflict},
		{domain.ErrWrongDirection, ErrCodeInvalidInput},
		{fmt.Errorf("decode: %w", domain.ErrInvalidParameters), ErrCodeInvalidInput},
		{context.DeadlineExceeded, ErrCodeTimeout},
		{errors.New("unexpected"), ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			appErr := FromDomain(tt.err)
			require.NotNil(t, appErr)
			assert.Equal(t, tt.code, appErr.Code)
			assert.ErrorIs(t, appErr, tt.err)
		})
	}

	assert.Nil(t, FromDomain(nil))

	existing := NewRateLimitError()
	assert.Same(t, existing, FromDomain(existing))
	assert.Equal(t, "internal error", FromDomain(errors.New("secret detail")).Message)
}
