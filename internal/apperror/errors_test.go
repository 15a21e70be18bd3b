package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructors_Codes(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		code int
		typ  string
	}{
		{"not found", NewNotFound("x"), http.StatusNotFound, "not_found"},
		{"bad request", NewBadRequest("x"), http.StatusBadRequest, "bad_request"},
		{"unauthorized", NewUnauthorized("x"), http.StatusUnauthorized, "unauthorized"},
		{"forbidden", NewForbidden("x"), http.StatusForbidden, "forbidden"},
		{"conflict", NewConflict("x"), http.StatusConflict, "conflict"},
		{"rate limited", NewTooManyRequests("x"), http.StatusTooManyRequests, "rate_limited"},
		{"internal", NewInternal(errors.New("boom")), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.typ, tt.err.Type)
		})
	}
}

func TestInternal_HidesCause(t *testing.T) {
	cause := errors.New("table users does not exist")
	err := NewInternal(cause)

	assert.NotContains(t, SafeMessage(err), "users")
	assert.ErrorIs(t, err, cause)
}

func TestSafeMessage_Wrapped(t *testing.T) {
	err := fmt.Errorf("loading: %w", NewForbidden("admins only"))

	assert.Equal(t, "admins only", SafeMessage(err))
	assert.Equal(t, http.StatusForbidden, SafeCode(err))
}

func TestSafeMessage_PlainError(t *testing.T) {
	err := errors.New("dial tcp 10.0.0.3:3306: connection refused")

	assert.Equal(t, "an unexpected error occurred", SafeMessage(err))
	assert.Equal(t, http.StatusInternalServerError, SafeCode(err))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(NewNotFound("user not found")))
	assert.True(t, IsNotFound(fmt.Errorf("wrapped: %w", NewNotFound("gone"))))
	assert.False(t, IsNotFound(NewBadRequest("nope")))
	assert.False(t, IsNotFound(nil))
}
