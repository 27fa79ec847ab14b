package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_ErrorString(t *testing.T) {
	err := InsufficientStock("prod-1", 5, 3)
	assert.Contains(t, err.Error(), "INSUFFICIENT_STOCK")
	assert.Contains(t, err.Error(), "prod-1")
}

func TestAppError_Unwrap(t *testing.T) {
	err := ProductUnavailable("prod-1")
	assert.True(t, errors.Is(err, ErrGone))

	wrapped := fmt.Errorf("validate: %w", err)
	var appErr *AppError
	require.True(t, errors.As(wrapped, &appErr))
	assert.Equal(t, "PRODUCT_UNAVAILABLE", appErr.Code)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Network(errors.New("conn refused"))))
	assert.False(t, IsRetryable(InsufficientStock("p", 2, 1)))
	assert.False(t, IsRetryable(ProductUnavailable("p")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"insufficient stock", InsufficientStock("p", 2, 1), http.StatusConflict},
		{"item not found", ItemNotFound("line-1"), http.StatusNotFound},
		{"validation failed", ValidationFailed("bad shape"), http.StatusBadRequest},
		{"product unavailable", ProductUnavailable("p"), http.StatusGone},
		{"storage unavailable", StorageUnavailable(errors.New("all tiers down")), http.StatusServiceUnavailable},
		{"network", Network(errors.New("timeout")), http.StatusBadGateway},
		{"wrapped sentinel", fmt.Errorf("op: %w", ErrNotFound), http.StatusNotFound},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
		})
	}
}
