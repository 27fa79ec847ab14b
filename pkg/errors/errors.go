package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard sentinel errors for common cases.
var (
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrConflict          = errors.New("conflict")
	ErrGone              = errors.New("resource no longer exists")
	ErrInternal          = errors.New("internal error")
	ErrServiceUnavail    = errors.New("service unavailable")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrStorageUnavail    = errors.New("storage unavailable")
	ErrDataCorrupted     = errors.New("data corrupted")
	ErrNetwork           = errors.New("network error")
)

// AppError represents a structured application error with HTTP status mapping.
// Retryable marks failures that are worth re-invoking with the same arguments
// (transient network faults, downstream 5xx); callers attach retry actions to
// notifications based on it.
type AppError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Status    int    `json:"-"`
	Retryable bool   `json:"-"`
	Err       error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// Conflict creates a 409 error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// Gone creates a 410 error for resources that existed once and were removed.
func Gone(message string) *AppError {
	return &AppError{
		Code:    "GONE",
		Message: message,
		Status:  http.StatusGone,
		Err:     ErrGone,
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// InsufficientStock creates a 409 error for a quantity that exceeds available stock.
func InsufficientStock(productID string, requested, available int) *AppError {
	return &AppError{
		Code:    "INSUFFICIENT_STOCK",
		Message: fmt.Sprintf("only %d of product %s available (requested %d)", available, productID, requested),
		Status:  http.StatusConflict,
		Err:     ErrInsufficientStock,
	}
}

// ItemNotFound creates a 404 error for an unknown cart line id.
func ItemNotFound(lineID string) *AppError {
	return &AppError{
		Code:    "ITEM_NOT_FOUND",
		Message: fmt.Sprintf("cart item %s not found", lineID),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// ValidationFailed creates a 400 error carrying every shape violation found.
func ValidationFailed(message string) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// ProductUnavailable creates a 410 error for a product the catalog no longer
// knows. This is a terminal outcome, never retried.
func ProductUnavailable(productID string) *AppError {
	return &AppError{
		Code:    "PRODUCT_UNAVAILABLE",
		Message: fmt.Sprintf("product %s is no longer available", productID),
		Status:  http.StatusGone,
		Err:     ErrGone,
	}
}

// StorageUnavailable creates a 503 error raised when every storage tier failed.
func StorageUnavailable(err error) *AppError {
	return &AppError{
		Code:    "STORAGE_UNAVAILABLE",
		Message: "no storage tier is available; changes will not survive a restart",
		Status:  http.StatusServiceUnavailable,
		Err:     errors.Join(ErrStorageUnavail, err),
	}
}

// DataCorrupted creates a 500 error for a persisted payload that could not be parsed.
func DataCorrupted(err error) *AppError {
	return &AppError{
		Code:    "DATA_CORRUPTED",
		Message: "stored cart data could not be parsed",
		Status:  http.StatusInternalServerError,
		Err:     errors.Join(ErrDataCorrupted, err),
	}
}

// Network creates a retryable 502 error for transient transport failures.
func Network(err error) *AppError {
	return &AppError{
		Code:      "NETWORK_ERROR",
		Message:   "a network error occurred; please try again",
		Status:    http.StatusBadGateway,
		Retryable: true,
		Err:       errors.Join(ErrNetwork, err),
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// IsRetryable reports whether the error is a transient failure worth retrying
// with the original arguments.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return errors.Is(err, ErrNetwork)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrGone):
		return http.StatusGone
	case errors.Is(err, ErrServiceUnavail), errors.Is(err, ErrStorageUnavail):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
