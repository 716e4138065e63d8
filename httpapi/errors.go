package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/xraph/billing"
)

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, billing.ErrInvalidInput):
		return http.StatusBadRequest
	case billing.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, billing.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, billing.ErrAccountExists), errors.Is(err, billing.ErrEntryCollision):
		return http.StatusConflict
	case errors.Is(err, billing.ErrCurrencyMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, billing.ErrAdapterExecution):
		return http.StatusBadGateway
	case errors.Is(err, billing.ErrTransactionFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// codeFor returns a stable machine-readable error code.
func codeFor(err error, status int) string {
	switch {
	case errors.Is(err, billing.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, billing.ErrAdapterNotFound):
		return "adapter_not_found"
	case errors.Is(err, billing.ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, billing.ErrConfigNotFound):
		return "config_not_found"
	case errors.Is(err, billing.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, billing.ErrAccountExists):
		return "account_exists"
	case errors.Is(err, billing.ErrEntryCollision):
		return "entry_collision"
	case errors.Is(err, billing.ErrCurrencyMismatch):
		return "currency_mismatch"
	case errors.Is(err, billing.ErrAdapterExecution):
		return "adapter_failed"
	case errors.Is(err, billing.ErrTransactionFailed):
		return "transaction_failed"
	}
	if status == http.StatusBadRequest {
		return "bad_request"
	}
	return "internal"
}
