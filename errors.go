package billing

import (
	"errors"
	"fmt"

	"github.com/xraph/billing/store"
	"github.com/xraph/billing/types"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound     = errors.New("billing: not found")
	ErrInvalidInput = errors.New("billing: invalid input")

	// Request errors
	ErrAdapterNotFound   = errors.New("billing: adapter not found")
	ErrAdapterExecution  = errors.New("billing: adapter execution failed")
	ErrAccountNotFound   = errors.New("billing: account not found")
	ErrAccountExists     = errors.New("billing: account already exists")
	ErrInsufficientFunds = errors.New("billing: insufficient funds")
	ErrEntryCollision    = errors.New("billing: ledger entry id collision")
	ErrCorruptAccount    = errors.New("billing: account document is malformed")

	// Secure configuration
	ErrConfigNotFound = errors.New("billing: secure config not found")

	// ErrCurrencyMismatch is returned when an adapter prices in a currency
	// other than the account's.
	ErrCurrencyMismatch = types.ErrCurrencyMismatch

	// Store errors
	ErrStoreClosed       = store.ErrClosed
	ErrTransactionFailed = store.ErrTooManyAttempts
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("billing: validation failed for %s: %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// AdapterNotFoundError is returned when no adapter is registered for a
// service id. It is raised before any store interaction.
type AdapterNotFoundError struct {
	ServiceID string
}

func (e *AdapterNotFoundError) Error() string {
	return fmt.Sprintf("billing: adapter not found: %q", e.ServiceID)
}

func (e *AdapterNotFoundError) Unwrap() error { return ErrAdapterNotFound }

// AccountNotFoundError is returned when the account document is missing.
type AccountNotFoundError struct {
	AccountID string
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("billing: account not found: %q", e.AccountID)
}

func (e *AccountNotFoundError) Unwrap() error { return ErrAccountNotFound }

// InsufficientFundsError is returned when a charge would drive the balance
// below zero. Nothing is written.
type InsufficientFundsError struct {
	AccountID string
	Balance   types.Money
	Cost      types.Money
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("billing: insufficient funds: account %q has %s, charge is %s", e.AccountID, e.Balance, e.Cost)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// AdapterExecutionError wraps the failure an adapter returned.
type AdapterExecutionError struct {
	ServiceID string
	Err       error
}

func (e *AdapterExecutionError) Error() string {
	return fmt.Sprintf("billing: adapter %q failed: %v", e.ServiceID, e.Err)
}

func (e *AdapterExecutionError) Unwrap() []error { return []error{ErrAdapterExecution, e.Err} }

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAdapterNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrConfigNotFound)
}

// IsRetryable returns true if the error is temporary and the request may be
// submitted again. The engine itself never resubmits.
func IsRetryable(err error) bool {
	return errors.Is(err, store.ErrTooManyAttempts) ||
		errors.Is(err, store.ErrConflict) ||
		errors.Is(err, ErrEntryCollision)
}
