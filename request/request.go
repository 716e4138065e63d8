// Package request describes a service request as it moves through the
// engine, and the outcome reported to plugins once it settles.
package request

import (
	"time"

	"github.com/xraph/billing/entry"
	"github.com/xraph/billing/id"
)

// State is a lifecycle stage of a request. States are never persisted.
type State string

const (
	StateReceived           State = "received"
	StateAdapterExecuting   State = "adapter_executing"
	StateBillingReconciling State = "billing_reconciling"
	StateCommitted          State = "committed"
	StateAborted            State = "aborted"
)

// Terminal reports whether s ends the lifecycle.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateAborted
}

// Request is an ephemeral instruction to run one service for one account.
// Adapters receive it as input; its lifecycle is tracked separately by the
// engine in a Lifecycle.
type Request struct {
	ID         id.RequestID `json:"id"`
	AccountID  string       `json:"account_id"`
	ServiceID  string       `json:"service_id"`
	Payload    any          `json:"payload,omitempty"`
	ReceivedAt time.Time    `json:"received_at"`
}

// New returns a request stamped with a fresh id.
func New(accountID, serviceID string, payload any, now time.Time) *Request {
	return &Request{
		ID:         id.NewRequestID(),
		AccountID:  accountID,
		ServiceID:  serviceID,
		Payload:    payload,
		ReceivedAt: now,
	}
}

// Lifecycle tracks the state of one request, starting at StateReceived.
type Lifecycle struct {
	state State
}

// NewLifecycle returns a lifecycle in StateReceived.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateReceived}
}

// State returns the current lifecycle stage.
func (l *Lifecycle) State() State { return l.state }

// Advance moves the lifecycle to next. Terminal states are sticky.
func (l *Lifecycle) Advance(next State) bool {
	if l.state.Terminal() {
		return false
	}
	l.state = next
	return true
}

// Outcome is what plugins observe once a request settles.
type Outcome struct {
	Request *Request
	State   State

	// Stage is the last non-terminal state reached; for an aborted request
	// it tells which step failed.
	Stage State

	Entry    *entry.Entry // nil unless committed
	Attempts int
	Err      error
	Elapsed  time.Duration
}
