// Package adapter defines the pluggable unit of billable work and the
// registry the engine resolves service ids against.
package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/billing/request"
	"github.com/xraph/billing/store"
	"github.com/xraph/billing/types"
)

// ErrNoFunc is returned by a Func descriptor with no function set.
var ErrNoFunc = errors.New("adapter: no execute function")

// Adapter performs a unit of work and reports how much of it was consumed.
// UnitPrice is fixed for the lifetime of the adapter.
type Adapter interface {
	ID() string
	Name() string
	UnitPrice() types.Money

	// Execute runs inside the billing transaction. It may read and write
	// through in.Tx; any error aborts the whole request. Execute can run
	// more than once per request when the store retries a conflicting
	// transaction, so side effects outside in.Tx must tolerate repeats.
	Execute(ctx context.Context, in *Input) (*Output, error)
}

// Input is handed to Execute.
type Input struct {
	Request *request.Request
	Tx      store.Tx
}

// Payload returns the caller-supplied payload.
func (in *Input) Payload() any {
	if in == nil || in.Request == nil {
		return nil
	}
	return in.Request.Payload
}

// Output is the result of a successful Execute.
type Output struct {
	Data any

	// EstimatedUnits is the number of billable units consumed. Nil bills
	// exactly one unit.
	EstimatedUnits *int64
}

// Units returns the billable unit count.
func (o *Output) Units() int64 {
	if o == nil || o.EstimatedUnits == nil {
		return 1
	}
	return *o.EstimatedUnits
}

// Units is a helper for building an Output with an explicit unit count.
func Units(n int64) *int64 { return &n }

// Func adapts a plain function into an Adapter.
type Func struct {
	ServiceID   string
	DisplayName string
	Price       types.Money
	Fn          func(ctx context.Context, in *Input) (*Output, error)
}

var _ Adapter = (*Func)(nil)

// ID returns the service id.
func (f *Func) ID() string { return f.ServiceID }

// Name returns the display name, falling back to the service id.
func (f *Func) Name() string {
	if f.DisplayName == "" {
		return f.ServiceID
	}
	return f.DisplayName
}

// UnitPrice returns the fixed price of one unit.
func (f *Func) UnitPrice() types.Money { return f.Price }

// Execute calls Fn, failing with ErrNoFunc when it is unset.
func (f *Func) Execute(ctx context.Context, in *Input) (*Output, error) {
	if f.Fn == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoFunc, f.ServiceID)
	}
	return f.Fn(ctx, in)
}
