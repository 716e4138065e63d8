// Package echo provides a trivial adapter that returns its payload. It is
// the default service of a fresh daemon and a fixture for tests.
package echo

import (
	"context"

	"github.com/xraph/billing/adapter"
	"github.com/xraph/billing/store"
	"github.com/xraph/billing/types"
)

// DefaultID is the service id used when none is configured.
const DefaultID = "echo"

// Adapter echoes the request payload back as its result.
//
// When the payload is an object carrying an integral "units" field, that
// many units are billed; otherwise one.
type Adapter struct {
	id    string
	name  string
	price types.Money
}

var _ adapter.Adapter = (*Adapter)(nil)

// New returns an echo adapter registered under id.
func New(id string, price types.Money) *Adapter {
	if id == "" {
		id = DefaultID
	}
	return &Adapter{id: id, name: "Echo", price: price}
}

func (a *Adapter) ID() string             { return a.id }
func (a *Adapter) Name() string           { return a.name }
func (a *Adapter) UnitPrice() types.Money { return a.price }

// Execute implements adapter.Adapter.
func (a *Adapter) Execute(_ context.Context, in *adapter.Input) (*adapter.Output, error) {
	payload := in.Payload()
	out := &adapter.Output{Data: payload}

	if m, ok := payload.(map[string]any); ok {
		if n, ok := store.Int64(m, "units"); ok {
			out.EstimatedUnits = adapter.Units(n)
		}
	}
	return out, nil
}
