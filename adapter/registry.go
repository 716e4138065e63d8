package adapter

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrInvalid is returned when an adapter can never produce a valid bill.
var ErrInvalid = errors.New("adapter: invalid descriptor")

// Registry maps service ids to adapters. Registration overwrites; there is
// no removal.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register stores a under a.ID(), replacing any adapter with the same id.
func (r *Registry) Register(a Adapter) error {
	if err := Validate(a); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.ID()] = a
	return nil
}

// Lookup returns the adapter registered under serviceID.
func (r *Registry) Lookup(serviceID string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[serviceID]
	return a, ok
}

// List returns every adapter ordered by id.
func (r *Registry) List() []Adapter {
	r.mu.RLock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}

// Validate checks the static descriptor of an adapter.
func Validate(a Adapter) error {
	if a == nil {
		return fmt.Errorf("%w: nil adapter", ErrInvalid)
	}
	serviceID := a.ID()
	if serviceID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalid)
	}
	if strings.Contains(serviceID, "/") {
		return fmt.Errorf("%w: id %q contains '/'", ErrInvalid, serviceID)
	}
	price := a.UnitPrice()
	if price.IsNegative() {
		return fmt.Errorf("%w: %s has negative unit price %s", ErrInvalid, serviceID, price)
	}
	if price.Currency == "" {
		return fmt.Errorf("%w: %s has no price currency", ErrInvalid, serviceID)
	}
	return nil
}
