// Package entry defines the immutable billing ledger entry written once per
// committed service request.
package entry

import (
	"fmt"
	"time"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/store"
	"github.com/xraph/billing/types"
)

// Collection is the per-account subcollection holding ledger entries.
const Collection = "billing_history"

// Entry records one reconciliation: what ran, how much it consumed, what it
// cost and the balance it left behind. Entries are created once and never
// updated or deleted.
type Entry struct {
	ID               id.EntryID  `json:"id"`
	AccountID        string      `json:"account_id"`
	ServiceID        string      `json:"service_id"`
	UnitsUsed        int64       `json:"units_used"`
	UnitPrice        types.Money `json:"unit_price"`
	Cost             types.Money `json:"cost"`
	ResultingBalance types.Money `json:"resulting_balance"`
	Timestamp        time.Time   `json:"timestamp"`
}

// ToDoc renders the entry as a store document. Amounts are int64 minor
// units sharing the single currency field.
func (e *Entry) ToDoc() map[string]any {
	return map[string]any{
		"entry_id":          e.ID.String(),
		"account_id":        e.AccountID,
		"service_id":        e.ServiceID,
		"units_used":        e.UnitsUsed,
		"unit_price":        e.UnitPrice.Amount,
		"cost":              e.Cost.Amount,
		"resulting_balance": e.ResultingBalance.Amount,
		"currency":          e.Cost.Currency,
		"timestamp":         e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// FromDoc decodes a stored entry.
func FromDoc(data map[string]any) (*Entry, error) {
	raw, _ := store.String(data, "entry_id")
	eid, err := id.ParseEntryID(raw)
	if err != nil {
		return nil, fmt.Errorf("entry: %w", err)
	}

	e := &Entry{ID: eid}
	e.AccountID, _ = store.String(data, "account_id")
	e.ServiceID, _ = store.String(data, "service_id")
	currency, _ := store.String(data, "currency")

	fields := []struct {
		name string
		dst  *int64
	}{
		{"units_used", &e.UnitsUsed},
		{"unit_price", &e.UnitPrice.Amount},
		{"cost", &e.Cost.Amount},
		{"resulting_balance", &e.ResultingBalance.Amount},
	}
	for _, f := range fields {
		v, ok := store.Int64(data, f.name)
		if !ok {
			return nil, fmt.Errorf("entry %s: field %q is not an integer", raw, f.name)
		}
		*f.dst = v
	}
	e.UnitPrice.Currency = currency
	e.Cost.Currency = currency
	e.ResultingBalance.Currency = currency

	if ts, ok := store.String(data, "timestamp"); ok {
		e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("entry %s: timestamp: %w", raw, err)
		}
	}
	return e, nil
}
