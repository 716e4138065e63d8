// Package account maps billable account holders onto store documents.
package account

import (
	"fmt"
	"time"

	"github.com/xraph/billing/entry"
	"github.com/xraph/billing/store"
	"github.com/xraph/billing/types"
)

// Collection is the top-level collection holding account documents.
const Collection = "users"

// Account is a billable holder with a non-negative balance in minor units.
type Account struct {
	ID        string      `json:"id"`
	Balance   types.Money `json:"balance"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Ref returns the account document path, users/{accountID}.
func Ref(accountID string) store.Ref {
	return store.Path(Collection, accountID)
}

// HistoryRef returns the ledger subcollection of an account.
func HistoryRef(accountID string) store.Ref {
	return Ref(accountID).Collection(entry.Collection)
}

// EntryRef returns the path of one ledger entry.
func EntryRef(accountID, entryID string) store.Ref {
	return HistoryRef(accountID).Doc(entryID)
}

// SecureConfigRef returns users/{accountID}/private/secure_config.
func SecureConfigRef(accountID string) store.Ref {
	return Ref(accountID).Child("private", "secure_config")
}

// BalanceFields is the partial update applied when a balance changes.
func BalanceFields(balance types.Money, at time.Time) map[string]any {
	return map[string]any{
		"balance":    balance.Amount,
		"updated_at": at.UTC().Format(time.RFC3339Nano),
	}
}

// ToDoc renders the full account document.
func (a *Account) ToDoc() map[string]any {
	doc := BalanceFields(a.Balance, a.UpdatedAt)
	doc["currency"] = a.Balance.Currency
	return doc
}

// FromDoc decodes an account document. Documents written without a
// currency are read in defaultCurrency.
func FromDoc(accountID string, data map[string]any, defaultCurrency string) (*Account, error) {
	bal, ok := store.Int64(data, "balance")
	if !ok {
		return nil, fmt.Errorf("account %s: balance is missing or not an integer", accountID)
	}
	currency, _ := store.String(data, "currency")
	if currency == "" {
		currency = defaultCurrency
	}

	a := &Account{ID: accountID, Balance: types.New(bal, currency)}
	if ts, ok := store.String(data, "updated_at"); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			a.UpdatedAt = t
		}
	}
	return a, nil
}
