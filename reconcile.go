package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/billing/account"
	"github.com/xraph/billing/adapter"
	"github.com/xraph/billing/entry"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/store"
	"github.com/xraph/billing/types"
)

// Reconciler charges an account for consumed units and appends the
// matching ledger entry. It only buffers writes on the transaction it is
// given; committing is the caller's business.
type Reconciler struct {
	clock           func() time.Time
	newEntryID      func() id.EntryID
	defaultCurrency string
}

// NewReconciler returns a Reconciler stamping entries with clock. Account
// documents without a currency field are read in defaultCurrency.
func NewReconciler(clock func() time.Time, defaultCurrency string) *Reconciler {
	if clock == nil {
		clock = time.Now
	}
	return &Reconciler{
		clock:           clock,
		newEntryID:      id.NewEntryID,
		defaultCurrency: types.NormalizeCurrency(defaultCurrency),
	}
}

// Reconcile deducts unitPrice × unitsUsed from the account and records the
// deduction in its billing history, both inside tx.
func (r *Reconciler) Reconcile(ctx context.Context, accountID string, a adapter.Adapter, unitsUsed int64, tx store.Tx) (*entry.Entry, error) {
	if unitsUsed < 0 {
		return nil, ValidationError{Field: "units_used", Message: fmt.Sprintf("must not be negative, got %d", unitsUsed)}
	}

	price := a.UnitPrice()
	cost, err := price.Mul(unitsUsed)
	if err != nil {
		return nil, ValidationError{Field: "units_used", Message: fmt.Sprintf("%d units at %s: %v", unitsUsed, price, err)}
	}

	ref := account.Ref(accountID)
	snap, err := tx.Get(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("billing: read account %q: %w", accountID, err)
	}
	if !snap.Exists {
		return nil, &AccountNotFoundError{AccountID: accountID}
	}

	acct, err := account.FromDoc(accountID, snap.Data, r.defaultCurrency)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptAccount, err)
	}

	newBalance, err := acct.Balance.Sub(cost)
	if err != nil {
		return nil, fmt.Errorf("billing: charge account %q for %s: %w", accountID, a.ID(), err)
	}
	if newBalance.IsNegative() {
		return nil, &InsufficientFundsError{AccountID: accountID, Balance: acct.Balance, Cost: cost}
	}

	now := r.clock().UTC()
	ent := &entry.Entry{
		ID:               r.newEntryID(),
		AccountID:        accountID,
		ServiceID:        a.ID(),
		UnitsUsed:        unitsUsed,
		UnitPrice:        price,
		Cost:             cost,
		ResultingBalance: newBalance,
		Timestamp:        now,
	}

	if err := tx.Update(ctx, ref, account.BalanceFields(newBalance, now)); err != nil {
		return nil, fmt.Errorf("billing: update account %q: %w", accountID, err)
	}
	if err := tx.Create(ctx, account.EntryRef(accountID, ent.ID.String()), ent.ToDoc()); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s: %w", ErrEntryCollision, ent.ID, err)
		}
		return nil, fmt.Errorf("billing: write ledger entry: %w", err)
	}

	return ent, nil
}
