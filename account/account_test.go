package account_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/billing/account"
	"github.com/xraph/billing/store"
	"github.com/xraph/billing/types"
)

func TestRefs(t *testing.T) {
	assert.Equal(t, store.Ref("users/alice"), account.Ref("alice"))
	assert.Equal(t, store.Ref("users/alice/billing_history"), account.HistoryRef("alice"))
	assert.Equal(t, store.Ref("users/alice/billing_history/le_1"), account.EntryRef("alice", "le_1"))
	assert.Equal(t, store.Ref("users/alice/private/secure_config"), account.SecureConfigRef("alice"))

	require.NoError(t, account.SecureConfigRef("alice").Validate(true))
	require.NoError(t, account.HistoryRef("alice").Validate(false))
}

func TestDocRoundTrip(t *testing.T) {
	a := &account.Account{ID: "alice", Balance: types.EUR(1234), UpdatedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	back, err := account.FromDoc("alice", a.ToDoc(), "usd")
	require.NoError(t, err)
	assert.Equal(t, a, back)
}

func TestFromDoc(t *testing.T) {
	tests := []struct {
		name    string
		doc     map[string]any
		want    types.Money
		wantErr bool
	}{
		{"int64", map[string]any{"balance": int64(5), "currency": "gbp"}, types.GBP(5), false},
		{"float without currency", map[string]any{"balance": float64(100)}, types.USD(100), false},
		{"int32", map[string]any{"balance": int32(7)}, types.USD(7), false},
		{"fractional", map[string]any{"balance": 1.5}, types.Money{}, true},
		{"missing", map[string]any{}, types.Money{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := account.FromDoc("x", tt.doc, "usd")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.Balance)
		})
	}
}
