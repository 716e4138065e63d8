package billing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/xraph/billing/account"
	"github.com/xraph/billing/store"
)

func TestClassifyCommitError(t *testing.T) {
	entryRef := account.EntryRef("alice", "le_01h2xcejqtf2nbrexx3vqjhp41")
	otherHistory := account.EntryRef("bob", "le_01h2xcejqtf2nbrexx3vqjhp41")
	adapterDoc := account.Ref("alice").Child("jobs", "j1")
	already := &AdapterExecutionError{ServiceID: "svc", Err: store.ExistsError(adapterDoc)}
	conflict := fmt.Errorf("%w: retries", store.ErrTooManyAttempts)

	tests := []struct {
		name      string
		err       error
		collision bool
		adapter   bool
	}{
		{"ledger entry exists", store.ExistsError(entryRef), true, false},
		{"wrapped ledger entry exists", fmt.Errorf("commit: %w", store.ExistsError(entryRef)), true, false},
		{"adapter document exists", store.ExistsError(adapterDoc), false, true},
		{"other account history", store.ExistsError(otherHistory), false, true},
		{"already attributed to adapter", already, false, true},
		{"unrelated error", conflict, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyCommitError(tt.err, "alice", "svc")
			if errors.Is(got, ErrEntryCollision) != tt.collision {
				t.Errorf("entry collision = %v, want %v (%v)", !tt.collision, tt.collision, got)
			}
			if errors.Is(got, ErrAdapterExecution) != tt.adapter {
				t.Errorf("adapter failure = %v, want %v (%v)", !tt.adapter, tt.adapter, got)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("cause lost: %v", got)
			}
		})
	}
}
