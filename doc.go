// Package billing provides a transactional engine that runs pluggable,
// variable-cost services on behalf of account holders and settles each run
// against the holder's balance.
//
// Billing is designed as a library, not a service. The daemon under
// cmd/billingd is a thin wrapper; everything it does is available by
// importing this package. It provides:
//
//   - A registry of service adapters, each with a fixed unit price
//   - One all-or-nothing transaction per request covering the adapter's own
//     reads and writes, the balance deduction and the ledger entry
//   - An append-only billing history per account
//   - Pluggable stores (memory, PostgreSQL, MongoDB, Redis)
//   - Plugin hooks for metrics, audit trails and event publishing
//
// # Quick Start
//
//	s := memory.New()
//	engine := billing.New(s, billing.WithLogger(logger))
//
//	_ = engine.RegisterAdapter(&billing.AdapterFunc{
//	    ServiceID: "translate",
//	    Price:     billing.USD(250),
//	    Fn: func(ctx context.Context, in *adapter.Input) (*adapter.Output, error) {
//	        return &adapter.Output{Data: "hola", EstimatedUnits: billing.Units(3)}, nil
//	    },
//	})
//
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
//
//	res, err := engine.ProcessRequest(ctx, "alice", "translate", map[string]any{"text": "hello"})
//
// # Consistency
//
// A request either commits exactly one ledger entry and one deduction of the
// same amount, or changes nothing. Balances never go below zero. The store
// serializes concurrent requests for the same account with an optimistic
// read-version check and retries the whole transaction on conflict, so an
// adapter may execute more than once for a single request; only the final
// execution is billed and returned.
//
// All monetary calculations use integer arithmetic in the smallest currency
// unit (cents for USD, pence for GBP, etc).
//
// # Layout
//
// Documents live under these paths:
//
//	users/{accountId}                                balance, currency, updated_at
//	users/{accountId}/billing_history/{entryId}      one per committed request
//	users/{accountId}/private/secure_config          per-account secrets
//
// Entry ids are TypeIDs (le_01h2xcejqtf2nbrexx3vqjhp41). They are K-sortable,
// so ordering history by id orders it by creation time.
package billing
