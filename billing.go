package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xraph/billing/account"
	"github.com/xraph/billing/adapter"
	"github.com/xraph/billing/entry"
	"github.com/xraph/billing/plugin"
	"github.com/xraph/billing/request"
	"github.com/xraph/billing/store"
	"github.com/xraph/billing/types"
)

// DefaultCurrency is used for account documents that carry no currency.
const DefaultCurrency = "usd"

// Engine orchestrates service requests: it resolves the adapter, runs it
// inside one store transaction together with the billing reconciliation,
// and reports the outcome to plugins.
type Engine struct {
	store      store.Store
	adapters   *adapter.Registry
	plugins    *plugin.Registry
	reconciler *Reconciler
	logger     *slog.Logger
	clock      func() time.Time
	currency   string

	pending []adapter.Adapter
}

// Result is returned by a committed ProcessRequest.
type Result struct {
	Data    any          `json:"data"`
	Balance types.Money  `json:"balance"`
	Entry   *entry.Entry `json:"entry"`
}

// New creates a new Engine backed by s.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		adapters: adapter.NewRegistry(),
		plugins:  plugin.NewRegistry(),
		logger:   slog.Default(),
		clock:    time.Now,
		currency: DefaultCurrency,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.reconciler = NewReconciler(e.clock, e.currency)

	for _, a := range e.pending {
		if err := e.RegisterAdapter(a); err != nil {
			e.logger.Warn("adapter registration failed", "error", err)
		}
	}
	e.pending = nil

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithRegistry makes the engine resolve services against r.
func WithRegistry(r *adapter.Registry) Option {
	return func(e *Engine) {
		e.adapters = r
	}
}

// WithAdapter registers an adapter once the engine is built.
func WithAdapter(a adapter.Adapter) Option {
	return func(e *Engine) {
		e.pending = append(e.pending, a)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		if err := e.plugins.Register(p); err != nil {
			e.logger.Warn("plugin registration failed", "plugin", p.Name(), "error", err)
		}
	}
}

// WithPluginTimeout bounds every plugin hook call.
func WithPluginTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.plugins.WithTimeout(d)
	}
}

// WithClock overrides the time source used for ledger timestamps.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithDefaultCurrency sets the currency assumed for account documents
// that do not record one.
func WithDefaultCurrency(currency string) Option {
	return func(e *Engine) {
		e.currency = types.NormalizeCurrency(currency)
	}
}

// Start migrates the store and initializes plugins.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return fmt.Errorf("billing: migrate store: %w", err)
	}

	e.plugins.EmitInit(ctx, e)

	e.logger.Info("billing engine started",
		"adapters", e.adapters.Len(),
		"plugins", e.plugins.Count(),
	)

	return nil
}

// Stop shuts plugins down and closes the store.
func (e *Engine) Stop() error {
	e.plugins.EmitShutdown(context.Background())

	if err := e.store.Close(); err != nil {
		return fmt.Errorf("billing: close store: %w", err)
	}

	e.logger.Info("billing engine stopped")
	return nil
}

// Ping checks that the store is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// ──────────────────────────────────────────────────
// Adapters
// ──────────────────────────────────────────────────

// RegisterAdapter makes a available under a.ID(), replacing any adapter
// registered with the same id.
func (e *Engine) RegisterAdapter(a adapter.Adapter) error {
	if err := e.adapters.Register(a); err != nil {
		return err
	}

	e.logger.Info("adapter registered",
		"service_id", a.ID(),
		"name", a.Name(),
		"unit_price", a.UnitPrice().String(),
	)
	e.plugins.EmitAdapterRegistered(context.Background(), a)
	return nil
}

// Adapters lists registered adapters ordered by id.
func (e *Engine) Adapters() []adapter.Adapter {
	return e.adapters.List()
}

// ──────────────────────────────────────────────────
// Requests
// ──────────────────────────────────────────────────

// ProcessRequest executes serviceID for accountID and bills it, all or
// nothing. On success exactly one ledger entry is written and the balance
// is reduced by its cost; on any error neither changes.
func (e *Engine) ProcessRequest(ctx context.Context, accountID, serviceID string, payload any) (*Result, error) {
	start := time.Now()
	req := request.New(accountID, serviceID, payload, e.clock())
	lc := request.NewLifecycle()
	e.logState(ctx, req, lc)

	fail := func(err error, attempts int) (*Result, error) {
		e.abort(ctx, req, lc, err, attempts, time.Since(start))
		return nil, err
	}

	if err := validateDocID("account_id", accountID); err != nil {
		return fail(err, 0)
	}
	if err := validateDocID("service_id", serviceID); err != nil {
		return fail(err, 0)
	}

	a, ok := e.adapters.Lookup(serviceID)
	if !ok {
		return fail(&AdapterNotFoundError{ServiceID: serviceID}, 0)
	}

	var (
		out      *adapter.Output
		ent      *entry.Entry
		attempts int
	)
	err := e.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		attempts++
		out, ent = nil, nil

		e.advance(ctx, req, lc, request.StateAdapterExecuting)
		o, err := a.Execute(ctx, &adapter.Input{Request: req, Tx: tx})
		if err != nil {
			return &AdapterExecutionError{ServiceID: serviceID, Err: err}
		}

		e.advance(ctx, req, lc, request.StateBillingReconciling)
		en, err := e.reconciler.Reconcile(ctx, accountID, a, o.Units(), tx)
		if err != nil {
			return err
		}

		out, ent = o, en
		return nil
	})
	if err != nil {
		return fail(classifyCommitError(err, accountID, serviceID), attempts)
	}

	stage := lc.State()
	e.advance(ctx, req, lc, request.StateCommitted)

	var data any
	if out != nil {
		data = out.Data
	}

	e.logger.Info("request committed",
		"request_id", req.ID.String(),
		"account_id", accountID,
		"service_id", serviceID,
		"entry_id", ent.ID.String(),
		"units", ent.UnitsUsed,
		"cost", ent.Cost.Amount,
		"balance", ent.ResultingBalance.Amount,
		"attempts", attempts,
	)
	e.plugins.EmitRequestCommitted(ctx, &request.Outcome{
		Request:  req,
		State:    request.StateCommitted,
		Stage:    stage,
		Entry:    ent,
		Attempts: attempts,
		Elapsed:  time.Since(start),
	})

	return &Result{Data: data, Balance: ent.ResultingBalance, Entry: ent}, nil
}

func (e *Engine) abort(ctx context.Context, req *request.Request, lc *request.Lifecycle, err error, attempts int, elapsed time.Duration) {
	stage := lc.State()
	e.advance(ctx, req, lc, request.StateAborted)

	e.logger.Warn("request aborted",
		"request_id", req.ID.String(),
		"account_id", req.AccountID,
		"service_id", req.ServiceID,
		"stage", string(stage),
		"error", err,
	)

	var insufficient *InsufficientFundsError
	if errors.As(err, &insufficient) {
		e.plugins.EmitInsufficientFunds(ctx, insufficient.AccountID, insufficient.Balance, insufficient.Cost)
	}

	e.plugins.EmitRequestAborted(ctx, &request.Outcome{
		Request:  req,
		State:    request.StateAborted,
		Stage:    stage,
		Attempts: attempts,
		Err:      err,
		Elapsed:  elapsed,
	})
}

func (e *Engine) advance(ctx context.Context, req *request.Request, lc *request.Lifecycle, next request.State) {
	if lc.Advance(next) {
		e.logState(ctx, req, lc)
	}
}

func (e *Engine) logState(ctx context.Context, req *request.Request, lc *request.Lifecycle) {
	e.logger.DebugContext(ctx, "request state",
		"request_id", req.ID.String(),
		"state", string(lc.State()),
	)
}

// ──────────────────────────────────────────────────
// Accounts
// ──────────────────────────────────────────────────

// OpenAccount creates an account holding initial. It fails with
// ErrAccountExists if the account document is already present.
func (e *Engine) OpenAccount(ctx context.Context, accountID string, initial types.Money) (*account.Account, error) {
	if err := validateDocID("account_id", accountID); err != nil {
		return nil, err
	}
	if initial.IsNegative() {
		return nil, ValidationError{Field: "balance", Message: "must not be negative"}
	}
	if initial.Currency == "" {
		initial.Currency = e.currency
	}

	acct := &account.Account{ID: accountID, Balance: initial, UpdatedAt: e.clock().UTC()}
	err := e.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		snap, err := tx.Get(ctx, account.Ref(accountID))
		if err != nil {
			return err
		}
		if snap.Exists {
			return fmt.Errorf("%w: %q", ErrAccountExists, accountID)
		}
		return tx.Create(ctx, account.Ref(accountID), acct.ToDoc())
	})
	if errors.Is(err, store.ErrAlreadyExists) {
		err = fmt.Errorf("%w: %q", ErrAccountExists, accountID)
	}
	if err != nil {
		return nil, err
	}

	e.logger.Info("account opened", "account_id", accountID, "balance", initial.String())
	return acct, nil
}

// Account reads an account outside any transaction.
func (e *Engine) Account(ctx context.Context, accountID string) (*account.Account, error) {
	if err := validateDocID("account_id", accountID); err != nil {
		return nil, err
	}
	snap, err := e.store.GetDoc(ctx, account.Ref(accountID))
	if err != nil {
		return nil, fmt.Errorf("billing: get account %q: %w", accountID, err)
	}
	if !snap.Exists {
		return nil, &AccountNotFoundError{AccountID: accountID}
	}
	acct, err := account.FromDoc(accountID, snap.Data, e.currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptAccount, err)
	}
	return acct, nil
}

// History returns the account's ledger entries, oldest first.
func (e *Engine) History(ctx context.Context, accountID string) ([]*entry.Entry, error) {
	if err := validateDocID("account_id", accountID); err != nil {
		return nil, err
	}
	docs, err := e.store.ListDocs(ctx, account.HistoryRef(accountID))
	if err != nil {
		return nil, fmt.Errorf("billing: list history %q: %w", accountID, err)
	}

	out := make([]*entry.Entry, 0, len(docs))
	for _, d := range docs {
		ent, err := entry.FromDoc(d.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, ent)
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Secure configuration
// ──────────────────────────────────────────────────

// GetSecureConfig reads users/{accountID}/private/secure_config outside
// any transaction.
func (e *Engine) GetSecureConfig(ctx context.Context, accountID string) (map[string]any, error) {
	if err := validateDocID("account_id", accountID); err != nil {
		return nil, err
	}
	snap, err := e.store.GetDoc(ctx, account.SecureConfigRef(accountID))
	if err != nil {
		return nil, fmt.Errorf("billing: get secure config %q: %w", accountID, err)
	}
	if !snap.Exists {
		return nil, fmt.Errorf("%w: %q", ErrConfigNotFound, accountID)
	}
	return snap.Data, nil
}

// SetSecureConfig replaces the account's secure configuration document.
func (e *Engine) SetSecureConfig(ctx context.Context, accountID string, cfg map[string]any) error {
	if err := validateDocID("account_id", accountID); err != nil {
		return err
	}
	if err := e.store.SetDoc(ctx, account.SecureConfigRef(accountID), cfg); err != nil {
		return fmt.Errorf("billing: set secure config %q: %w", accountID, err)
	}
	return nil
}

// classifyCommitError attributes a create collision that surfaced at commit
// to its writer: the ledger entry for refs in the account's history, the
// adapter for anything else. Errors already attributed pass through.
func classifyCommitError(err error, accountID, serviceID string) error {
	if errors.Is(err, ErrEntryCollision) || errors.Is(err, ErrAdapterExecution) {
		return err
	}
	var docErr *store.DocError
	if !errors.As(err, &docErr) || !errors.Is(docErr.Err, store.ErrAlreadyExists) {
		return err
	}
	if docErr.Ref.Parent() == account.HistoryRef(accountID) {
		return fmt.Errorf("%w: %w", ErrEntryCollision, err)
	}
	return &AdapterExecutionError{ServiceID: serviceID, Err: err}
}

func validateDocID(field, v string) error {
	switch {
	case v == "":
		return ValidationError{Field: field, Message: "must not be empty"}
	case strings.Contains(v, "/"):
		return ValidationError{Field: field, Message: "must not contain '/'"}
	case v == "." || v == "..":
		return ValidationError{Field: field, Message: "must not be a relative path segment"}
	}
	return nil
}
