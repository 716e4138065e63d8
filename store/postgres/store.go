// Package postgres implements store.Store on a single PostgreSQL table of
// versioned JSONB documents.
package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/xraph/billing/store"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

const (
	selectDoc      = `SELECT data, version FROM billing_documents WHERE path = $1`
	selectVersion  = `SELECT version FROM billing_documents WHERE path = $1 FOR SHARE`
	selectChildren = `SELECT path, data, version FROM billing_documents WHERE parent = $1 ORDER BY path`
	updateChecked  = `UPDATE billing_documents SET data = $2, version = version + 1, updated_at = NOW() WHERE path = $1 AND version = $3`
	insertIfAbsent = `INSERT INTO billing_documents (path, parent, data, version) VALUES ($1, $2, $3, 1) ON CONFLICT (path) DO NOTHING`
	upsertDoc      = `INSERT INTO billing_documents (path, parent, data, version) VALUES ($1, $2, $3, 1)
ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, version = billing_documents.version + 1, updated_at = NOW()`
)

// Store implements store.Store on PostgreSQL.
//
// Reads happen outside the write transaction; the commit re-checks every
// observed version inside one SQL transaction, so two engines racing on the
// same account never both win.
type Store struct {
	db     *sql.DB
	policy store.RetryPolicy
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithRetryPolicy overrides the optimistic retry policy.
func WithRetryPolicy(p store.RetryPolicy) Option {
	return func(s *Store) { s.policy = p }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New wraps an open database handle.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		policy: store.DefaultRetryPolicy(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects with the lib/pq driver.
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("billing/postgres: open: %w", err)
	}
	return New(db, opts...), nil
}

// DB returns the underlying database handle for direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates the required tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	n, err := migrate(ctx, s.db, Migrations)
	if err != nil {
		return fmt.Errorf("billing/postgres: migration failed: %w", err)
	}
	if n > 0 {
		s.logger.Info("billing/postgres: migrations applied", "count", n)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Transactions ====================

// RunTransaction implements store.Store.
func (s *Store) RunTransaction(ctx context.Context, fn store.TxFunc) error {
	return store.RunOptimistic(ctx, s.policy, s.load, s.commit, fn)
}

func (s *Store) load(ctx context.Context, ref store.Ref) (store.Snapshot, error) {
	var (
		raw     []byte
		version int64
	)
	err := s.db.QueryRowContext(ctx, selectDoc, ref.String()).Scan(&raw, &version)
	if isNoRows(err) {
		return store.Snapshot{Ref: ref}, nil
	}
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("billing/postgres: get %s: %w", ref, err)
	}

	data, err := decode(raw)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("billing/postgres: decode %s: %w", ref, err)
	}
	return store.Snapshot{Ref: ref, Exists: true, Data: data, Version: version}, nil
}

func (s *Store) commit(ctx context.Context, txn *store.Txn) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("billing/postgres: begin: %w", mapError(err))
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, read := range txn.ReadOnly() {
		var version int64
		err := tx.QueryRowContext(ctx, selectVersion, read.Ref.String()).Scan(&version)
		if err != nil && !isNoRows(err) {
			return fmt.Errorf("billing/postgres: verify %s: %w", read.Ref, mapError(err))
		}
		if version != read.Version {
			return fmt.Errorf("%w: %s changed since read", store.ErrConflict, read.Ref)
		}
	}

	for _, m := range txn.Writes() {
		if err := applyMutation(ctx, tx, m); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("billing/postgres: commit: %w", mapError(err))
	}
	return nil
}

func applyMutation(ctx context.Context, tx *sql.Tx, m *store.Mutation) error {
	body, err := json.Marshal(m.Data)
	if err != nil {
		return fmt.Errorf("billing/postgres: encode %s: %w", m.Ref, err)
	}
	path, parent, data := m.Ref.String(), m.Ref.Parent().String(), string(body)

	var res sql.Result
	switch {
	case m.Checked && m.BaseVersion > 0:
		res, err = tx.ExecContext(ctx, updateChecked, path, data, m.BaseVersion)
	case m.Checked || m.Create:
		res, err = tx.ExecContext(ctx, insertIfAbsent, path, parent, data)
	default:
		_, err = tx.ExecContext(ctx, upsertDoc, path, parent, data)
		if err != nil {
			return fmt.Errorf("billing/postgres: write %s: %w", m.Ref, mapError(err))
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("billing/postgres: write %s: %w", m.Ref, mapError(err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("billing/postgres: write %s: %w", m.Ref, err)
	}
	if n == 0 {
		if !m.Checked {
			return store.ExistsError(m.Ref)
		}
		return fmt.Errorf("%w: %s changed since read", store.ErrConflict, m.Ref)
	}
	return nil
}

// ==================== Documents ====================

// GetDoc implements store.Store.
func (s *Store) GetDoc(ctx context.Context, ref store.Ref) (store.Snapshot, error) {
	if err := ref.Validate(true); err != nil {
		return store.Snapshot{}, err
	}
	return s.load(ctx, ref)
}

// SetDoc implements store.Store.
func (s *Store) SetDoc(ctx context.Context, ref store.Ref, data map[string]any) error {
	if err := ref.Validate(true); err != nil {
		return err
	}
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("billing/postgres: encode %s: %w", ref, err)
	}
	if _, err := s.db.ExecContext(ctx, upsertDoc, ref.String(), ref.Parent().String(), string(body)); err != nil {
		return fmt.Errorf("billing/postgres: set %s: %w", ref, mapError(err))
	}
	return nil
}

// ListDocs implements store.Store.
func (s *Store) ListDocs(ctx context.Context, collection store.Ref) ([]store.Snapshot, error) {
	if err := collection.Validate(false); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, selectChildren, collection.String())
	if err != nil {
		return nil, fmt.Errorf("billing/postgres: list %s: %w", collection, err)
	}
	defer rows.Close()

	result := make([]store.Snapshot, 0)
	for rows.Next() {
		var (
			path    string
			raw     []byte
			version int64
		)
		if err := rows.Scan(&path, &raw, &version); err != nil {
			return nil, fmt.Errorf("billing/postgres: list %s: %w", collection, err)
		}
		data, err := decode(raw)
		if err != nil {
			return nil, fmt.Errorf("billing/postgres: decode %s: %w", path, err)
		}
		result = append(result, store.Snapshot{Ref: store.Ref(path), Exists: true, Data: data, Version: version})
	}
	return result, rows.Err()
}

// ==================== Helpers ====================

// decode keeps integers exact by decoding numbers as json.Number.
func decode(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// mapError turns serialization failures and deadlocks into store.ErrConflict
// so the optimistic loop retries them.
func mapError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "23505":
			return fmt.Errorf("%w: %s", store.ErrConflict, pqErr.Message)
		}
	}
	return err
}
