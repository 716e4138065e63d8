package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/billing/store"
)

var alice = store.Path("users", "alice")

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, WithRetryPolicy(store.RetryPolicy{MaxAttempts: 3})), mock
}

func q(sql string) string { return regexp.QuoteMeta(sql) }

func docRows(data string, version int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"data", "version"}).AddRow(data, version)
}

func debit(ctx context.Context, tx store.Tx) error {
	snap, err := tx.Get(ctx, alice)
	if err != nil {
		return err
	}
	bal, ok := store.Int64(snap.Data, "balance")
	if !ok {
		return errors.New("balance is not an integer")
	}
	return tx.Update(ctx, alice, map[string]any{"balance": bal - 10})
}

func TestCommitChecksVersion(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(q(selectDoc)).WithArgs("users/alice").
		WillReturnRows(docRows(`{"balance": 100, "currency": "usd"}`, 3))
	mock.ExpectBegin()
	mock.ExpectExec(q(updateChecked)).
		WithArgs("users/alice", `{"balance":90,"currency":"usd"}`, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.RunTransaction(context.Background(), debit))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStaleVersionRetries(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(q(selectDoc)).WithArgs("users/alice").
		WillReturnRows(docRows(`{"balance": 100}`, 3))
	mock.ExpectBegin()
	mock.ExpectExec(q(updateChecked)).
		WithArgs("users/alice", sqlmock.AnyArg(), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	mock.ExpectQuery(q(selectDoc)).WithArgs("users/alice").
		WillReturnRows(docRows(`{"balance": 50}`, 4))
	mock.ExpectBegin()
	mock.ExpectExec(q(updateChecked)).
		WithArgs("users/alice", `{"balance":40}`, int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.RunTransaction(context.Background(), debit))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetriesExhausted(t *testing.T) {
	s, mock := newMock(t)

	for range 3 {
		mock.ExpectQuery(q(selectDoc)).WillReturnRows(docRows(`{"balance": 100}`, 1))
		mock.ExpectBegin()
		mock.ExpectExec(q(updateChecked)).WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access"})
		mock.ExpectRollback()
	}

	err := s.RunTransaction(context.Background(), debit)
	require.ErrorIs(t, err, store.ErrTooManyAttempts)
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBlindCreateCollision(t *testing.T) {
	s, mock := newMock(t)
	ref := alice.Child("billing_history", "le_1")

	mock.ExpectBegin()
	mock.ExpectExec(q(insertIfAbsent)).
		WithArgs("users/alice/billing_history/le_1", "users/alice/billing_history", `{"cost":5}`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	attempts := 0
	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx store.Tx) error {
		attempts++
		return tx.Create(ctx, ref, map[string]any{"cost": 5})
	})
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
	var docErr *store.DocError
	if assert.ErrorAs(t, err, &docErr) {
		assert.Equal(t, ref, docErr.Ref)
	}
	assert.Equal(t, 1, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadOnlyDocumentsAreVerified(t *testing.T) {
	s, mock := newMock(t)
	cfg := alice.Child("private", "secure_config")
	other := store.Path("users", "bob")

	mock.ExpectQuery(q(selectDoc)).WithArgs("users/alice/private/secure_config").
		WillReturnRows(docRows(`{"key": "k"}`, 2))
	mock.ExpectBegin()
	mock.ExpectQuery(q(selectVersion)).WithArgs("users/alice/private/secure_config").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(5)))
	mock.ExpectRollback()

	mock.ExpectQuery(q(selectDoc)).WithArgs("users/alice/private/secure_config").
		WillReturnRows(docRows(`{"key": "k2"}`, 5))
	mock.ExpectBegin()
	mock.ExpectQuery(q(selectVersion)).WithArgs("users/alice/private/secure_config").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(5)))
	mock.ExpectExec(q(upsertDoc)).
		WithArgs("users/bob", "users", `{"key":"k2"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx store.Tx) error {
		snap, err := tx.Get(ctx, cfg)
		if err != nil {
			return err
		}
		return tx.Set(ctx, other, map[string]any{"key": snap.Data["key"]})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDocMissing(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(q(selectDoc)).WithArgs("users/ghost").
		WillReturnRows(sqlmock.NewRows([]string{"data", "version"}))

	snap, err := s.GetDoc(context.Background(), store.Path("users", "ghost"))
	require.NoError(t, err)
	assert.False(t, snap.Exists)
	assert.Zero(t, snap.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDocKeepsIntegersExact(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(q(selectDoc)).
		WillReturnRows(docRows(`{"balance": 9007199254740993}`, 1))

	snap, err := s.GetDoc(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, json.Number("9007199254740993"), snap.Data["balance"])
	n, ok := store.Int64(snap.Data, "balance")
	require.True(t, ok)
	assert.Equal(t, int64(9007199254740993), n)
}

func TestListDocs(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(q(selectChildren)).WithArgs("users/alice/billing_history").
		WillReturnRows(sqlmock.NewRows([]string{"path", "data", "version"}).
			AddRow("users/alice/billing_history/le_1", `{"cost": 1}`, int64(1)).
			AddRow("users/alice/billing_history/le_2", `{"cost": 2}`, int64(1)))

	docs, err := s.ListDocs(context.Background(), alice.Collection("billing_history"))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "le_1", docs[0].Ref.ID())
	assert.Equal(t, "le_2", docs[1].Ref.ID())
	assert.True(t, docs[1].Exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetDocRejectsCollectionRef(t *testing.T) {
	s, mock := newMock(t)
	err := s.SetDoc(context.Background(), store.Ref("users"), map[string]any{})
	assert.ErrorIs(t, err, store.ErrInvalidRef)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateSkipsApplied(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec(q(createMigrationsTable)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q(selectAppliedMigrations)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(Migrations[0].Version))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_billing_documents_parent").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q(insertMigration)).
		WithArgs(Migrations[1].Version, Migrations[1].Name).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMapError(t *testing.T) {
	for _, code := range []pq.ErrorCode{"40001", "40P01", "23505"} {
		assert.ErrorIs(t, mapError(&pq.Error{Code: code}), store.ErrConflict, code)
	}
	other := errors.New("boom")
	assert.Same(t, other, mapError(other))
	assert.NotErrorIs(t, mapError(&pq.Error{Code: "42P01"}), store.ErrConflict)
}
