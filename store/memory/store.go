// Package memory provides an in-process store.Store for tests, development
// and single-node deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/billing/store"
)

type record struct {
	data    map[string]any
	version int64
}

// Store is a versioned document map guarded by a mutex. Transactions run
// through store.RunOptimistic; commits validate every read version under
// the write lock.
type Store struct {
	mu     sync.RWMutex
	docs   map[store.Ref]record
	closed bool
	policy store.RetryPolicy
}

var _ store.Store = (*Store)(nil)

// Option configures a memory Store.
type Option func(*Store)

// WithRetryPolicy overrides the optimistic retry policy.
func WithRetryPolicy(p store.RetryPolicy) Option {
	return func(s *Store) { s.policy = p }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		docs:   make(map[store.Ref]record),
		policy: store.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunTransaction implements store.Store.
func (s *Store) RunTransaction(ctx context.Context, fn store.TxFunc) error {
	return store.RunOptimistic(ctx, s.policy, s.load, s.commit, fn)
}

func (s *Store) load(_ context.Context, ref store.Ref) (store.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return store.Snapshot{}, store.ErrClosed
	}
	rec, ok := s.docs[ref]
	if !ok {
		return store.Snapshot{Ref: ref}, nil
	}
	return store.Snapshot{Ref: ref, Exists: true, Data: store.Clone(rec.data), Version: rec.version}, nil
}

func (s *Store) commit(_ context.Context, txn *store.Txn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}

	for _, read := range txn.ReadOnly() {
		if cur := s.docs[read.Ref]; cur.version != read.Version {
			return fmt.Errorf("%w: %s changed since read", store.ErrConflict, read.Ref)
		}
	}

	writes := txn.Writes()
	for _, m := range writes {
		cur, exists := s.docs[m.Ref]
		switch {
		case m.Checked && cur.version != m.BaseVersion:
			return fmt.Errorf("%w: %s changed since read", store.ErrConflict, m.Ref)
		case m.Create && exists:
			return store.ExistsError(m.Ref)
		}
	}

	for _, m := range writes {
		cur := s.docs[m.Ref]
		s.docs[m.Ref] = record{data: store.Clone(m.Data), version: cur.version + 1}
	}
	return nil
}

// GetDoc implements store.Store.
func (s *Store) GetDoc(ctx context.Context, ref store.Ref) (store.Snapshot, error) {
	if err := ref.Validate(true); err != nil {
		return store.Snapshot{}, err
	}
	return s.load(ctx, ref)
}

// SetDoc implements store.Store.
func (s *Store) SetDoc(_ context.Context, ref store.Ref, data map[string]any) error {
	if err := ref.Validate(true); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	cur := s.docs[ref]
	s.docs[ref] = record{data: store.Clone(data), version: cur.version + 1}
	return nil
}

// ListDocs implements store.Store.
func (s *Store) ListDocs(_ context.Context, collection store.Ref) ([]store.Snapshot, error) {
	if err := collection.Validate(false); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrClosed
	}

	result := make([]store.Snapshot, 0)
	for ref, rec := range s.docs {
		if ref.Parent() != collection {
			continue
		}
		result = append(result, store.Snapshot{Ref: ref, Exists: true, Data: store.Clone(rec.data), Version: rec.version})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Ref.ID() < result[j].Ref.ID() })
	return result, nil
}

// Migrate is a no-op for the memory store.
func (s *Store) Migrate(_ context.Context) error {
	return nil
}

// Ping implements store.Store.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
