// Package redis implements store.Store on Redis hashes.
//
// Each document is a hash holding its JSON body and version; each
// collection is a sorted set of document ids with score 0, so ZRANGE
// returns them in lexical order. Commits use WATCH/MULTI over every key
// the transaction touched, which needs all keys on one node.
package redis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/xraph/billing/store"
)

// DefaultPrefix namespaces every key the store writes.
const DefaultPrefix = "billing"

const (
	fieldData    = "data"
	fieldVersion = "version"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store on a Redis client.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	policy store.RetryPolicy
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithRetryPolicy overrides the optimistic retry policy.
func WithRetryPolicy(p store.RetryPolicy) Option {
	return func(s *Store) { s.policy = p }
}

// New wraps a connected client.
func New(rdb redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		rdb:    rdb,
		prefix: DefaultPrefix,
		policy: store.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open parses a redis:// URL and connects.
func Open(url string, opts ...Option) (*Store, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("billing/redis: parse url: %w", err)
	}
	return New(redis.NewClient(o), opts...), nil
}

// Client returns the underlying client for direct access.
func (s *Store) Client() redis.UniversalClient { return s.rdb }

// Migrate is a no-op; Redis needs no schema.
func (s *Store) Migrate(context.Context) error { return nil }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// ==================== Transactions ====================

// RunTransaction implements store.Store.
func (s *Store) RunTransaction(ctx context.Context, fn store.TxFunc) error {
	return store.RunOptimistic(ctx, s.policy, s.load, s.commit, fn)
}

func (s *Store) load(ctx context.Context, ref store.Ref) (store.Snapshot, error) {
	vals, err := s.rdb.HMGet(ctx, s.docKey(ref), fieldData, fieldVersion).Result()
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("billing/redis: get %s: %w", ref, err)
	}
	return decodeHash(ref, vals)
}

func (s *Store) commit(ctx context.Context, txn *store.Txn) error {
	reads, writes := txn.ReadOnly(), txn.Writes()

	keys := make([]string, 0, len(reads)+len(writes))
	for _, r := range reads {
		keys = append(keys, s.docKey(r.Ref))
	}
	for _, m := range writes {
		keys = append(keys, s.docKey(m.Ref))
	}

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		for _, r := range reads {
			cur, err := s.version(ctx, tx, r.Ref)
			if err != nil {
				return err
			}
			if cur != r.Version {
				return fmt.Errorf("%w: %s changed since read", store.ErrConflict, r.Ref)
			}
		}

		next := make([]int64, len(writes))
		bodies := make([]string, len(writes))
		for i, m := range writes {
			cur, err := s.version(ctx, tx, m.Ref)
			if err != nil {
				return err
			}
			if err := checkWrite(m, cur); err != nil {
				return err
			}
			body, err := json.Marshal(m.Data)
			if err != nil {
				return fmt.Errorf("billing/redis: encode %s: %w", m.Ref, err)
			}
			next[i], bodies[i] = cur+1, string(body)
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, m := range writes {
				s.queueWrite(ctx, pipe, m.Ref, bodies[i], next[i])
			}
			return nil
		})
		return err
	}, keys...)

	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: watched key modified", store.ErrConflict)
	}
	return err
}

// checkWrite applies the mutation's preconditions against the committed
// version cur.
func checkWrite(m *store.Mutation, cur int64) error {
	switch {
	case m.Checked && cur != m.BaseVersion:
		return fmt.Errorf("%w: %s changed since read", store.ErrConflict, m.Ref)
	case m.Create && cur != 0:
		return store.ExistsError(m.Ref)
	}
	return nil
}

func (s *Store) version(ctx context.Context, tx *redis.Tx, ref store.Ref) (int64, error) {
	v, err := tx.HGet(ctx, s.docKey(ref), fieldVersion).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("billing/redis: verify %s: %w", ref, err)
	}
	return strconv.ParseInt(v, 10, 64)
}

func (s *Store) queueWrite(ctx context.Context, pipe redis.Pipeliner, ref store.Ref, body string, version int64) {
	pipe.HSet(ctx, s.docKey(ref), fieldData, body, fieldVersion, version)
	pipe.ZAdd(ctx, s.colKey(ref.Parent()), &redis.Z{Score: 0, Member: ref.ID()})
}

// ==================== Documents ====================

// GetDoc implements store.Store.
func (s *Store) GetDoc(ctx context.Context, ref store.Ref) (store.Snapshot, error) {
	if err := ref.Validate(true); err != nil {
		return store.Snapshot{}, err
	}
	return s.load(ctx, ref)
}

// SetDoc implements store.Store. It runs as a blind write through the
// transaction path so the version still advances by one.
func (s *Store) SetDoc(ctx context.Context, ref store.Ref, data map[string]any) error {
	if err := ref.Validate(true); err != nil {
		return err
	}
	return s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Set(ctx, ref, data)
	})
}

// ListDocs implements store.Store.
func (s *Store) ListDocs(ctx context.Context, collection store.Ref) ([]store.Snapshot, error) {
	if err := collection.Validate(false); err != nil {
		return nil, err
	}

	ids, err := s.rdb.ZRange(ctx, s.colKey(collection), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("billing/redis: list %s: %w", collection, err)
	}
	if len(ids) == 0 {
		return []store.Snapshot{}, nil
	}

	cmds := make([]*redis.SliceCmd, len(ids))
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, docID := range ids {
			cmds[i] = pipe.HMGet(ctx, s.docKey(collection.Doc(docID)), fieldData, fieldVersion)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("billing/redis: list %s: %w", collection, err)
	}

	result := make([]store.Snapshot, 0, len(ids))
	for i, docID := range ids {
		snap, err := decodeHash(collection.Doc(docID), cmds[i].Val())
		if err != nil {
			return nil, err
		}
		if snap.Exists {
			result = append(result, snap)
		}
	}
	return result, nil
}

// ==================== Helpers ====================

func (s *Store) docKey(ref store.Ref) string {
	return s.prefix + ":doc:" + ref.String()
}

func (s *Store) colKey(collection store.Ref) string {
	return s.prefix + ":col:" + collection.String()
}

// decodeHash turns an HMGET reply of [data, version] into a Snapshot.
// Both fields nil means the document does not exist.
func decodeHash(ref store.Ref, vals []any) (store.Snapshot, error) {
	if len(vals) != 2 || vals[0] == nil {
		return store.Snapshot{Ref: ref}, nil
	}

	body, ok := vals[0].(string)
	if !ok {
		return store.Snapshot{}, fmt.Errorf("billing/redis: decode %s: unexpected %T", ref, vals[0])
	}
	verStr, _ := vals[1].(string)
	version, err := strconv.ParseInt(verStr, 10, 64)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("billing/redis: decode %s version: %w", ref, err)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return store.Snapshot{}, fmt.Errorf("billing/redis: decode %s: %w", ref, err)
	}
	return store.Snapshot{Ref: ref, Exists: true, Data: data, Version: version}, nil
}
