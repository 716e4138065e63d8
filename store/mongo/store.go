// Package mongo implements store.Store on a MongoDB collection of versioned
// documents. Commits run inside a multi-document transaction, so the
// deployment must be a replica set or sharded cluster.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/billing/store"
)

// DefaultCollection holds every billing document.
const DefaultCollection = "billing_documents"

// compile-time interface check
var _ store.Store = (*Store)(nil)

// record is the stored shape of one document. The path is the primary key.
type record struct {
	Path      string    `bson:"_id"`
	Parent    string    `bson:"parent"`
	Data      bson.M    `bson:"data"`
	Version   int64     `bson:"version"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Store implements store.Store using the MongoDB Go driver.
type Store struct {
	client *mongo.Client
	col    *mongo.Collection
	policy store.RetryPolicy
}

// Option configures a Store.
type Option func(*Store)

// WithRetryPolicy overrides the optimistic retry policy.
func WithRetryPolicy(p store.RetryPolicy) Option {
	return func(s *Store) { s.policy = p }
}

// WithCollection overrides the collection name.
func WithCollection(name string) Option {
	return func(s *Store) { s.col = s.col.Database().Collection(name) }
}

// New creates a store on database db of client.
func New(client *mongo.Client, db string, opts ...Option) *Store {
	s := &Store{
		client: client,
		col:    client.Database(db).Collection(DefaultCollection),
		policy: store.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials uri and returns a store on database db.
func Connect(uri, db string, opts ...Option) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("billing/mongo: connect: %w", err)
	}
	return New(client, db, opts...), nil
}

// Collection returns the underlying collection for direct access.
func (s *Store) Collection() *mongo.Collection { return s.col }

// Migrate creates the parent index used by ListDocs.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, migrationIndexes())
	if err != nil {
		return fmt.Errorf("billing/mongo: migrate %s indexes: %w", s.col.Name(), err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// ==================== Transactions ====================

// RunTransaction implements store.Store.
func (s *Store) RunTransaction(ctx context.Context, fn store.TxFunc) error {
	return store.RunOptimistic(ctx, s.policy, s.load, s.commit, fn)
}

func (s *Store) load(ctx context.Context, ref store.Ref) (store.Snapshot, error) {
	var rec record
	err := s.col.FindOne(ctx, bson.M{"_id": ref.String()}).Decode(&rec)
	if isNoDocuments(err) {
		return store.Snapshot{Ref: ref}, nil
	}
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("billing/mongo: get %s: %w", ref, err)
	}
	return fromRecord(&rec), nil
}

func (s *Store) commit(ctx context.Context, txn *store.Txn) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("billing/mongo: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		for _, read := range txn.ReadOnly() {
			version, err := s.version(ctx, read.Ref)
			if err != nil {
				return nil, err
			}
			if version != read.Version {
				return nil, fmt.Errorf("%w: %s changed since read", store.ErrConflict, read.Ref)
			}
		}
		for _, m := range txn.Writes() {
			if err := s.apply(ctx, m); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (s *Store) version(ctx context.Context, ref store.Ref) (int64, error) {
	var rec struct {
		Version int64 `bson:"version"`
	}
	opts := options.FindOne().SetProjection(bson.M{"version": 1})
	err := s.col.FindOne(ctx, bson.M{"_id": ref.String()}, opts).Decode(&rec)
	if isNoDocuments(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("billing/mongo: verify %s: %w", ref, err)
	}
	return rec.Version, nil
}

func (s *Store) apply(ctx context.Context, m *store.Mutation) error {
	switch {
	case m.Checked && m.BaseVersion > 0:
		res, err := s.col.UpdateOne(ctx,
			bson.M{"_id": m.Ref.String(), "version": m.BaseVersion},
			setUpdate(m.Data),
		)
		if err != nil {
			return fmt.Errorf("billing/mongo: update %s: %w", m.Ref, err)
		}
		if res.MatchedCount == 0 {
			return fmt.Errorf("%w: %s changed since read", store.ErrConflict, m.Ref)
		}
		return nil

	case m.Checked || m.Create:
		_, err := s.col.InsertOne(ctx, toRecord(m.Ref, m.Data, 1))
		if mongo.IsDuplicateKeyError(err) {
			if m.Checked {
				return fmt.Errorf("%w: %s created since read", store.ErrConflict, m.Ref)
			}
			return store.ExistsError(m.Ref)
		}
		if err != nil {
			return fmt.Errorf("billing/mongo: insert %s: %w", m.Ref, err)
		}
		return nil

	default:
		return s.upsert(ctx, m.Ref, m.Data)
	}
}

func (s *Store) upsert(ctx context.Context, ref store.Ref, data map[string]any) error {
	_, err := s.col.UpdateOne(ctx,
		bson.M{"_id": ref.String()},
		upsertUpdate(ref, data),
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("billing/mongo: set %s: %w", ref, err)
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
	return s.upsert(ctx, ref, data)
}

// ListDocs implements store.Store.
func (s *Store) ListDocs(ctx context.Context, collection store.Ref) ([]store.Snapshot, error) {
	if err := collection.Validate(false); err != nil {
		return nil, err
	}

	cur, err := s.col.Find(ctx,
		bson.M{"parent": collection.String()},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("billing/mongo: list %s: %w", collection, err)
	}

	var recs []record
	if err := cur.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("billing/mongo: list %s: %w", collection, err)
	}

	result := make([]store.Snapshot, len(recs))
	for i := range recs {
		result[i] = fromRecord(&recs[i])
	}
	return result, nil
}

// ==================== Helpers ====================

func toRecord(ref store.Ref, data map[string]any, version int64) *record {
	return &record{
		Path:      ref.String(),
		Parent:    ref.Parent().String(),
		Data:      bson.M(store.Clone(data)),
		Version:   version,
		UpdatedAt: time.Now().UTC(),
	}
}

func fromRecord(rec *record) store.Snapshot {
	data, _ := normalize(rec.Data).(map[string]any)
	if data == nil {
		data = map[string]any{}
	}
	return store.Snapshot{
		Ref:     store.Ref(rec.Path),
		Exists:  true,
		Data:    data,
		Version: rec.Version,
	}
}

func setUpdate(data map[string]any) bson.M {
	return bson.M{
		"$set": bson.M{"data": bson.M(store.Clone(data)), "updated_at": time.Now().UTC()},
		"$inc": bson.M{"version": int64(1)},
	}
}

func upsertUpdate(ref store.Ref, data map[string]any) bson.M {
	u := setUpdate(data)
	u["$setOnInsert"] = bson.M{"parent": ref.Parent().String()}
	return u
}

// normalize converts driver container types (bson.D, bson.M, bson.A) into
// plain maps and slices so callers never see BSON types.
func normalize(v any) any {
	switch t := v.(type) {
	case bson.M:
		return normalizeMap(t)
	case map[string]any:
		return normalizeMap(t)
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.A:
		return normalizeSlice(t)
	case []any:
		return normalizeSlice(t)
	default:
		return v
	}
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out
}

func normalizeSlice(s []any) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = normalize(v)
	}
	return out
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for the document collection.
func migrationIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "parent", Value: 1}, {Key: "_id", Value: 1}}},
	}
}
