package redis

import (
	"encoding/json"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/billing/store"
)

func TestKeys(t *testing.T) {
	s := New(redis.NewClient(&redis.Options{Addr: "localhost:0"}), WithPrefix("t"))
	defer s.Close()

	ref := store.Path("users", "alice", "billing_history", "le_1")
	assert.Equal(t, "t:doc:users/alice/billing_history/le_1", s.docKey(ref))
	assert.Equal(t, "t:col:users/alice/billing_history", s.colKey(ref.Parent()))
}

func TestDecodeHash(t *testing.T) {
	ref := store.Path("users", "alice")

	snap, err := decodeHash(ref, []any{nil, nil})
	require.NoError(t, err)
	assert.False(t, snap.Exists)
	assert.Equal(t, ref, snap.Ref)

	snap, err = decodeHash(ref, []any{`{"balance":9007199254740993,"currency":"usd"}`, "4"})
	require.NoError(t, err)
	assert.True(t, snap.Exists)
	assert.Equal(t, int64(4), snap.Version)
	assert.Equal(t, json.Number("9007199254740993"), snap.Data["balance"])
	assert.Equal(t, "usd", snap.Data["currency"])

	_, err = decodeHash(ref, []any{`{"balance":1}`, "x"})
	assert.Error(t, err)

	_, err = decodeHash(ref, []any{`not json`, "1"})
	assert.Error(t, err)
}

func TestCheckWrite(t *testing.T) {
	ref := store.Path("users", "alice")

	tests := []struct {
		name string
		m    store.Mutation
		cur  int64
		want error
	}{
		{"checked update current", store.Mutation{Ref: ref, Checked: true, BaseVersion: 3}, 3, nil},
		{"checked update stale", store.Mutation{Ref: ref, Checked: true, BaseVersion: 3}, 4, store.ErrConflict},
		{"checked create raced", store.Mutation{Ref: ref, Checked: true, Create: true}, 1, store.ErrConflict},
		{"blind create taken", store.Mutation{Ref: ref, Create: true}, 1, store.ErrAlreadyExists},
		{"blind create free", store.Mutation{Ref: ref, Create: true}, 0, nil},
		{"blind set", store.Mutation{Ref: ref}, 9, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkWrite(&tt.m, tt.cur)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
