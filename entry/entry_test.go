package entry_test

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/billing/entry"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/types"
)

func sample() *entry.Entry {
	return &entry.Entry{
		ID:               id.NewEntryID(),
		AccountID:        "alice",
		ServiceID:        "echo",
		UnitsUsed:        3,
		UnitPrice:        types.USD(10),
		Cost:             types.USD(30),
		ResultingBalance: types.USD(70),
		Timestamp:        time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC),
	}
}

func TestDocRoundTrip(t *testing.T) {
	e := sample()
	back, err := entry.FromDoc(e.ToDoc())
	require.NoError(t, err)
	assert.Equal(t, e.ID.String(), back.ID.String())
	back.ID = e.ID
	assert.Equal(t, e, back)
}

// Documents that went through a JSON column come back with json.Number.
func TestFromDocDecodedNumbers(t *testing.T) {
	e := sample()
	raw, err := json.Marshal(e.ToDoc())
	require.NoError(t, err)

	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&doc))

	back, err := entry.FromDoc(doc)
	require.NoError(t, err)
	assert.Equal(t, int64(30), back.Cost.Amount)
	assert.Equal(t, "usd", back.ResultingBalance.Currency)
}

func TestFromDocRejectsBadFields(t *testing.T) {
	doc := sample().ToDoc()
	doc["cost"] = "thirty"
	_, err := entry.FromDoc(doc)
	assert.Error(t, err)

	doc = sample().ToDoc()
	doc["entry_id"] = "req_01h2xcejqtf2nbrexx3vqjhp41"
	_, err = entry.FromDoc(doc)
	assert.Error(t, err)
}
