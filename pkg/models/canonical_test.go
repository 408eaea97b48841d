package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeJSONSortsKeys(t *testing.T) {
	a, err := CanonicalizeJSON(json.RawMessage(`{"b":1,"a":{"y":2.50,"x":[true,null,"s"]}}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"x":[true,null,"s"],"y":2.5},"b":1}`, string(a))

	b, err := CanonicalizeJSON(json.RawMessage(`{ "a" : { "x":[true,null,"s"], "y":2.5 }, "b":1 }`))
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestCanonicalizeJSONRejectsGarbage(t *testing.T) {
	_, err := CanonicalizeJSON(json.RawMessage(`{"a":`))
	assert.Error(t, err)
}

func TestDedupKeyIsStableAndScoped(t *testing.T) {
	p := NormalizedPayload{EventType: "deal.updated", Attributes: map[string]interface{}{"dealStage": "closed_won", "amount": 10}}
	same := NormalizedPayload{EventType: "deal.updated", Attributes: map[string]interface{}{"amount": 10, "dealStage": "closed_won"}}

	k1, err := DedupKey("agency-1", "crm", p)
	require.NoError(t, err)
	k2, err := DedupKey("agency-1", "crm", same)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	other, err := DedupKey("agency-2", "crm", p)
	require.NoError(t, err)
	assert.NotEqual(t, k1, other)

	otherSource, err := DedupKey("agency-1", "analytics", p)
	require.NoError(t, err)
	assert.NotEqual(t, k1, otherSource)
}

func TestCallerCanAccess(t *testing.T) {
	assert.True(t, Caller{TenantID: "t1"}.CanAccess("t1"))
	assert.False(t, Caller{TenantID: "t1"}.CanAccess("t2"))
	assert.False(t, Caller{}.CanAccess(""))
	assert.True(t, Caller{SuperOperator: true}.CanAccess("t2"))
}
