package ws

import (
	"testing"

	"github.com/omer3110/livecart-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound_ValidMutate(t *testing.T) {
	msg, err := decodeInbound([]byte(`{
		"type": "mutate",
		"product_id": "p1",
		"op": "set_quantity",
		"value": 3,
		"base_version": 2,
		"name": "milk",
		"prices": [{"brand_name": "acme", "price": 2.5}]
	}`))
	require.NoError(t, err)

	in := msg.intent()
	assert.Equal(t, "p1", in.ProductID)
	assert.Equal(t, domain.OpSetQuantity, in.Op)
	assert.Equal(t, 3, in.Value)
	assert.Equal(t, int64(2), in.BaseVersion)
	assert.Equal(t, "milk", in.Name)
	require.Len(t, in.Prices, 1)
	assert.Equal(t, 2.5, in.Prices[0].Price)
}

func TestDecodeInbound_ValidRemove(t *testing.T) {
	msg, err := decodeInbound([]byte(`{"type":"mutate","product_id":"p1","op":"remove","base_version":0}`))
	require.NoError(t, err)
	assert.Equal(t, domain.OpRemove, msg.intent().Op)
}

func TestDecodeInbound_Leave(t *testing.T) {
	msg, err := decodeInbound([]byte(`{"type":"leave"}`))
	require.NoError(t, err)
	assert.Equal(t, messageLeave, msg.Type)
}

func TestDecodeInbound_Violations(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"malformed json", `{"type":"mutate"`},
		{"unknown type", `{"type":"shout"}`},
		{"missing product", `{"type":"mutate","op":"remove","base_version":0}`},
		{"missing base version", `{"type":"mutate","product_id":"p1","op":"remove"}`},
		{"negative base version", `{"type":"mutate","product_id":"p1","op":"remove","base_version":-1}`},
		{"unknown op", `{"type":"mutate","product_id":"p1","op":"increment","base_version":0}`},
		{"set without value", `{"type":"mutate","product_id":"p1","op":"set_quantity","base_version":0}`},
		{"negative value", `{"type":"mutate","product_id":"p1","op":"set_quantity","value":-2,"base_version":0}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeInbound([]byte(tc.payload))
			assert.Error(t, err)
		})
	}
}

func TestDecodeInbound_ZeroValueIsValid(t *testing.T) {
	// Quantity zero is a legal write; it behaves as a remove downstream.
	msg, err := decodeInbound([]byte(`{"type":"mutate","product_id":"p1","op":"set_quantity","value":0,"base_version":1}`))
	require.NoError(t, err)
	assert.Equal(t, 0, msg.intent().Value)
}
