package stripehook

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefAcceptsStringOrObject(t *testing.T) {
	var v struct {
		A ref `json:"a"`
		B ref `json:"b"`
		C ref `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"cus_1","b":{"id":"cus_2","email":"x"},"c":null}`), &v))
	assert.Equal(t, "cus_1", v.A.ID)
	assert.Equal(t, "cus_2", v.B.ID)
	assert.Empty(t, v.C.ID)
}

func TestLinePriceFallbacks(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{"price object", `{"price":{"id":"price_a"}}`, "price_a"},
		{"pricing details", `{"pricing":{"price_details":{"price":"price_b"}}}`, "price_b"},
		{"legacy plan", `{"plan":{"id":"plan_c"}}`, "plan_c"},
		{"nothing", `{}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var li lineItem
			require.NoError(t, json.Unmarshal([]byte(tt.line), &li))
			assert.Equal(t, tt.want, li.priceID())
		})
	}
}

func TestInvoiceSubscriptionID(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"subscription":"sub_classic"}`, "sub_classic"},
		{`{"subscription":{"id":"sub_expanded"}}`, "sub_expanded"},
		{`{"subscription_details":{"subscription":"sub_preview"}}`, "sub_preview"},
		{`{"parent":{"subscription_details":{"subscription":"sub_parent"}}}`, "sub_parent"},
		{`{"subscription":"sub_x","parent":{"subscription_details":{"subscription":"sub_p"}}}`, "sub_p"},
	}
	for _, tt := range tests {
		var inv invoice
		require.NoError(t, json.Unmarshal([]byte(tt.body), &inv))
		assert.Equal(t, tt.want, inv.subscriptionID(), tt.body)
	}
}

func TestCheckoutExternalID(t *testing.T) {
	s := checkoutSession{Metadata: map[string]string{"user_id": "u2"}, ClientReferenceID: "u3"}
	assert.Equal(t, "u2", s.externalID())

	s.Metadata["userId"] = "u1"
	assert.Equal(t, "u1", s.externalID())

	assert.Equal(t, "u3", checkoutSession{ClientReferenceID: "u3"}.externalID())
}
