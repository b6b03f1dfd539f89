package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeGrantPayload(t *testing.T) {
	t.Run("currency", func(t *testing.T) {
		decoded, err := DecodeGrantPayload(GrantCurrency, json.RawMessage(`{"amount":500}`))
		assert.NoError(t, err)
		assert.Equal(t, &CurrencyPayload{Amount: 500}, decoded)
	})

	t.Run("vip", func(t *testing.T) {
		decoded, err := DecodeGrantPayload(GrantVIP, json.RawMessage(`{"tier":"gold","days":30}`))
		assert.NoError(t, err)
		assert.Equal(t, &VIPPayload{Tier: "gold", Days: 30}, decoded)
	})

	t.Run("item", func(t *testing.T) {
		decoded, err := DecodeGrantPayload(GrantItem, json.RawMessage(`{"itemId":"diamond_sword","quantity":2}`))
		assert.NoError(t, err)
		assert.Equal(t, &ItemPayload{ItemID: "diamond_sword", Quantity: 2}, decoded)
	})

	t.Run("rejections", func(t *testing.T) {
		cases := []struct {
			name    string
			kind    GrantType
			payload string
		}{
			{"zero currency", GrantCurrency, `{"amount":0}`},
			{"negative currency", GrantCurrency, `{"amount":-100}`},
			{"vip without tier", GrantVIP, `{"days":30}`},
			{"vip with zero days", GrantVIP, `{"tier":"gold","days":0}`},
			{"item without id", GrantItem, `{"quantity":1}`},
			{"item with zero quantity", GrantItem, `{"itemId":"sword","quantity":0}`},
			{"empty payload", GrantCurrency, ``},
			{"invalid json", GrantItem, `{`},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := DecodeGrantPayload(tc.kind, json.RawMessage(tc.payload))
				assert.Error(t, err)
			})
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := DecodeGrantPayload(GrantType("LOOTBOX"), json.RawMessage(`{}`))
		assert.Error(t, err)
	})
}

func TestTransactionStatus_Terminal(t *testing.T) {
	assert.False(t, TxPending.Terminal())
	assert.True(t, TxApproved.Terminal())
	assert.True(t, TxCancelled.Terminal())
	assert.True(t, TxFailed.Terminal())
}

func TestTransaction_ItemsTotal(t *testing.T) {
	tx := Transaction{
		Items: []LineItem{
			{UnitPrice: 100, Quantity: 3},
			{UnitPrice: 2000, Quantity: 1},
		},
	}
	assert.Equal(t, int64(2300), tx.ItemsTotal())
}
