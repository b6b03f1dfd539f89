package models

import (
	"encoding/json"
	"time"
)

// UnlimitedStock is the sentinel for products that never run out.
const UnlimitedStock = -1

// Product is a catalog entry. Price is in minor units; Payload is the
// type-specific template copied into line items at checkout.
type Product struct {
	ID          string          `json:"productId"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Type        GrantType       `json:"type"`
	Price       int64           `json:"price"`
	Stock       int             `json:"stock"` // -1 = unlimited
	Payload     json.RawMessage `json:"payload,omitempty"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"createdAt"`
}
