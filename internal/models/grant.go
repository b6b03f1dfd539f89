package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// GrantType tags the kind of entitlement a grant carries. It doubles as the
// product type on catalog entries and line items.
type GrantType string

const (
	GrantCurrency GrantType = "CURRENCY"
	GrantVIP      GrantType = "VIP"
	GrantItem     GrantType = "ITEM"
)

// GrantStatus is the delivery state of a grant.
type GrantStatus string

const (
	GrantPending   GrantStatus = "PENDING"
	GrantDelivered GrantStatus = "DELIVERED"
	GrantFailed    GrantStatus = "FAILED"
)

// Grant is one unit of entitlement owed to a user. Grants are audit records
// and are never deleted.
type Grant struct {
	ID            string          `json:"grantId"`
	TransactionID *string         `json:"transactionId,omitempty"` // nil for admin-issued grants
	UserID        int             `json:"userId"`
	Type          GrantType       `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Status        GrantStatus     `json:"status"`
	IssuedBy      *int            `json:"issuedBy,omitempty"` // admin id, nil if system-issued
	CreatedAt     time.Time       `json:"createdAt"`
}

// CurrencyPayload credits in-game currency to the user's balance.
type CurrencyPayload struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

// VIPPayload sets the user's VIP tier and extends its expiry.
type VIPPayload struct {
	Tier string `json:"tier" validate:"required"`
	Days int    `json:"days" validate:"required,gt=0"`
}

// ItemPayload is a generic inventory delivery handled entirely by the game
// server; it has no local account effect.
type ItemPayload struct {
	ItemID   string `json:"itemId" validate:"required"`
	Quantity int    `json:"quantity" validate:"required,gt=0"`
}

// DecodeGrantPayload parses and validates a grant payload against its type
// tag. Called on ingress at the ledger boundary so malformed payloads never
// reach storage.
func DecodeGrantPayload(t GrantType, raw json.RawMessage) (any, error) {
	switch t {
	case GrantCurrency:
		var p CurrencyPayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		if p.Amount <= 0 {
			return nil, fmt.Errorf("currency payload: amount must be positive")
		}
		return &p, nil
	case GrantVIP:
		var p VIPPayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		if p.Tier == "" || p.Days <= 0 {
			return nil, fmt.Errorf("vip payload: tier and positive days required")
		}
		return &p, nil
	case GrantItem:
		var p ItemPayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		if p.ItemID == "" || p.Quantity <= 0 {
			return nil, fmt.Errorf("item payload: itemId and positive quantity required")
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("unknown grant type %q", t)
	}
}

func decodeStrict(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty payload")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}
