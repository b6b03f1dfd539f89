package models

import (
	"encoding/json"
	"time"
)

// TransactionStatus is the lifecycle state of a checkout attempt.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "PENDING"
	TxApproved  TransactionStatus = "APPROVED"
	TxCancelled TransactionStatus = "CANCELLED"
	TxFailed    TransactionStatus = "FAILED"
)

// Terminal reports whether no further status transition is accepted.
func (s TransactionStatus) Terminal() bool {
	return s == TxApproved || s == TxCancelled || s == TxFailed
}

// LineItem is an immutable snapshot of one purchased product at checkout
// time. Catalog price changes after checkout never alter it.
type LineItem struct {
	ProductID   string          `json:"productId" validate:"required"`
	Name        string          `json:"name"`
	UnitPrice   int64           `json:"unitPrice" validate:"gte=0"` // minor units (centavos)
	Quantity    int             `json:"quantity" validate:"required,gt=0"`
	ProductType GrantType       `json:"productType" validate:"required"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Subtotal returns the line total in minor units.
func (li LineItem) Subtotal() int64 {
	return li.UnitPrice * int64(li.Quantity)
}

// Transaction represents one checkout/payment attempt.
type Transaction struct {
	ID         string            `json:"transactionId"`
	UserID     int               `json:"userId"`
	Amount     int64             `json:"amount"` // minor units, equals sum of line subtotals
	Currency   string            `json:"currency"`
	Status     TransactionStatus `json:"status"`
	PaymentRef string            `json:"paymentRef"`
	QRPayload  string            `json:"qrPayload,omitempty"`
	ExpiresAt  time.Time         `json:"expiresAt"`
	Items      []LineItem        `json:"items"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// ItemsTotal sums the line-item subtotals.
func (t *Transaction) ItemsTotal() int64 {
	var total int64
	for _, li := range t.Items {
		total += li.Subtotal()
	}
	return total
}
