package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ChargeStatus is the normalized provider-side status of a PIX charge.
type ChargeStatus string

const (
	StatusPending   ChargeStatus = "PENDING"
	StatusApproved  ChargeStatus = "APPROVED"
	StatusCancelled ChargeStatus = "CANCELLED"
)

// ErrMalformedPayload is returned when a webhook body cannot be parsed into
// a normalized event.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// Charge is the provider's response to a charge creation.
type Charge struct {
	PaymentID string    `json:"paymentId"`
	QRPayload string    `json:"qrPayload"` // PIX copy-paste string
	ExpiresAt time.Time `json:"expiresAt"`
}

// ChargeState is the provider's current view of a charge.
type ChargeState struct {
	Status ChargeStatus `json:"status"`
	PaidAt *time.Time   `json:"paidAt,omitempty"`
	Amount int64        `json:"amount"`
}

// Customer identifies the payer on the charge.
type Customer struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Document string `json:"document,omitempty"` // CPF/CNPJ
}

// Client is the payment-provider boundary.
type Client interface {
	CreateCharge(ctx context.Context, amount int64, description, externalRef string, customer Customer) (*Charge, error)
	GetChargeStatus(ctx context.Context, paymentID string) (*ChargeState, error)
}

// PixClient talks to the PIX PSP's REST API.
type PixClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewPixClient builds a client from viper config.
func NewPixClient() *PixClient {
	viper.SetDefault("pix.base_url", "https://api.pix-provider.example.com")
	viper.SetDefault("pix.timeout", 15*time.Second)

	return &PixClient{
		baseURL: strings.TrimRight(viper.GetString("pix.base_url"), "/"),
		apiKey:  viper.GetString("pix.api_key"),
		client:  &http.Client{Timeout: viper.GetDuration("pix.timeout")},
	}
}

func (c *PixClient) CreateCharge(ctx context.Context, amount int64, description, externalRef string, customer Customer) (*Charge, error) {
	body := map[string]any{
		"amount":      amount,
		"currency":    "BRL",
		"description": description,
		"externalRef": externalRef,
		"customer":    customer,
	}

	var resp struct {
		PaymentID string `json:"paymentId"`
		QRPayload string `json:"qrPayload"`
		ExpiresAt string `json:"expiresAt"`
	}
	if err := c.post(ctx, "/v1/charges", body, &resp); err != nil {
		return nil, err
	}

	expiresAt, err := time.Parse(time.RFC3339, resp.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("provider returned invalid expiry %q: %w", resp.ExpiresAt, err)
	}

	return &Charge{PaymentID: resp.PaymentID, QRPayload: resp.QRPayload, ExpiresAt: expiresAt}, nil
}

func (c *PixClient) GetChargeStatus(ctx context.Context, paymentID string) (*ChargeState, error) {
	var resp struct {
		Status string `json:"status"`
		PaidAt string `json:"paidAt"`
		Amount int64  `json:"amount"`
	}
	if err := c.get(ctx, "/v1/charges/"+paymentID, &resp); err != nil {
		return nil, err
	}

	state := &ChargeState{Status: NormalizeStatus(resp.Status), Amount: resp.Amount}
	if resp.PaidAt != "" {
		if paidAt, err := time.Parse(time.RFC3339, resp.PaidAt); err == nil {
			state.PaidAt = &paidAt
		}
	}
	return state, nil
}

func (c *PixClient) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *PixClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *PixClient) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Printf("[PIX] Provider request failed: %v", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("[PIX] Provider returned status %d for %s", resp.StatusCode, req.URL.Path)
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// WebhookEvent is a normalized payment-status callback.
type WebhookEvent struct {
	PaymentRef    string
	TransactionID string // set when the envelope carries our externalRef
	Status        ChargeStatus
}

// ParseWebhook normalizes the provider envelope into a {ref, status} pair.
// Two envelope kinds are accepted: the provider-specific event wrapper and a
// flat {paymentId, status} object used by the sandbox.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var envelope struct {
		Event string `json:"event"`
		Data  struct {
			PaymentID   string `json:"paymentId"`
			ExternalRef string `json:"externalRef"`
			Status      string `json:"status"`
		} `json:"data"`
		PaymentID string `json:"paymentId"`
		Status    string `json:"status"`
	}

	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, ErrMalformedPayload
	}

	ev := &WebhookEvent{}
	switch {
	case envelope.Event != "":
		ev.PaymentRef = envelope.Data.PaymentID
		ev.TransactionID = envelope.Data.ExternalRef
		ev.Status = NormalizeStatus(envelope.Data.Status)
	default:
		ev.PaymentRef = envelope.PaymentID
		ev.Status = NormalizeStatus(envelope.Status)
	}

	if (ev.PaymentRef == "" && ev.TransactionID == "") || ev.Status == "" {
		return nil, ErrMalformedPayload
	}
	return ev, nil
}

// NormalizeStatus maps provider status vocabulary onto the three statuses
// the storefront understands. Unknown values normalize to empty.
func NormalizeStatus(s string) ChargeStatus {
	switch strings.ToUpper(s) {
	case "PENDING", "ATIVA", "CREATED", "WAITING":
		return StatusPending
	case "APPROVED", "PAID", "CONCLUIDA", "COMPLETED":
		return StatusApproved
	case "CANCELLED", "CANCELED", "EXPIRED", "REMOVIDA_PELO_USUARIO_RECEBEDOR", "FAILED", "REFUSED":
		return StatusCancelled
	default:
		return ""
	}
}
