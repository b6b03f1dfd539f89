package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/lojacraft/backend/internal/models"
	"github.com/lojacraft/backend/internal/payments"
	"github.com/spf13/viper"
)

// Fulfiller is the contract the reconciler needs from the fulfillment
// engine.
type Fulfiller interface {
	Fulfill(ctx context.Context, transactionID string) error
}

// WebhookService reconciles asynchronous payment-status callbacks onto
// transaction state. Providers redeliver webhooks at-least-once; the
// transaction status itself is the deduplication key, so a duplicate event
// is a no-op rather than a double fulfillment.
type WebhookService struct {
	ledger    *LedgerService
	fulfiller Fulfiller
	secret    []byte
}

func NewWebhookService(ledger *LedgerService, fulfiller Fulfiller) *WebhookService {
	return &WebhookService{
		ledger:    ledger,
		fulfiller: fulfiller,
		secret:    []byte(viper.GetString("pix.webhook_secret")),
	}
}

// HandleProviderWebhook receives payment-status callbacks from the PSP.
// @Summary Receive PIX webhook
// @Description Signature-verified payment status callback from the provider
// @Tags webhooks
// @Accept json
// @Produce json
// @Param payload body object true "Provider webhook envelope"
// @Success 200 {object} map[string]bool
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /webhooks/pix [post]
func (s *WebhookService) HandleProviderWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	// Signature is checked before any state is touched.
	if !s.VerifySignature(body, r.Header.Get("X-Webhook-Signature")) {
		log.Printf("[WEBHOOK] Invalid signature from IP: %s", r.RemoteAddr)
		SendErrorResponse(w, "Invalid signature", http.StatusUnauthorized, nil)
		return
	}

	event, err := payments.ParseWebhook(body)
	if err != nil {
		log.Printf("[WEBHOOK] Malformed payload from IP: %s: %v", r.RemoteAddr, err)
		SendErrorResponse(w, "Malformed payload", http.StatusBadRequest, nil)
		return
	}

	if err := s.Reconcile(r.Context(), event); err != nil {
		if errors.Is(err, ErrUnknownTransaction) {
			// Logged, not fatal: the provider retries and the event can
			// be inspected manually.
			log.Printf("[WEBHOOK] Unknown transaction for ref %q", event.PaymentRef)
			SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[WEBHOOK] Reconciliation failed for ref %q: %v", event.PaymentRef, err)
		SendErrorResponse(w, "Failed to process webhook", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"received": true})
}

// VerifySignature compares the provider's HMAC-SHA256 signature over the
// raw body against one computed with the shared secret, in constant time.
func (s *WebhookService) VerifySignature(body []byte, signature string) bool {
	if len(s.secret) == 0 || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	signature = strings.TrimPrefix(signature, "sha256=")
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Reconcile maps a normalized provider event onto a transaction state
// transition exactly once per effective status change, and triggers
// fulfillment when the transition is pending->approved.
func (s *WebhookService) Reconcile(ctx context.Context, event *payments.WebhookEvent) error {
	var t *models.Transaction
	var err error
	if event.TransactionID != "" {
		t, err = s.ledger.GetTransaction(event.TransactionID)
	} else {
		t, err = s.ledger.FindTransactionByPaymentRef(event.PaymentRef)
	}
	if err != nil {
		return err
	}

	newStatus := transactionStatusFor(event.Status)
	if newStatus == "" || newStatus == models.TxPending {
		log.Printf("[WEBHOOK] Ignoring non-terminal status %q for transaction %s", event.Status, t.ID)
		return nil
	}

	if t.Status == newStatus {
		log.Printf("[WEBHOOK] Duplicate event for transaction %s (already %s)", t.ID, t.Status)
		return nil
	}

	prev, err := s.ledger.UpdateTransactionStatus(t.ID, newStatus, "webhook")
	if err != nil {
		if errors.Is(err, ErrInvalidStatus) {
			// Lost the race against a concurrent delivery or the sweep;
			// the first writer already handled the transition.
			log.Printf("[WEBHOOK] Transaction %s already terminal (%s), ignoring %s", t.ID, prev, newStatus)
			return nil
		}
		return err
	}

	switch {
	case prev == models.TxPending && newStatus == models.TxApproved:
		if err := s.fulfiller.Fulfill(ctx, t.ID); err != nil {
			// The transaction stays approved; unresolved items are
			// visible as pending/failed grants for operators.
			log.Printf("[WEBHOOK] Fulfillment for transaction %s failed: %v", t.ID, err)
		}
	default:
		log.Printf("[WEBHOOK] Transaction %s moved %s -> %s, no fulfillment", t.ID, prev, newStatus)
	}
	return nil
}

func transactionStatusFor(status payments.ChargeStatus) models.TransactionStatus {
	switch status {
	case payments.StatusApproved:
		return models.TxApproved
	case payments.StatusCancelled:
		return models.TxCancelled
	case payments.StatusPending:
		return models.TxPending
	default:
		return ""
	}
}
