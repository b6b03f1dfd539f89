package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/lojacraft/backend/internal/models"
	"github.com/lojacraft/backend/internal/payments"
	"github.com/skip2/go-qrcode"
)

// Reconciler applies a provider status event to a transaction. Satisfied by
// WebhookService so poll-driven and webhook-driven reconciliation share one
// path.
type Reconciler interface {
	Reconcile(ctx context.Context, event *payments.WebhookEvent) error
}

// CheckoutService creates transactions from line-item lists, charges them
// through the PIX provider, and exposes the payment polling endpoints.
type CheckoutService struct {
	db         *sql.DB
	redis      *redis.Client
	ledger     *LedgerService
	provider   payments.Client
	reconciler Reconciler
	validator  *ValidationHelper
}

func NewCheckoutService(db *sql.DB, redisClient *redis.Client, ledger *LedgerService, provider payments.Client, reconciler Reconciler) *CheckoutService {
	return &CheckoutService{
		db:         db,
		redis:      redisClient,
		ledger:     ledger,
		provider:   provider,
		reconciler: reconciler,
		validator:  NewValidationHelper(),
	}
}

type checkoutItem struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gt=0,max=100"`
}

// CreatePayment creates a transaction plus PIX charge from a line-item list.
// @Summary Create a payment
// @Description Create a transaction and PIX charge from a list of products
// @Tags payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{items=[]checkoutItem} true "Checkout request"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /payments [post]
func (s *CheckoutService) CreatePayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Items []checkoutItem `json:"items" validate:"required,min=1,max=20,dive"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	items, err := s.buildLineItems(req.Items)
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			SendErrorResponse(w, "Insufficient stock", http.StatusConflict, nil)
			return
		}
		log.Printf("[CHECKOUT] Rejected checkout for user %d: %v", userID, err)
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	customer, err := s.customerFor(userID)
	if err != nil {
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	t := &models.Transaction{
		ID:       uuid.NewString(),
		UserID:   userID,
		Currency: "BRL",
		Items:    items,
	}
	t.Amount = t.ItemsTotal()

	description := fmt.Sprintf("Store order %s (%d items)", t.ID[:8], len(items))
	charge, err := s.provider.CreateCharge(r.Context(), t.Amount, description, t.ID, *customer)
	if err != nil {
		log.Printf("[CHECKOUT] Charge creation failed for user %d: %v", userID, err)
		SendErrorResponse(w, "Payment provider unavailable", http.StatusBadGateway, nil)
		return
	}

	t.PaymentRef = charge.PaymentID
	t.QRPayload = charge.QRPayload
	t.ExpiresAt = charge.ExpiresAt

	if err := s.ledger.CreateTransaction(t); err != nil {
		log.Printf("[CHECKOUT] Failed to store transaction %s: %v", t.ID, err)
		SendErrorResponse(w, "Failed to create transaction", http.StatusInternalServerError, nil)
		return
	}

	qrImage, err := renderQRImage(charge.QRPayload)
	if err != nil {
		log.Printf("[CHECKOUT] QR render failed for %s: %v", t.ID, err)
	}

	log.Printf("[CHECKOUT] Transaction %s created for user %d, amount %d %s", t.ID, userID, t.Amount, t.Currency)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"transactionId": t.ID,
		"amount":        t.Amount,
		"currency":      t.Currency,
		"status":        t.Status,
		"qrPayload":     t.QRPayload,
		"qrImage":       qrImage,
		"expiresAt":     t.ExpiresAt,
	})
}

// GetPayment retrieves one transaction with its line items.
// @Summary Get payment
// @Tags payments
// @Produce json
// @Security BearerAuth
// @Param paymentId path string true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} services.ErrorResponse
// @Router /payments/{paymentId} [get]
func (s *CheckoutService) GetPayment(w http.ResponseWriter, r *http.Request) {
	t, ok := s.ownedTransaction(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(t)
}

// GetPaymentStatus polls a transaction's status, reconciling against the
// provider while the transaction is still pending.
// @Summary Poll payment status
// @Tags payments
// @Produce json
// @Security BearerAuth
// @Param paymentId path string true "Transaction ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} services.ErrorResponse
// @Router /payments/{paymentId}/status [get]
func (s *CheckoutService) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	t, ok := s.ownedTransaction(w, r)
	if !ok {
		return
	}

	if t.Status == models.TxPending {
		if updated := s.reconcileOnRead(r.Context(), t); updated != nil {
			t = updated
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactionId": t.ID,
		"status":        t.Status,
		"expiresAt":     t.ExpiresAt,
	})
}

// CancelPayment cancels a transaction that is still pending.
// @Summary Cancel payment
// @Tags payments
// @Produce json
// @Security BearerAuth
// @Param paymentId path string true "Transaction ID"
// @Success 200 {object} map[string]string
// @Failure 409 {object} services.ErrorResponse
// @Router /payments/{paymentId}/cancel [post]
func (s *CheckoutService) CancelPayment(w http.ResponseWriter, r *http.Request) {
	t, ok := s.ownedTransaction(w, r)
	if !ok {
		return
	}

	userID, _ := userIDFromContext(r)
	prev, err := s.ledger.UpdateTransactionStatus(t.ID, models.TxCancelled, fmt.Sprintf("user:%d", userID))
	if err != nil {
		if errors.Is(err, ErrInvalidStatus) {
			SendErrorResponse(w, fmt.Sprintf("Transaction is already %s", prev), http.StatusConflict, nil)
			return
		}
		SendErrorResponse(w, "Failed to cancel transaction", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[CHECKOUT] Transaction %s cancelled by user %d", t.ID, userID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactionId": t.ID,
		"status":        models.TxCancelled,
	})
}

// ExpireStale sweeps pending transactions past their expiry into cancelled.
// No grant exists yet for a pending transaction, so nothing else is touched.
func (s *CheckoutService) ExpireStale() {
	ids, err := s.ledger.ExpiredPendingTransactions()
	if err != nil {
		log.Printf("[CHECKOUT] Expiration sweep query failed: %v", err)
		return
	}

	expired := 0
	for _, id := range ids {
		if _, err := s.ledger.UpdateTransactionStatus(id, models.TxCancelled, "sweep"); err != nil {
			if !errors.Is(err, ErrInvalidStatus) {
				log.Printf("[CHECKOUT] Failed to expire transaction %s: %v", id, err)
			}
			continue
		}
		expired++
	}
	if expired > 0 {
		log.Printf("[CHECKOUT] Expired %d stale pending transactions", expired)
	}
}

func (s *CheckoutService) buildLineItems(reqItems []checkoutItem) ([]models.LineItem, error) {
	items := make([]models.LineItem, 0, len(reqItems))
	for _, ri := range reqItems {
		var p models.Product
		var payload []byte
		err := s.db.QueryRow(`
			SELECT id, name, product_type, price, stock, payload, active
			FROM products WHERE id = $1
		`, ri.ProductID).Scan(&p.ID, &p.Name, &p.Type, &p.Price, &p.Stock, &payload, &p.Active)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, fmt.Errorf("unknown product %q", ri.ProductID)
			}
			return nil, err
		}
		if !p.Active {
			return nil, fmt.Errorf("product %q is not available", ri.ProductID)
		}
		if p.Stock != models.UnlimitedStock && p.Stock < ri.Quantity {
			return nil, ErrInsufficientStock
		}

		items = append(items, models.LineItem{
			ProductID:   p.ID,
			Name:        p.Name,
			UnitPrice:   p.Price,
			Quantity:    ri.Quantity,
			ProductType: p.Type,
			Payload:     payload,
		})
	}
	return items, nil
}

func (s *CheckoutService) customerFor(userID int) (*payments.Customer, error) {
	var c payments.Customer
	err := s.db.QueryRow(`SELECT username, email FROM users WHERE id = $1`, userID).
		Scan(&c.Name, &c.Email)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// reconcileOnRead asks the provider for the charge state and funnels any
// terminal answer through the shared reconciliation path. Polling is
// throttled per transaction so hot-looping clients don't hammer the PSP.
func (s *CheckoutService) reconcileOnRead(ctx context.Context, t *models.Transaction) *models.Transaction {
	if s.provider == nil {
		return nil
	}

	if s.redis != nil {
		key := fmt.Sprintf("pix:poll:%s", t.ID)
		acquired, err := s.redis.SetNX(ctx, key, "1", 20*time.Second).Result()
		if err == nil && !acquired {
			return nil
		}
	}

	state, err := s.provider.GetChargeStatus(ctx, t.PaymentRef)
	if err != nil {
		log.Printf("[CHECKOUT] Provider status poll failed for %s: %v", t.ID, err)
		return nil
	}
	if state.Status == payments.StatusPending {
		return nil
	}

	event := &payments.WebhookEvent{PaymentRef: t.PaymentRef, Status: state.Status}
	if err := s.reconciler.Reconcile(ctx, event); err != nil {
		log.Printf("[CHECKOUT] On-read reconciliation failed for %s: %v", t.ID, err)
		return nil
	}

	updated, err := s.ledger.GetTransaction(t.ID)
	if err != nil {
		return nil
	}
	return updated
}

func (s *CheckoutService) ownedTransaction(w http.ResponseWriter, r *http.Request) (*models.Transaction, bool) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return nil, false
	}

	t, err := s.ledger.GetTransaction(chi.URLParam(r, "paymentId"))
	if err != nil {
		if errors.Is(err, ErrUnknownTransaction) {
			SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch transaction", http.StatusInternalServerError, nil)
		}
		return nil, false
	}

	role, _ := r.Context().Value("role").(string)
	if t.UserID != userID && role != "admin" {
		// Transaction IDs are opaque, but don't leak existence either.
		SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		return nil, false
	}
	return t, true
}

func renderQRImage(payload string) (string, error) {
	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
