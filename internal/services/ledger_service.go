package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lojacraft/backend/internal/models"
)

// LedgerService owns Transaction and Grant records. All status changes go
// through it: updates are single-record, run under a row lock so concurrent
// callers serialize, and every status-changing call appends one audit row.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// CreateTransaction inserts a new checkout attempt. The amount must equal
// the sum of line-item subtotals; the item list is stored as an immutable
// snapshot.
func (s *LedgerService) CreateTransaction(t *models.Transaction) error {
	if t.Amount != t.ItemsTotal() {
		return fmt.Errorf("amount %d does not match line-item total %d", t.Amount, t.ItemsTotal())
	}
	if len(t.Items) == 0 {
		return fmt.Errorf("transaction has no line items")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	itemsJSON, err := json.Marshal(t.Items)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	t.Status = models.TxPending
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err = tx.Exec(`
		INSERT INTO transactions
		(id, user_id, amount, currency, status, payment_ref, qr_payload, expires_at, items, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, t.ID, t.UserID, t.Amount, t.Currency, t.Status, t.PaymentRef, t.QRPayload, t.ExpiresAt, itemsJSON, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return err
	}

	if err := s.appendAudit(tx, "system", "TX_CREATE", t.ID, map[string]any{
		"userId": t.UserID, "amount": t.Amount, "currency": t.Currency, "status": t.Status,
	}); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateTransactionStatus performs a compare-and-set style transition under
// a row lock and returns the previous status. Transitions out of a terminal
// state are refused with ErrInvalidStatus; setting the same status again is
// a no-op so duplicate webhook deliveries stay harmless.
func (s *LedgerService) UpdateTransactionStatus(id string, status models.TransactionStatus, actor string) (models.TransactionStatus, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var prev models.TransactionStatus
	err = tx.QueryRow(`SELECT status FROM transactions WHERE id = $1 FOR UPDATE`, id).Scan(&prev)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrUnknownTransaction
		}
		return "", err
	}

	if prev == status {
		return prev, tx.Commit()
	}
	if prev.Terminal() {
		return prev, ErrInvalidStatus
	}

	if _, err := tx.Exec(`UPDATE transactions SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now(), id); err != nil {
		return prev, err
	}

	if err := s.appendAudit(tx, actor, "TX_STATUS", id, map[string]any{
		"before": prev, "after": status,
	}); err != nil {
		return prev, err
	}

	return prev, tx.Commit()
}

// CreateGrant inserts a pending grant. The payload is validated against its
// type tag here, at the ledger boundary, so malformed blobs never persist.
func (s *LedgerService) CreateGrant(g *models.Grant) error {
	if _, err := models.DecodeGrantPayload(g.Type, g.Payload); err != nil {
		return fmt.Errorf("grant payload rejected: %w", err)
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	g.Status = models.GrantPending
	g.CreatedAt = time.Now()

	actor := "system"
	if g.IssuedBy != nil {
		actor = fmt.Sprintf("admin:%d", *g.IssuedBy)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO grants
		(id, transaction_id, user_id, grant_type, payload, status, issued_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, g.ID, g.TransactionID, g.UserID, g.Type, []byte(g.Payload), g.Status, g.IssuedBy, g.CreatedAt)
	if err != nil {
		return err
	}

	if err := s.appendAudit(tx, actor, "GRANT_CREATE", g.ID, map[string]any{
		"userId": g.UserID, "type": g.Type, "status": g.Status,
	}); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateGrantStatus moves a grant through its state machine. Allowed:
// pending->delivered, pending->failed, and failed->delivered (an explicit
// re-delivery). Delivered is final and nothing ever returns to pending.
func (s *LedgerService) UpdateGrantStatus(id string, status models.GrantStatus, actor string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var prev models.GrantStatus
	err = tx.QueryRow(`SELECT status FROM grants WHERE id = $1 FOR UPDATE`, id).Scan(&prev)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrUnknownGrant
		}
		return err
	}

	if prev == status {
		return tx.Commit()
	}
	if !grantTransitionAllowed(prev, status) {
		return ErrInvalidStatus
	}

	if _, err := tx.Exec(`UPDATE grants SET status = $1 WHERE id = $2`, status, id); err != nil {
		return err
	}

	if err := s.appendAudit(tx, actor, "GRANT_STATUS", id, map[string]any{
		"before": prev, "after": status,
	}); err != nil {
		return err
	}

	return tx.Commit()
}

func grantTransitionAllowed(from, to models.GrantStatus) bool {
	switch from {
	case models.GrantPending:
		return to == models.GrantDelivered || to == models.GrantFailed
	case models.GrantFailed:
		return to == models.GrantDelivered
	default:
		return false
	}
}

// GetTransaction fetches one transaction with its line-item snapshot.
func (s *LedgerService) GetTransaction(id string) (*models.Transaction, error) {
	return s.scanTransaction(s.db.QueryRow(`
		SELECT id, user_id, amount, currency, status, payment_ref, qr_payload, expires_at, items, created_at, updated_at
		FROM transactions WHERE id = $1
	`, id))
}

// FindTransactionByPaymentRef resolves a transaction through the unique
// index on the external payment reference.
func (s *LedgerService) FindTransactionByPaymentRef(ref string) (*models.Transaction, error) {
	return s.scanTransaction(s.db.QueryRow(`
		SELECT id, user_id, amount, currency, status, payment_ref, qr_payload, expires_at, items, created_at, updated_at
		FROM transactions WHERE payment_ref = $1
	`, ref))
}

func (s *LedgerService) scanTransaction(row *sql.Row) (*models.Transaction, error) {
	t := &models.Transaction{}
	var itemsJSON []byte
	err := row.Scan(&t.ID, &t.UserID, &t.Amount, &t.Currency, &t.Status, &t.PaymentRef,
		&t.QRPayload, &t.ExpiresAt, &itemsJSON, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUnknownTransaction
		}
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &t.Items); err != nil {
		return nil, fmt.Errorf("corrupt line-item snapshot for %s: %w", t.ID, err)
	}
	return t, nil
}

// GetGrant fetches one grant.
func (s *LedgerService) GetGrant(id string) (*models.Grant, error) {
	g := &models.Grant{}
	var payload []byte
	err := s.db.QueryRow(`
		SELECT id, transaction_id, user_id, grant_type, payload, status, issued_by, created_at
		FROM grants WHERE id = $1
	`, id).Scan(&g.ID, &g.TransactionID, &g.UserID, &g.Type, &payload, &g.Status, &g.IssuedBy, &g.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUnknownGrant
		}
		return nil, err
	}
	g.Payload = payload
	return g, nil
}

// PendingGrants lists the delivery backlog, oldest first.
func (s *LedgerService) PendingGrants(limit int) ([]models.Grant, error) {
	rows, err := s.db.Query(`
		SELECT id, transaction_id, user_id, grant_type, payload, status, issued_by, created_at
		FROM grants WHERE status = $1 ORDER BY created_at ASC LIMIT $2
	`, models.GrantPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	grants := []models.Grant{}
	for rows.Next() {
		g := models.Grant{}
		var payload []byte
		if err := rows.Scan(&g.ID, &g.TransactionID, &g.UserID, &g.Type, &payload,
			&g.Status, &g.IssuedBy, &g.CreatedAt); err != nil {
			return nil, err
		}
		g.Payload = payload
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// ApprovedTransactionsSince lists approved transactions updated at or after
// the given time, oldest first, for settlement export.
func (s *LedgerService) ApprovedTransactionsSince(since time.Time) ([]models.Transaction, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, amount, currency, status, payment_ref, qr_payload, expires_at, items, created_at, updated_at
		FROM transactions WHERE status = $1 AND updated_at >= $2 ORDER BY updated_at ASC
	`, models.TxApproved, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		t := models.Transaction{}
		var itemsJSON []byte
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Currency, &t.Status, &t.PaymentRef,
			&t.QRPayload, &t.ExpiresAt, &itemsJSON, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(itemsJSON, &t.Items); err != nil {
			return nil, fmt.Errorf("corrupt line-item snapshot for %s: %w", t.ID, err)
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

// ExpiredPendingTransactions lists pending checkouts past their expiry, for
// the background sweep.
func (s *LedgerService) ExpiredPendingTransactions() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT id FROM transactions WHERE status = $1 AND expires_at < $2
	`, models.TxPending, time.Now())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *LedgerService) appendAudit(tx *sql.Tx, actor, action, entityID string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO audit_log (actor, action, entity_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, actor, action, entityID, detailJSON, time.Now())
	if err != nil {
		log.Printf("[LEDGER] Failed to append audit entry %s/%s: %v", action, entityID, err)
	}
	return err
}
