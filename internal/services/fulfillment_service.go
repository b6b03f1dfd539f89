package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"github.com/go-redis/redis/v8"
	"github.com/lojacraft/backend/internal/models"
)

// Deliverer is the single-attempt delivery contract the fulfillment engine
// needs from the delivery coordinator.
type Deliverer interface {
	Deliver(ctx context.Context, grant *models.Grant) (*DeliveryResult, error)
}

// FulfillmentService converts an approved transaction into one grant per
// line item, applies immediate account effects, and attempts delivery.
type FulfillmentService struct {
	db       *sql.DB
	ledger   *LedgerService
	delivery Deliverer
	redis    *redis.Client
}

func NewFulfillmentService(db *sql.DB, ledger *LedgerService, delivery Deliverer, redisClient *redis.Client) *FulfillmentService {
	return &FulfillmentService{
		db:       db,
		ledger:   ledger,
		delivery: delivery,
		redis:    redisClient,
	}
}

// Fulfill processes every line item of an approved transaction in order.
// An error on one item is logged and contained: remaining items still run,
// and the transaction stays approved regardless. Unresolved items surface
// as pending or failed grants for operator follow-up.
func (s *FulfillmentService) Fulfill(ctx context.Context, transactionID string) error {
	t, err := s.ledger.GetTransaction(transactionID)
	if err != nil {
		return err
	}
	if t.Status != models.TxApproved {
		return fmt.Errorf("transaction %s is %s, not approved", t.ID, t.Status)
	}

	for i, item := range t.Items {
		if err := s.fulfillItem(ctx, t, item); err != nil {
			log.Printf("[FULFILL] Item %d (%s) of transaction %s failed: %v", i, item.ProductID, t.ID, err)
		}
	}

	s.notifyPurchase(ctx, t)
	return nil
}

func (s *FulfillmentService) fulfillItem(ctx context.Context, t *models.Transaction, item models.LineItem) error {
	payload, err := grantPayloadFor(item)
	if err != nil {
		return err
	}

	grant := &models.Grant{
		TransactionID: &t.ID,
		UserID:        t.UserID,
		Type:          item.ProductType,
		Payload:       payload,
	}
	if err := s.ledger.CreateGrant(grant); err != nil {
		return err
	}

	if err := s.ApplyAccountEffect(grant); err != nil {
		return err
	}

	// Local-effect grants are delivered for in-game notification only;
	// their correctness does not depend on the call landing. Item grants
	// stay pending until the game server accepts them.
	if res, err := s.delivery.Deliver(ctx, grant); err != nil {
		log.Printf("[FULFILL] Delivery of grant %s deferred: %v", grant.ID, err)
	} else if !res.Delivered {
		log.Printf("[FULFILL] Grant %s not delivered, retry in %s", grant.ID, res.RetryAfter)
	}

	return s.decrementStock(item)
}

// grantPayloadFor derives the grant payload from a line item, scaling by
// the purchased quantity.
func grantPayloadFor(item models.LineItem) (json.RawMessage, error) {
	decoded, err := models.DecodeGrantPayload(item.ProductType, item.Payload)
	if err != nil {
		return nil, err
	}

	switch p := decoded.(type) {
	case *models.CurrencyPayload:
		p.Amount *= int64(item.Quantity)
		return json.Marshal(p)
	case *models.VIPPayload:
		p.Days *= item.Quantity
		return json.Marshal(p)
	case *models.ItemPayload:
		p.Quantity *= item.Quantity
		return json.Marshal(p)
	default:
		return nil, fmt.Errorf("unhandled product type %q", item.ProductType)
	}
}

// ApplyAccountEffect applies the immediate local effect of a grant: currency
// credits the balance, VIP sets the tier and extends the expiry. Item grants
// have no local effect. The caller is responsible for invoking this exactly
// once per grant; nothing in the data model deduplicates a second call.
func (s *FulfillmentService) ApplyAccountEffect(grant *models.Grant) error {
	switch grant.Type {
	case models.GrantCurrency:
		var p models.CurrencyPayload
		if err := json.Unmarshal(grant.Payload, &p); err != nil {
			return err
		}
		result, err := s.db.Exec(`
			UPDATE users SET balance = balance + $1, updated_at = NOW() WHERE id = $2
		`, p.Amount, grant.UserID)
		if err != nil {
			return err
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return ErrUnknownUser
		}
		log.Printf("[FULFILL] Credited %d currency to user %d (grant %s)", p.Amount, grant.UserID, grant.ID)
		return nil

	case models.GrantVIP:
		var p models.VIPPayload
		if err := json.Unmarshal(grant.Payload, &p); err != nil {
			return err
		}
		// TODO: confirm with product whether stacking should extend from
		// the current expiry instead of from now.
		result, err := s.db.Exec(`
			UPDATE users SET vip_tier = $1, vip_expires_at = NOW() + $2 * INTERVAL '1 day', updated_at = NOW()
			WHERE id = $3
		`, p.Tier, p.Days, grant.UserID)
		if err != nil {
			return err
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return ErrUnknownUser
		}
		log.Printf("[FULFILL] Set VIP %s for %d days on user %d (grant %s)", p.Tier, p.Days, grant.UserID, grant.ID)
		return nil

	case models.GrantItem:
		return nil

	default:
		return fmt.Errorf("unhandled grant type %q", grant.Type)
	}
}

// decrementStock reduces finite stock by the purchased quantity, floored at
// zero. The unlimited sentinel is left untouched.
func (s *FulfillmentService) decrementStock(item models.LineItem) error {
	_, err := s.db.Exec(`
		UPDATE products SET stock = GREATEST(stock - $1, 0) WHERE id = $2 AND stock <> $3
	`, item.Quantity, item.ProductID, models.UnlimitedStock)
	return err
}

func (s *FulfillmentService) notifyPurchase(ctx context.Context, t *models.Transaction) {
	if s.redis == nil {
		log.Printf("[FULFILL] Purchase notification for transaction %s (user %d)", t.ID, t.UserID)
		return
	}

	payload, err := json.Marshal(map[string]any{
		"transactionId": t.ID,
		"userId":        t.UserID,
		"amount":        t.Amount,
		"currency":      t.Currency,
	})
	if err != nil {
		return
	}
	if err := s.redis.RPush(ctx, "notify:purchase", payload).Err(); err != nil {
		log.Printf("[FULFILL] Failed to queue purchase notification for %s: %v", t.ID, err)
	}
}
