package services

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/lojacraft/backend/internal/gameserver"
	"github.com/lojacraft/backend/internal/models"
	"github.com/spf13/viper"
)

// Retry hints proposed to callers when a delivery attempt does not land.
// Offline recipients get the longer hint since they stay offline for a
// while; transport hiccups get the shorter one.
const (
	retryTransient = 15 * time.Second
	retryOffline   = 60 * time.Second
)

// DeliveryResult is the outcome of a single delivery attempt.
type DeliveryResult struct {
	Delivered  bool          `json:"delivered"`
	RetryAfter time.Duration `json:"retryAfterSeconds,omitempty"`
}

// QueueReport aggregates one bulk pass over the pending backlog.
type QueueReport struct {
	Processed int `json:"processed"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"` // no linked game identity
}

// DeliveryService drives the retry protocol against the game-server
// boundary and is the only writer of grant delivery status.
type DeliveryService struct {
	db     *sql.DB
	ledger *LedgerService
	server gameserver.Client

	attempts int
	delay    time.Duration
}

func NewDeliveryService(db *sql.DB, ledger *LedgerService, server gameserver.Client) *DeliveryService {
	viper.SetDefault("delivery.attempts", 3)
	viper.SetDefault("delivery.retry_delay", 5*time.Second)

	return &DeliveryService{
		db:       db,
		ledger:   ledger,
		server:   server,
		attempts: viper.GetInt("delivery.attempts"),
		delay:    viper.GetDuration("delivery.retry_delay"),
	}
}

// Deliver performs a single delivery attempt for a grant. Transport errors
// and offline recipients are retryable outcomes, not errors: the grant stays
// pending and the result carries a retry hint. An identity that fails the
// namespace allow-list is unresolvable and moves the grant to failed.
func (s *DeliveryService) Deliver(ctx context.Context, grant *models.Grant) (*DeliveryResult, error) {
	identity, err := s.gameIdentity(grant.UserID)
	if err != nil {
		return nil, err
	}

	if err := gameserver.ValidateIdentity(identity); err != nil {
		log.Printf("[DELIVERY] Grant %s has unresolvable identity %q: %v", grant.ID, identity, err)
		if uerr := s.ledger.UpdateGrantStatus(grant.ID, models.GrantFailed, "delivery"); uerr != nil {
			log.Printf("[DELIVERY] Failed to mark grant %s failed: %v", grant.ID, uerr)
		}
		grant.Status = models.GrantFailed
		return &DeliveryResult{Delivered: false}, err
	}

	var txID string
	if grant.TransactionID != nil {
		txID = *grant.TransactionID
	}

	res, err := s.server.Deliver(ctx, identity, string(grant.Type), grant.Payload, txID)
	if err != nil {
		log.Printf("[DELIVERY] Grant %s: game server unreachable: %v", grant.ID, err)
		return &DeliveryResult{Delivered: false, RetryAfter: retryTransient}, nil
	}

	if res.Success {
		if err := s.ledger.UpdateGrantStatus(grant.ID, models.GrantDelivered, "delivery"); err != nil {
			return nil, err
		}
		grant.Status = models.GrantDelivered
		log.Printf("[DELIVERY] Grant %s delivered to %s", grant.ID, identity)
		return &DeliveryResult{Delivered: true}, nil
	}

	if !res.RecipientOnline {
		log.Printf("[DELIVERY] Grant %s: recipient %s offline", grant.ID, identity)
		return &DeliveryResult{Delivered: false, RetryAfter: retryOffline}, nil
	}
	return &DeliveryResult{Delivered: false, RetryAfter: retryTransient}, nil
}

// DeliverWithRetry performs up to the configured number of attempts with a
// fixed inter-attempt delay, returning on the first success. This path
// blocks the calling request and is meant for interactive/admin delivery,
// not bulk processing. Exhausting the budget moves the grant to failed.
func (s *DeliveryService) DeliverWithRetry(ctx context.Context, grant *models.Grant) (*DeliveryResult, error) {
	var last *DeliveryResult
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if attempt > 1 {
			time.Sleep(s.delay)
		}

		res, err := s.Deliver(ctx, grant)
		if err != nil {
			return nil, err
		}
		if res.Delivered {
			return res, nil
		}
		last = res
	}

	log.Printf("[DELIVERY] Grant %s: %d attempts exhausted", grant.ID, s.attempts)
	if err := s.ledger.UpdateGrantStatus(grant.ID, models.GrantFailed, "delivery"); err != nil {
		log.Printf("[DELIVERY] Failed to mark grant %s failed: %v", grant.ID, err)
	}
	grant.Status = models.GrantFailed
	return last, nil
}

// ProcessPendingQueue makes exactly one delivery attempt per pending grant.
// Intended for periodic reconciliation of the backlog, e.g. players who were
// offline at purchase time and have since logged in.
func (s *DeliveryService) ProcessPendingQueue(ctx context.Context) (*QueueReport, error) {
	grants, err := s.ledger.PendingGrants(500)
	if err != nil {
		return nil, err
	}

	report := &QueueReport{}
	for i := range grants {
		grant := &grants[i]
		report.Processed++

		res, err := s.Deliver(ctx, grant)
		switch {
		case errors.Is(err, ErrNoGameIdentity):
			report.Skipped++
		case err != nil:
			report.Failed++
		case res.Delivered:
			report.Delivered++
		default:
			report.Failed++
		}
	}

	log.Printf("[DELIVERY] Queue pass: processed=%d delivered=%d failed=%d skipped=%d",
		report.Processed, report.Delivered, report.Failed, report.Skipped)
	return report, nil
}

func (s *DeliveryService) gameIdentity(userID int) (string, error) {
	var identity sql.NullString
	err := s.db.QueryRow(`SELECT game_identity FROM users WHERE id = $1`, userID).Scan(&identity)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrUnknownUser
		}
		return "", err
	}
	if !identity.Valid || identity.String == "" {
		return "", ErrNoGameIdentity
	}
	return identity.String, nil
}
