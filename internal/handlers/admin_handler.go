package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/lojacraft/backend/internal/gameserver"
	"github.com/lojacraft/backend/internal/models"
	"github.com/lojacraft/backend/internal/services"
)

// AdminHandler exposes the operator surface: manual grants, re-delivery of
// failed grants, and delivery-queue management.
type AdminHandler struct {
	ledger      *services.LedgerService
	fulfillment *services.FulfillmentService
	delivery    *services.DeliveryService
	server      gameserver.Client
	validator   *services.ValidationHelper
}

func NewAdminHandler(ledger *services.LedgerService, fulfillment *services.FulfillmentService, delivery *services.DeliveryService, server gameserver.Client) *AdminHandler {
	return &AdminHandler{
		ledger:      ledger,
		fulfillment: fulfillment,
		delivery:    delivery,
		server:      server,
		validator:   services.NewValidationHelper(),
	}
}

// CreateGrant issues a manual grant outside any purchase.
// @Summary Create manual grant
// @Description Issue a grant to a user without a purchase (compensation, promotion)
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{userId=int,type=string,payload=object} true "Grant request"
// @Success 201 {object} models.Grant
// @Failure 400 {object} services.ErrorResponse
// @Router /admin/grants [post]
func (h *AdminHandler) CreateGrant(w http.ResponseWriter, r *http.Request) {
	adminID, ok := r.Context().Value("userID").(int)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		UserID  int             `json:"userId" validate:"required,gt=0"`
		Type    string          `json:"type" validate:"required,oneof=CURRENCY VIP ITEM"`
		Payload json.RawMessage `json:"payload" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	grant := &models.Grant{
		UserID:   req.UserID,
		Type:     models.GrantType(req.Type),
		Payload:  req.Payload,
		IssuedBy: &adminID,
	}
	if err := h.ledger.CreateGrant(grant); err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	// The local account effect happens once, here. Later re-deliveries only
	// repeat the game-server call.
	if err := h.fulfillment.ApplyAccountEffect(grant); err != nil {
		log.Printf("[ADMIN] Account effect for grant %s failed: %v", grant.ID, err)
		services.SendErrorResponse(w, "Failed to apply grant effect", http.StatusInternalServerError, nil)
		return
	}

	if res, err := h.delivery.DeliverWithRetry(r.Context(), grant); err != nil {
		log.Printf("[ADMIN] Delivery of manual grant %s failed: %v", grant.ID, err)
	} else if res != nil && !res.Delivered {
		log.Printf("[ADMIN] Manual grant %s not delivered yet", grant.ID)
	}

	log.Printf("[ADMIN] Admin %d issued %s grant %s to user %d", adminID, grant.Type, grant.ID, grant.UserID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(grant)
}

// DeliverGrant retries delivery of a pending or failed grant. Account
// effects were applied when the grant was created and are not repeated.
// @Summary Re-deliver grant
// @Description Retry game-server delivery for a pending or failed grant
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param grantId path string true "Grant ID"
// @Success 200 {object} services.DeliveryResult
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/grants/{grantId}/deliver [post]
func (h *AdminHandler) DeliverGrant(w http.ResponseWriter, r *http.Request) {
	grant, err := h.ledger.GetGrant(chi.URLParam(r, "grantId"))
	if err != nil {
		if errors.Is(err, services.ErrUnknownGrant) {
			services.SendErrorResponse(w, "Grant not found", http.StatusNotFound, nil)
		} else {
			services.SendErrorResponse(w, "Failed to fetch grant", http.StatusInternalServerError, nil)
		}
		return
	}

	if grant.Status == models.GrantDelivered {
		services.SendErrorResponse(w, "Grant already delivered", http.StatusConflict, nil)
		return
	}

	res, err := h.delivery.DeliverWithRetry(r.Context(), grant)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"grantId":   grant.ID,
		"status":    grant.Status,
		"delivered": res.Delivered,
	})
}

// GetQueue lists the pending delivery backlog.
// @Summary List delivery queue
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{grants=[]models.Grant,count=int}
// @Router /admin/queue [get]
func (h *AdminHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	grants, err := h.ledger.PendingGrants(500)
	if err != nil {
		services.SendErrorResponse(w, "Failed to list queue", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"grants": grants,
		"count":  len(grants),
	})
}

// ProcessQueue runs one delivery pass over the pending backlog.
// @Summary Process delivery queue
// @Description Attempt delivery once for every pending grant
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} services.QueueReport
// @Router /admin/queue/process [post]
func (h *AdminHandler) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	report, err := h.delivery.ProcessPendingQueue(r.Context())
	if err != nil {
		services.SendErrorResponse(w, "Queue processing failed", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// ServerStatus reports game-server reachability and player count.
// @Summary Game server status
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} gameserver.ServerStatus
// @Failure 502 {object} services.ErrorResponse
// @Router /admin/server/status [get]
func (h *AdminHandler) ServerStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.server.GetStatus(r.Context())
	if err != nil {
		services.SendErrorResponse(w, "Game server unreachable", http.StatusBadGateway, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
