package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/vizboardhq/vizboard/internal/api/respond"
	"github.com/vizboardhq/vizboard/internal/model"
	"gorm.io/gorm"
)

// BillingHandler applies billing provider webhooks to organization records.
// Upstream payloads are projected into a small typed event; nothing from the
// provider is stored or echoed verbatim.
type BillingHandler struct {
	db  *gorm.DB
	log *slog.Logger
}

// NewBillingHandler creates a BillingHandler.
func NewBillingHandler(db *gorm.DB, log *slog.Logger) *BillingHandler {
	return &BillingHandler{db: db, log: log}
}

// billingEvent is the typed projection of a provider webhook. Only the
// fields the platform acts on are decoded.
type billingEvent struct {
	EventID        string `json:"event_id"`
	EventType      string `json:"event_type"`
	OrganizationID string `json:"organization_id"`
	PlanType       string `json:"plan_type"`
	Seats          int    `json:"seats"`
	Credits        int    `json:"credits"`
}

const (
	eventSubscriptionUpdated  = "subscription.updated"
	eventSubscriptionCanceled = "subscription.canceled"
	eventCreditsGranted       = "credits.granted"
)

// Webhook handles POST /api/v1/billing/webhook. Deliveries are idempotent:
// an event id that was already applied is acknowledged without re-applying.
func (h *BillingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	var ev billingEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil || ev.EventID == "" || ev.EventType == "" || ev.OrganizationID == "" {
		respond.Error(w, http.StatusBadRequest, "event_id, event_type and organization_id are required")
		return
	}

	err := h.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		var seen int64
		if err := tx.Model(&model.ProcessedWebhookEvent{}).
			Where("id = ?", ev.EventID).
			Count(&seen).Error; err != nil {
			return err
		}
		if seen > 0 {
			return errAlreadyProcessed
		}

		var org model.Organization
		if err := tx.First(&org, "id = ?", ev.OrganizationID).Error; err != nil {
			return err
		}

		updates, err := h.apply(&org, ev)
		if err != nil {
			return err
		}
		if len(updates) > 0 {
			if err := tx.Model(&org).Updates(updates).Error; err != nil {
				return err
			}
		}
		return tx.Create(&model.ProcessedWebhookEvent{
			ID:          ev.EventID,
			EventType:   ev.EventType,
			ProcessedAt: time.Now().UTC(),
		}).Error
	})
	switch {
	case errors.Is(err, errAlreadyProcessed):
		respond.JSON(w, http.StatusOK, map[string]string{"status": "already_processed"})
	case errors.Is(err, errUnknownEvent):
		respond.Error(w, http.StatusBadRequest, "unknown event_type")
	case err != nil:
		respond.DomainError(w, err)
	default:
		h.log.Info("billing event applied", "event_type", ev.EventType, "organization_id", ev.OrganizationID)
		respond.JSON(w, http.StatusOK, map[string]string{"status": "applied"})
	}
}

var (
	errAlreadyProcessed = errors.New("billing event already processed")
	errUnknownEvent     = errors.New("unknown billing event type")
)

func (h *BillingHandler) apply(org *model.Organization, ev billingEvent) (map[string]any, error) {
	switch ev.EventType {
	case eventSubscriptionUpdated:
		updates := map[string]any{}
		switch model.PlanType(ev.PlanType) {
		case model.PlanFree, model.PlanPro, model.PlanTeam:
			updates["plan_type"] = ev.PlanType
		case "":
		default:
			return nil, errUnknownEvent
		}
		if ev.Seats > 0 {
			updates["seats_purchased"] = ev.Seats
		}
		return updates, nil
	case eventSubscriptionCanceled:
		// Seats already granted stay; only the plan reverts.
		return map[string]any{"plan_type": model.PlanFree}, nil
	case eventCreditsGranted:
		if ev.Credits <= 0 {
			return nil, errUnknownEvent
		}
		return map[string]any{"credits_balance": org.CreditsBalance + ev.Credits}, nil
	default:
		return nil, errUnknownEvent
	}
}
