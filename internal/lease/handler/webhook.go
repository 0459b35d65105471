package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/jmerrifield20/sublease/internal/billing"
	"github.com/jmerrifield20/sublease/internal/lease/service"
)

const (
	// MaxWebhookBody is the largest webhook payload accepted.
	MaxWebhookBody = 1 << 20

	processedEventTTL = 24 * time.Hour
)

// EventHandler applies a verified billing event. *service.Orchestrator
// satisfies this interface.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev *billing.Event) (*service.Outcome, error)
}

// BillingWebhookHandler is the ingress for billing provider events.
type BillingWebhookHandler struct {
	provider  billing.Provider
	events    EventHandler
	processed *cache.Cache
	logger    *zap.Logger
}

// NewBillingWebhookHandler creates a new BillingWebhookHandler.
func NewBillingWebhookHandler(provider billing.Provider, events EventHandler, logger *zap.Logger) *BillingWebhookHandler {
	return &BillingWebhookHandler{
		provider:  provider,
		events:    events,
		processed: cache.New(processedEventTTL, time.Hour),
		logger:    logger,
	}
}

// Register mounts the webhook route on the given router group.
func (h *BillingWebhookHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/billing/webhook", h.Receive)
}

// Receive handles POST /billing/webhook.
//
// An unauthenticated payload is rejected with 400 and never processed.
// Processing errors answer 500 so the provider redelivers; business
// outcomes, rejections included, answer 200.
func (h *BillingWebhookHandler) Receive(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read payload"})
		return
	}

	ev, err := h.provider.ParseEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		msg, result := "malformed event", "malformed"
		if errors.Is(err, billing.ErrInvalidSignature) {
			msg, result = "invalid signature", "invalid_signature"
		}
		RecordBillingEvent("unknown", result)
		h.logger.Warn("billing event rejected", zap.String("ip", c.ClientIP()), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	if ev.ID != "" {
		if _, seen := h.processed.Get(ev.ID); seen {
			RecordBillingEvent(string(ev.Type), "duplicate")
			c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
			return
		}
	}

	out, err := h.events.HandleEvent(c.Request.Context(), ev)
	if err != nil {
		RecordBillingEvent(string(ev.Type), "error")
		h.logger.Error("billing event processing failed",
			zap.String("event_id", ev.ID),
			zap.String("type", ev.RawType),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event processing failed"})
		return
	}

	if ev.ID != "" {
		h.processed.SetDefault(ev.ID, struct{}{})
	}
	RecordBillingEvent(string(ev.Type), string(out.Action))
	h.logger.Info("billing event handled",
		zap.String("event_id", ev.ID),
		zap.String("type", ev.RawType),
		zap.String("action", string(out.Action)),
	)
	c.JSON(http.StatusOK, gin.H{"received": true, "outcome": out})
}
