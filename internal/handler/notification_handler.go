package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/cardforge/connector/internal/service"
)

// NotificationHandler receives asynchronous gateway callbacks. Responses
// follow each provider's contract rather than the API envelope: ePDQ and
// Worldpay expect a bare acknowledgement body, Stripe expects a 2xx status.
// Payloads the pipeline drops (bad signature, unparseable, unknown
// transaction) are still acknowledged so the provider does not redeliver
// junk forever; only our own internal failures return 5xx to trigger a
// redelivery.
type NotificationHandler struct {
	notifications *service.NotificationService
}

// NewNotificationHandler constructs a NotificationHandler.
func NewNotificationHandler(notifications *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// HandleEpdq handles POST /v1/notifications/epdq
func (h *NotificationHandler) HandleEpdq(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "")
		return
	}
	if err := h.notifications.HandleEpdq(c.Request.Context(), string(body)); err != nil {
		log.Error().Err(err).Msg("ePDQ notification processing failed")
		c.String(http.StatusInternalServerError, "")
		return
	}
	c.String(http.StatusOK, "[OK]")
}

// HandleWorldpay handles POST /v1/notifications/worldpay/:secret
func (h *NotificationHandler) HandleWorldpay(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "")
		return
	}
	if err := h.notifications.HandleWorldpay(c.Request.Context(), body, c.Param("secret")); err != nil {
		log.Error().Err(err).Msg("Worldpay notification processing failed")
		c.String(http.StatusInternalServerError, "")
		return
	}
	c.String(http.StatusOK, "[OK]")
}

// HandleStripe handles POST /v1/notifications/stripe
func (h *NotificationHandler) HandleStripe(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "")
		return
	}
	signature := c.GetHeader("Stripe-Signature")
	if err := h.notifications.HandleStripe(c.Request.Context(), payload, signature); err != nil {
		log.Error().Err(err).Msg("Stripe webhook processing failed")
		c.String(http.StatusInternalServerError, "")
		return
	}
	c.Status(http.StatusOK)
}
