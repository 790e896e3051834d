package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/cardforge/connector/internal/service"
	"github.com/cardforge/connector/internal/utils"
)

// RefundHandler handles refund HTTP endpoints.
type RefundHandler struct {
	refundService *service.RefundService
}

// NewRefundHandler constructs a RefundHandler.
func NewRefundHandler(refundService *service.RefundService) *RefundHandler {
	return &RefundHandler{refundService: refundService}
}

type createRefundBody struct {
	Amount int64 `json:"amount" binding:"required"`

	// AmountAvailable is the availability the caller last saw. A stale value
	// is rejected so two operators cannot both refund the same remainder.
	AmountAvailable int64  `json:"amountAvailable" binding:"required"`
	SubmittedBy     string `json:"submittedBy"`
}

// CreateRefund handles POST /v1/charges/:chargeId/refunds
func (h *RefundHandler) CreateRefund(c *gin.Context) {
	var body createRefundBody
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.Error(c, 400, "MISSING_FIELD", "Invalid request body")
		return
	}

	refund, err := h.refundService.Create(c.Request.Context(),
		c.Param("chargeId"), body.Amount, body.AmountAvailable, body.SubmittedBy)
	if err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 202, "Refund submitted", refund)
}

// GetRefund handles GET /v1/refunds/:refundId
func (h *RefundHandler) GetRefund(c *gin.Context) {
	refund, err := h.refundService.Get(c.Request.Context(), c.Param("refundId"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 200, "Refund retrieved", refund)
}

// GetRefundAvailability handles GET /v1/charges/:chargeId/refunds/availability
func (h *RefundHandler) GetRefundAvailability(c *gin.Context) {
	available, err := h.refundService.AmountAvailable(c.Request.Context(), c.Param("chargeId"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 200, "Refund availability retrieved", gin.H{"amountAvailable": available})
}

func (h *RefundHandler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrChargeNotFound):
		utils.Error(c, 404, "CHARGE_NOT_FOUND", "Charge not found")
	case errors.Is(err, utils.ErrRefundNotFound):
		utils.Error(c, 404, "REFUND_NOT_FOUND", "Refund not found")
	case errors.Is(err, utils.ErrInvalidAmount):
		utils.Error(c, 400, "INVALID_AMOUNT", "Amount must be a positive number of minor units")
	case errors.Is(err, utils.ErrRefundAmountMismatch):
		utils.Error(c, 412, "REFUND_AMOUNT_MISMATCH", "Refund availability changed, refresh and retry")
	case errors.Is(err, utils.ErrRefundNotAvailable):
		utils.Error(c, 400, "REFUND_NOT_AVAILABLE", "Amount exceeds what remains refundable")
	case errors.Is(err, utils.ErrChargeTerminal), errors.Is(err, utils.ErrIllegalStateTransition):
		utils.Error(c, 409, "CHARGE_NOT_REFUNDABLE", "Charge is not in a refundable state")
	case errors.Is(err, utils.ErrGatewayConnection):
		utils.Error(c, 502, "GATEWAY_UNAVAILABLE", "Payment gateway could not be reached")
	default:
		utils.Error(c, 500, "INTERNAL_ERROR", "Internal server error")
	}
}
