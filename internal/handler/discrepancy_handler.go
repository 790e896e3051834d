package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/cardforge/connector/internal/service"
	"github.com/cardforge/connector/internal/utils"
)

// DiscrepancyHandler exposes the operator reconciliation endpoints. Routes
// using it sit behind JWT auth; these are sharp tools.
type DiscrepancyHandler struct {
	discrepancies *service.DiscrepancyService
}

// NewDiscrepancyHandler constructs a DiscrepancyHandler.
func NewDiscrepancyHandler(discrepancies *service.DiscrepancyService) *DiscrepancyHandler {
	return &DiscrepancyHandler{discrepancies: discrepancies}
}

// InspectCharge handles GET /v1/admin/discrepancies/:chargeId
func (h *DiscrepancyHandler) InspectCharge(c *gin.Context) {
	report, err := h.discrepancies.Inspect(c.Request.Context(), c.Param("chargeId"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 200, "Discrepancy report", report)
}

// ForceCancelCharge handles POST /v1/admin/discrepancies/:chargeId/cancel
func (h *DiscrepancyHandler) ForceCancelCharge(c *gin.Context) {
	report, err := h.discrepancies.ForceCancel(c.Request.Context(), c.Param("chargeId"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	message := "No action taken"
	if report.EligibleForCancel {
		message = "Charge cancelled"
	}
	utils.Success(c, 200, message, report)
}

func (h *DiscrepancyHandler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrChargeNotFound):
		utils.Error(c, 404, "CHARGE_NOT_FOUND", "Charge not found")
	case errors.Is(err, utils.ErrUnknownGateway):
		utils.Error(c, 400, "UNKNOWN_GATEWAY", "Gateway is not configured")
	case errors.Is(err, utils.ErrStatusQueryUnsupported):
		utils.Error(c, 400, "STATUS_QUERY_UNSUPPORTED", "Gateway does not support status queries")
	case errors.Is(err, utils.ErrGatewayConnection):
		utils.Error(c, 502, "GATEWAY_UNAVAILABLE", "Payment gateway could not be reached")
	default:
		utils.Error(c, 500, "INTERNAL_ERROR", "Internal server error")
	}
}
