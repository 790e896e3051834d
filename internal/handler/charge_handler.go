package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/cardforge/connector/internal/models"
	"github.com/cardforge/connector/internal/service"
	"github.com/cardforge/connector/internal/utils"
)

// ChargeHandler handles charge lifecycle HTTP endpoints.
type ChargeHandler struct {
	chargeService *service.ChargeService
}

// NewChargeHandler constructs a ChargeHandler.
func NewChargeHandler(chargeService *service.ChargeService) *ChargeHandler {
	return &ChargeHandler{chargeService: chargeService}
}

type createChargeBody struct {
	Amount              int64  `json:"amount" binding:"required"`
	Description         string `json:"description"`
	Reference           string `json:"reference"`
	Gateway             string `json:"gateway" binding:"required"`
	AuthorisationMode   string `json:"authorisationMode"`
	StoredInstrumentRef string `json:"storedInstrumentRef"`
	CorporateSurcharge  *int64 `json:"corporateSurcharge"`
}

type cardBody struct {
	CardNumber string `json:"cardNumber" binding:"required"`
	Expiry     string `json:"expiry" binding:"required"`
	CVC        string `json:"cvc"`
	HolderName string `json:"holderName"`
}

// CreateCharge handles POST /v1/charges
func (h *ChargeHandler) CreateCharge(c *gin.Context) {
	var body createChargeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.Error(c, 400, "MISSING_FIELD", "Invalid request body")
		return
	}

	mode := models.AuthorisationMode(body.AuthorisationMode)
	if mode == "" {
		mode = models.AuthModeWeb
	}

	charge, err := h.chargeService.Create(c.Request.Context(), &service.CreateChargeRequest{
		Amount:              body.Amount,
		Description:         body.Description,
		Reference:           body.Reference,
		Gateway:             models.GatewayName(body.Gateway),
		AuthMode:            mode,
		StoredInstrumentRef: body.StoredInstrumentRef,
		CorporateSurcharge:  body.CorporateSurcharge,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	utils.Success(c, 201, "Charge created", charge)
}

// GetCharge handles GET /v1/charges/:chargeId
func (h *ChargeHandler) GetCharge(c *gin.Context) {
	charge, err := h.chargeService.Get(c.Request.Context(), c.Param("chargeId"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 200, "Charge retrieved", charge)
}

// GetChargeEvents handles GET /v1/charges/:chargeId/events
func (h *ChargeHandler) GetChargeEvents(c *gin.Context) {
	events, err := h.chargeService.Events(c.Request.Context(), c.Param("chargeId"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 200, "Charge events retrieved", events)
}

// StartCardEntry handles POST /v1/charges/:chargeId/card-entry
func (h *ChargeHandler) StartCardEntry(c *gin.Context) {
	charge, err := h.chargeService.MarkEnteringCardDetails(c.Request.Context(), c.Param("chargeId"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 200, "Card entry started", charge)
}

// AuthoriseCharge handles POST /v1/charges/:chargeId/authorise
func (h *ChargeHandler) AuthoriseCharge(c *gin.Context) {
	var body cardBody
	// Agreement charges carry no card body; interactive ones must.
	if err := c.ShouldBindJSON(&body); err != nil && c.Request.ContentLength > 0 {
		utils.Error(c, 400, "MISSING_FIELD", "Invalid card details")
		return
	}

	charge, err := h.chargeService.Authorise(c.Request.Context(), c.Param("chargeId"), service.CardDetails{
		Number:     body.CardNumber,
		Expiry:     body.Expiry,
		CVC:        body.CVC,
		HolderName: body.HolderName,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 200, "Authorisation processed", charge)
}

// GetChallenge handles GET /v1/charges/:chargeId/3ds
func (h *ChargeHandler) GetChallenge(c *gin.Context) {
	html, err := h.chargeService.Challenge(c.Request.Context(), c.Param("chargeId"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.Data(200, "text/html; charset=utf-8", []byte(html))
}

// RequestCapture handles POST /v1/charges/:chargeId/capture
func (h *ChargeHandler) RequestCapture(c *gin.Context) {
	charge, err := h.chargeService.RequestCapture(c.Request.Context(), c.Param("chargeId"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 202, "Capture requested", charge)
}

// CancelCharge handles POST /v1/charges/:chargeId/cancel
func (h *ChargeHandler) CancelCharge(c *gin.Context) {
	charge, err := h.chargeService.Cancel(c.Request.Context(), c.Param("chargeId"), models.UserCancelFlow)
	if err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 200, "Cancellation processed", charge)
}

func (h *ChargeHandler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrChargeNotFound):
		utils.Error(c, 404, "CHARGE_NOT_FOUND", "Charge not found")
	case errors.Is(err, utils.ErrChallengeNotFound):
		utils.Error(c, 404, "CHALLENGE_NOT_FOUND", "No pending 3DS challenge for this charge")
	case errors.Is(err, utils.ErrInvalidAmount):
		utils.Error(c, 400, "INVALID_AMOUNT", "Amount must be a positive number of minor units")
	case errors.Is(err, utils.ErrUnknownGateway):
		utils.Error(c, 400, "UNKNOWN_GATEWAY", "Gateway is not configured")
	case errors.Is(err, utils.ErrStoredInstrumentMissing):
		utils.Error(c, 400, "MISSING_FIELD", "Agreement charges require a stored instrument reference")
	case errors.Is(err, utils.ErrDuplicateReference):
		utils.Error(c, 409, "DUPLICATE_REFERENCE", "Reference already exists")
	case errors.Is(err, utils.ErrChargeTerminal):
		utils.Error(c, 409, "CHARGE_TERMINAL", "Charge is in a terminal state")
	case errors.Is(err, utils.ErrChargeNotCancellable):
		utils.Error(c, 409, "CHARGE_NOT_CANCELLABLE", "Charge cannot be cancelled in its current state")
	case errors.Is(err, utils.ErrOperationInProgress):
		utils.Error(c, 409, "OPERATION_IN_PROGRESS", "Another operation is already in progress")
	case errors.Is(err, utils.ErrIllegalStateTransition):
		utils.Error(c, 409, "ILLEGAL_STATE_TRANSITION", "Operation not allowed in the charge's current state")
	case errors.Is(err, utils.ErrConflict):
		utils.Error(c, 409, "CONFLICT", "Charge was modified concurrently, retry")
	case errors.Is(err, utils.ErrGatewayConnection):
		utils.Error(c, 502, "GATEWAY_UNAVAILABLE", "Payment gateway could not be reached")
	default:
		utils.Error(c, 500, "INTERNAL_ERROR", "Internal server error")
	}
}
