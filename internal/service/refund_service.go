package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cardforge/connector/internal/events"
	"github.com/cardforge/connector/internal/models"
	"github.com/cardforge/connector/internal/utils"
)

// RefundService drives refund creation and completion. Refund creation is
// guarded by a client-visible optimistic-concurrency contract: the caller
// supplies the amount-available value it observed, and the creation is
// rejected when the persisted availability has since changed.
type RefundService struct {
	charges  ChargeStore
	refunds  RefundStore
	gateways *GatewayRegistry
	emitter  *events.Emitter
}

// NewRefundService constructs a RefundService.
func NewRefundService(charges ChargeStore, refunds RefundStore, gateways *GatewayRegistry, emitter *events.Emitter) *RefundService {
	return &RefundService{charges: charges, refunds: refunds, gateways: gateways, emitter: emitter}
}

// AmountAvailable returns how much of the charge can still be refunded.
func (s *RefundService) AmountAvailable(ctx context.Context, chargeExternalID string) (int64, error) {
	charge, err := s.charges.FindByExternalID(chargeExternalID)
	if err != nil {
		return 0, err
	}
	refunded, err := s.refunds.SumNonErrored(charge.ID)
	if err != nil {
		return 0, err
	}
	return charge.Amount - refunded, nil
}

// Create creates and submits a refund. expectedAvailable is the
// amount-available snapshot the caller observed; a stale snapshot is
// rejected with utils.ErrRefundAmountMismatch so at most one of two racing
// callers wins.
func (s *RefundService) Create(ctx context.Context, chargeExternalID string, amount, expectedAvailable int64, submittedBy string) (*models.Refund, error) {
	if amount <= 0 {
		return nil, utils.ErrInvalidAmount
	}
	charge, err := s.charges.FindByExternalID(chargeExternalID)
	if err != nil {
		return nil, err
	}
	if charge.Status != models.StatusCaptured {
		return nil, fmt.Errorf("%w: charge %s is %s", utils.ErrRefundNotAvailable, chargeExternalID, charge.Status)
	}

	externalID, err := utils.GenerateRefundID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate refund id: %w", err)
	}
	refund := &models.Refund{
		ExternalID:       externalID,
		ChargeExternalID: charge.ExternalID,
		ChargeID:         charge.ID,
		Amount:           amount,
		Status:           models.RefundCreated,
		SubmittedBy:      submittedBy,
		CreatedAt:        time.Now().UTC(),
	}

	// The store re-derives availability inside its own transaction and
	// compares it to the caller's snapshot; lost updates surface here.
	if err := s.refunds.CreateWithAvailabilityCheck(refund, expectedAvailable); err != nil {
		return nil, err
	}

	gateway, ok := s.gateways.Get(charge.Gateway)
	if !ok {
		return refund, fmt.Errorf("%w: %s", utils.ErrUnknownGateway, charge.Gateway)
	}

	refundStart := time.Now()
	result, err := gateway.Refund(ctx, charge, refund)
	observeGateway(charge.Gateway, "refund", refundStart)
	if err != nil {
		// Transport failure before the gateway definitely saw the refund:
		// mark it errored so its amount is released.
		s.moveRefund(ctx, refund, models.RefundError)
		return refund, fmt.Errorf("%w: %v", utils.ErrGatewayConnection, err)
	}

	if result.TransactionID != "" {
		if err := s.refunds.SetGatewayTransactionID(refund.ID, result.TransactionID); err != nil {
			log.Error().Err(err).Str("refund_id", refund.ExternalID).
				Msg("Failed to record refund gateway transaction id")
		}
		refund.GatewayTransactionID = &result.TransactionID
	}

	switch result.State {
	case StateComplete:
		s.moveRefund(ctx, refund, models.RefundSubmitted)
		s.moveRefund(ctx, refund, models.RefundComplete)
	case StatePending:
		s.moveRefund(ctx, refund, models.RefundSubmitted)
	default:
		s.moveRefund(ctx, refund, models.RefundError)
	}
	return refund, nil
}

// Get returns a refund by external id.
func (s *RefundService) Get(ctx context.Context, externalID string) (*models.Refund, error) {
	return s.refunds.FindByExternalID(externalID)
}

// ApplyGatewayOutcome converges a submitted refund onto a gateway-reported
// terminal state. Used by notification reconciliation; idempotent and
// conflict-tolerant like every other writer.
func (s *RefundService) ApplyGatewayOutcome(ctx context.Context, chargeID int64, succeeded bool) error {
	refund, err := s.refunds.FindSubmittedForCharge(chargeID)
	if err != nil {
		if errors.Is(err, utils.ErrRefundNotFound) {
			log.Debug().Int64("charge_id", chargeID).
				Msg("Refund notification with no submitted refund, ignoring")
			return nil
		}
		return err
	}
	next := models.RefundError
	if succeeded {
		next = models.RefundComplete
	}
	s.moveRefund(ctx, refund, next)
	return nil
}

// moveRefund CASes the refund forward and emits the status event. A lost
// race means another writer already applied an equivalent or later status.
func (s *RefundService) moveRefund(ctx context.Context, refund *models.Refund, next models.RefundStatus) {
	if !models.CanTransitionRefund(refund.Status, next) {
		log.Warn().Str("refund_id", refund.ExternalID).
			Str("from", string(refund.Status)).Str("to", string(next)).
			Msg("Illegal refund transition, ignoring")
		return
	}
	ok, err := s.refunds.CompareAndSetStatus(refund.ID, refund.Status, next)
	if err != nil {
		log.Error().Err(err).Str("refund_id", refund.ExternalID).Msg("Failed to persist refund status")
		return
	}
	if !ok {
		log.Debug().Str("refund_id", refund.ExternalID).Msg("Refund transitioned concurrently")
		return
	}
	refund.Status = next
	s.emitter.Emit(ctx, events.RefundStatusChanged, events.Payload{
		ResourceID: refund.ExternalID,
		Status:     string(next),
		Details: map[string]any{
			"chargeId": refund.ChargeExternalID,
			"amount":   refund.Amount,
		},
	})
}
