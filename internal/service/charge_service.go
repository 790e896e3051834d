package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cardforge/connector/internal/events"
	"github.com/cardforge/connector/internal/models"
	"github.com/cardforge/connector/internal/queue"
	"github.com/cardforge/connector/internal/utils"
)

// ChargeService drives the charge lifecycle: creation, authorisation,
// capture scheduling, cancellation, and the charge-facing task operations
// the queue workers invoke.
type ChargeService struct {
	charges  ChargeStore
	refunds  RefundStore
	fees     FeeStore
	history  ChargeEventStore
	sm       *StateMachine
	gateways *GatewayRegistry
	tasks    queue.TaskQueue
	emitter  *events.Emitter

	// challenges is optional; gateways without a 3-D Secure flow never
	// produce anything to store.
	challenges ChallengeStore

	captureMaxAttempts int
}

// SetChallengeStore wires the 3-D Secure challenge store.
func (s *ChargeService) SetChallengeStore(store ChallengeStore) {
	s.challenges = store
}

// NewChargeService constructs a ChargeService.
func NewChargeService(
	charges ChargeStore,
	refunds RefundStore,
	fees FeeStore,
	history ChargeEventStore,
	sm *StateMachine,
	gateways *GatewayRegistry,
	tasks queue.TaskQueue,
	emitter *events.Emitter,
	captureMaxAttempts int,
) *ChargeService {
	return &ChargeService{
		charges:            charges,
		refunds:            refunds,
		fees:               fees,
		history:            history,
		sm:                 sm,
		gateways:           gateways,
		tasks:              tasks,
		emitter:            emitter,
		captureMaxAttempts: captureMaxAttempts,
	}
}

// CreateChargeRequest is the validated input for charge creation.
type CreateChargeRequest struct {
	Amount              int64
	Description         string
	Reference           string
	Gateway             models.GatewayName
	AuthMode            models.AuthorisationMode
	StoredInstrumentRef string
	CorporateSurcharge  *int64
}

// Create persists a new charge in its initial status and records the first
// history entry.
func (s *ChargeService) Create(ctx context.Context, req *CreateChargeRequest) (*models.Charge, error) {
	if req.Amount <= 0 {
		return nil, utils.ErrInvalidAmount
	}
	if _, ok := s.gateways.Get(req.Gateway); !ok {
		return nil, fmt.Errorf("%w: %s", utils.ErrUnknownGateway, req.Gateway)
	}
	if req.AuthMode == models.AuthModeAgreement && req.StoredInstrumentRef == "" {
		return nil, utils.ErrStoredInstrumentMissing
	}

	externalID, err := utils.GenerateChargeID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate charge id: %w", err)
	}

	charge := &models.Charge{
		ExternalID:         externalID,
		Amount:             req.Amount,
		Description:        req.Description,
		Reference:          req.Reference,
		Status:             models.StatusCreated,
		Gateway:            req.Gateway,
		AuthMode:           req.AuthMode,
		CorporateSurcharge: req.CorporateSurcharge,
		CreatedAt:          time.Now().UTC(),
	}
	if req.StoredInstrumentRef != "" {
		charge.StoredInstrumentRef = &req.StoredInstrumentRef
	}

	if err := s.charges.Create(charge); err != nil {
		return nil, fmt.Errorf("failed to create charge: %w", err)
	}
	if err := s.history.Append(charge.ID, models.StatusCreated, charge.CreatedAt); err != nil {
		log.Error().Err(err).Str("charge_id", charge.ExternalID).
			Msg("CRITICAL: failed to append creation history record")
	}
	return charge, nil
}

// Get returns a charge by external id.
func (s *ChargeService) Get(ctx context.Context, externalID string) (*models.Charge, error) {
	return s.charges.FindByExternalID(externalID)
}

// Events returns the charge's immutable transition history.
func (s *ChargeService) Events(ctx context.Context, externalID string) ([]models.ChargeEvent, error) {
	charge, err := s.charges.FindByExternalID(externalID)
	if err != nil {
		return nil, err
	}
	return s.history.ListForCharge(charge.ID)
}

// MarkEnteringCardDetails records that the payer opened the card form.
func (s *ChargeService) MarkEnteringCardDetails(ctx context.Context, externalID string) (*models.Charge, error) {
	return s.sm.TransitionFresh(ctx, externalID, models.StatusEnteringCardDetails)
}

// Authorise runs the authorisation against the charge's gateway. For
// agreement charges the stored instrument is charged with the user not
// present; non-retriable declines additionally schedule deletion of the
// stored instrument.
func (s *ChargeService) Authorise(ctx context.Context, externalID string, card CardDetails) (*models.Charge, error) {
	charge, err := s.charges.FindByExternalID(externalID)
	if err != nil {
		return nil, err
	}
	gateway, ok := s.gateways.Get(charge.Gateway)
	if !ok {
		return nil, fmt.Errorf("%w: %s", utils.ErrUnknownGateway, charge.Gateway)
	}

	// Claim the charge before dispatching; a lost race here means another
	// caller is already authorising.
	if err := s.sm.Transition(ctx, charge, models.StatusAuthorisationReady); err != nil {
		return charge, err
	}

	req := &AuthoriseRequest{Charge: charge, Card: card}
	var result *AuthoriseResult
	authStart := time.Now()
	if charge.AuthMode == models.AuthModeAgreement {
		result, err = gateway.AuthoriseRecurring(ctx, req)
	} else {
		result, err = gateway.Authorise(ctx, req)
	}
	observeGateway(charge.Gateway, "authorise", authStart)
	if err != nil {
		// Transport failure: the gateway may or may not have seen the
		// request. Record the error state; reconciliation converges later.
		if smErr := s.sm.Transition(ctx, charge, models.StatusAuthorisationError); smErr != nil {
			log.Warn().Err(smErr).Str("charge_id", charge.ExternalID).
				Msg("Could not record authorisation error state")
		}
		return charge, fmt.Errorf("%w: %v", utils.ErrGatewayConnection, err)
	}

	if result.TransactionID != "" {
		if err := s.charges.SetGatewayTransactionID(charge.ID, result.TransactionID); err != nil {
			return charge, fmt.Errorf("failed to record gateway transaction id: %w", err)
		}
		charge.GatewayTransactionID = &result.TransactionID
	}

	next := models.StatusAuthorisationError
	switch result.Outcome {
	case AuthoriseAuthorised:
		next = models.StatusAuthorisationOK
	case AuthoriseRejected:
		next = models.StatusAuthorisationRejctd
	case AuthoriseRequires3DS:
		next = models.StatusAuthorisation3DS
	}

	if err := s.sm.Transition(ctx, charge, next); err != nil {
		return charge, err
	}

	if result.Outcome == AuthoriseRequires3DS && result.ChallengeHTML != "" && s.challenges != nil {
		if err := s.challenges.StoreChallenge(ctx, charge.ExternalID, result.ChallengeHTML); err != nil {
			log.Error().Err(err).Str("charge_id", charge.ExternalID).
				Msg("Failed to store 3DS challenge page")
		}
	}

	if charge.AuthMode == models.AuthModeAgreement && result.Outcome != AuthoriseAuthorised {
		s.recordRetriability(ctx, charge, result.CanRetry)
	}
	return charge, nil
}

// Challenge returns the pending 3-D Secure challenge page for a charge
// awaiting payer authentication.
func (s *ChargeService) Challenge(ctx context.Context, externalID string) (string, error) {
	charge, err := s.charges.FindByExternalID(externalID)
	if err != nil {
		return "", err
	}
	if charge.Status != models.StatusAuthorisation3DS || s.challenges == nil {
		return "", utils.ErrChallengeNotFound
	}
	html, err := s.challenges.FetchChallenge(ctx, externalID)
	if err != nil {
		return "", utils.ErrChallengeNotFound
	}
	return html, nil
}

// recordRetriability persists the gateway's verdict on whether a recurring
// decline may succeed later, and schedules instrument deletion when it
// definitively cannot.
func (s *ChargeService) recordRetriability(ctx context.Context, charge *models.Charge, canRetry *bool) {
	if canRetry == nil {
		return
	}
	if err := s.charges.SetCanRetry(charge.ID, *canRetry); err != nil {
		log.Error().Err(err).Str("charge_id", charge.ExternalID).Msg("Failed to persist canRetry flag")
		return
	}
	charge.CanRetry = canRetry
	if !*canRetry && charge.StoredInstrumentRef != nil {
		if err := s.tasks.Send(ctx, queue.TaskDeleteStoredInstrument, charge.ExternalID); err != nil {
			log.Error().Err(err).Str("charge_id", charge.ExternalID).
				Msg("Failed to enqueue stored instrument deletion")
		}
	}
}

// RequestCapture approves the charge for capture and queues the capture
// work. The actual gateway call happens on the queue worker.
func (s *ChargeService) RequestCapture(ctx context.Context, externalID string) (*models.Charge, error) {
	charge, err := s.sm.TransitionFresh(ctx, externalID, models.StatusCaptureApproved)
	if err != nil {
		return charge, err
	}
	if err := s.tasks.Send(ctx, queue.TaskCapture, externalID); err != nil {
		// The capture stays approved; the expiry/reconciliation sweeps will
		// requeue stuck approvals.
		log.Error().Err(err).Str("charge_id", externalID).Msg("Failed to enqueue capture task")
	}
	return charge, nil
}

// CaptureOutcome classifies a capture attempt for the queue worker's
// ack/retry decision.
type CaptureOutcome int

const (
	CaptureOutcomeCaptured CaptureOutcome = iota
	CaptureOutcomePending
	CaptureOutcomeAlreadyDone
	CaptureOutcomeRetriable
	CaptureOutcomeFailed
)

// CaptureCharge performs the gateway capture for a queued task. It is
// idempotent with respect to redelivery: a charge that already reached
// CAPTURED (for example via a notification racing this task) reports
// AlreadyDone rather than a duplicate capture call.
func (s *ChargeService) CaptureCharge(ctx context.Context, externalID string) (CaptureOutcome, error) {
	charge, err := s.charges.FindByExternalID(externalID)
	if err != nil {
		return CaptureOutcomeFailed, err
	}
	if charge.Status == models.StatusCaptured {
		return CaptureOutcomeAlreadyDone, nil
	}
	gateway, ok := s.gateways.Get(charge.Gateway)
	if !ok {
		return CaptureOutcomeFailed, fmt.Errorf("%w: %s", utils.ErrUnknownGateway, charge.Gateway)
	}

	// Walk the charge up to CAPTURE_SUBMITTED, starting after whichever step
	// it already reached: a redelivered task may find the charge mid-walk
	// and must not retry steps behind it. Conflicts mean another writer (a
	// redelivered task or a notification) is already on it.
	walk := []models.ChargeStatus{models.StatusCaptureReady, models.StatusCaptureSubmitted}
	next := 0
	for i, step := range walk {
		if charge.Status == step {
			next = i + 1
		}
	}
	for _, step := range walk[next:] {
		if err := s.sm.Transition(ctx, charge, step); err != nil {
			switch {
			case errors.Is(err, utils.ErrConflict), errors.Is(err, utils.ErrOperationInProgress):
				return CaptureOutcomeAlreadyDone, nil
			case errors.Is(err, utils.ErrIllegalStateTransition):
				// Includes the race where the charge reached CAPTURED
				// between our read and the CAS.
				if fresh, ferr := s.charges.FindByExternalID(externalID); ferr == nil && fresh.Status == models.StatusCaptured {
					return CaptureOutcomeAlreadyDone, nil
				}
				return CaptureOutcomeFailed, err
			default:
				return CaptureOutcomeRetriable, err
			}
		}
	}

	attempts, err := s.charges.IncrementCaptureAttempts(charge.ID)
	if err != nil {
		log.Error().Err(err).Str("charge_id", externalID).Msg("Failed to count capture attempt")
	}

	captureStart := time.Now()
	result, err := gateway.Capture(ctx, charge)
	observeGateway(charge.Gateway, "capture", captureStart)
	if err != nil {
		// Transport failure; bounded retry.
		if attempts >= s.captureMaxAttempts {
			return s.failCapture(ctx, charge)
		}
		return CaptureOutcomeRetriable, fmt.Errorf("%w: %v", utils.ErrGatewayConnection, err)
	}

	switch result.State {
	case StateComplete:
		if err := s.sm.Transition(ctx, charge, models.StatusCaptured); err != nil {
			if errors.Is(err, utils.ErrConflict) {
				return CaptureOutcomeAlreadyDone, nil
			}
			return CaptureOutcomeFailed, err
		}
		s.recordFees(ctx, charge, result.Fees)
		if result.TransferPending {
			if err := s.tasks.Send(ctx, queue.TaskCollectFees, externalID); err != nil {
				log.Error().Err(err).Str("charge_id", externalID).
					Msg("Failed to enqueue transfer reconciliation after capture")
			}
		}
		return CaptureOutcomeCaptured, nil
	case StatePending:
		// Gateway confirms asynchronously via notification.
		return CaptureOutcomePending, nil
	default:
		if attempts >= s.captureMaxAttempts {
			return s.failCapture(ctx, charge)
		}
		return CaptureOutcomeRetriable, utils.ErrGatewayRejected
	}
}

func (s *ChargeService) failCapture(ctx context.Context, charge *models.Charge) (CaptureOutcome, error) {
	if err := s.sm.Transition(ctx, charge, models.StatusCaptureError); err != nil {
		if errors.Is(err, utils.ErrConflict) {
			return CaptureOutcomeAlreadyDone, nil
		}
		return CaptureOutcomeFailed, err
	}
	return CaptureOutcomeFailed, nil
}

// recordFees persists the gateway's cost breakdown and the resulting net
// amount, then emits the fee event.
func (s *ChargeService) recordFees(ctx context.Context, charge *models.Charge, fees []models.Fee) {
	if len(fees) == 0 {
		return
	}
	for i := range fees {
		fees[i].ChargeID = charge.ID
		if err := s.fees.Create(&fees[i]); err != nil {
			log.Error().Err(err).Str("charge_id", charge.ExternalID).
				Str("fee_type", string(fees[i].Type)).Msg("Failed to persist fee record")
		}
	}
	net := charge.TotalAmount() - models.TotalFees(fees)
	if err := s.charges.SetNetAmount(charge.ID, net); err != nil {
		log.Error().Err(err).Str("charge_id", charge.ExternalID).Msg("Failed to persist net amount")
	}
	charge.NetAmount = &net

	s.emitter.Emit(ctx, events.FeeIncurred, events.Payload{
		ResourceID: charge.ExternalID,
		Status:     string(charge.Status),
		Details: map[string]any{
			"fees":      fees,
			"netAmount": net,
		},
	})
}

// Cancel runs a cancellation-style flow against the charge. Charges that
// never reached the gateway are cancelled locally; authorised charges need
// a gateway-side cancel first.
func (s *ChargeService) Cancel(ctx context.Context, externalID string, flow models.StatusFlow) (*models.Charge, error) {
	charge, err := s.charges.FindByExternalID(externalID)
	if err != nil {
		return nil, err
	}
	if models.IsTerminal(charge.Status) {
		return charge, fmt.Errorf("%w: charge %s is %s", utils.ErrChargeTerminal, externalID, charge.Status)
	}

	if charge.GatewayTransactionID == nil {
		// Nothing at the gateway to undo.
		if err := s.sm.Transition(ctx, charge, flow.Success); err != nil {
			return charge, err
		}
		return charge, nil
	}

	gateway, ok := s.gateways.Get(charge.Gateway)
	if !ok {
		return charge, fmt.Errorf("%w: %s", utils.ErrUnknownGateway, charge.Gateway)
	}

	if err := s.sm.Transition(ctx, charge, flow.InProgress); err != nil {
		return charge, err
	}

	cancelStart := time.Now()
	result, err := gateway.Cancel(ctx, charge)
	observeGateway(charge.Gateway, "cancel", cancelStart)
	if err != nil {
		// Leave the charge in the submitted state; the notification or a
		// status query resolves it.
		return charge, fmt.Errorf("%w: %v", utils.ErrGatewayConnection, err)
	}

	next := flow.Failure
	switch result.State {
	case StateComplete:
		next = flow.Success
	case StatePending:
		return charge, nil
	}
	if err := s.sm.Transition(ctx, charge, next); err != nil {
		return charge, err
	}
	return charge, nil
}

// QueryAndReconcile asks the gateway for its authoritative status and
// applies it only when it is materially more terminal than the local one.
// Used by the submitted-payment reconciliation task.
func (s *ChargeService) QueryAndReconcile(ctx context.Context, externalID string) error {
	charge, err := s.charges.FindByExternalID(externalID)
	if err != nil {
		return err
	}
	if models.IsTerminal(charge.Status) {
		return nil
	}
	gateway, ok := s.gateways.Get(charge.Gateway)
	if !ok {
		return fmt.Errorf("%w: %s", utils.ErrUnknownGateway, charge.Gateway)
	}
	if !gateway.SupportsStatusQuery() {
		return utils.ErrStatusQueryUnsupported
	}

	queryStart := time.Now()
	result, err := gateway.QueryStatus(ctx, charge)
	observeGateway(charge.Gateway, "query_status", queryStart)
	if err != nil {
		return fmt.Errorf("%w: %v", utils.ErrGatewayConnection, err)
	}
	return s.applyInterpretation(ctx, charge, result.Interpretation)
}

// applyInterpretation converges the local status onto a gateway-reported
// one. Shared by status queries and notification reconciliation. Conflicts
// and non-meaningful signals are swallowed: someone else already handled it
// or there is nothing to do.
func (s *ChargeService) applyInterpretation(ctx context.Context, charge *models.Charge, interp Interpretation) error {
	var next models.ChargeStatus
	switch interp {
	case InterpretIgnore:
		return nil
	case InterpretAuthorised:
		next = models.StatusAuthorisationOK
	case InterpretAuthRejected:
		next = models.StatusAuthorisationRejctd
	case InterpretAuthError:
		next = models.StatusAuthorisationError
	case InterpretCaptured:
		next = models.StatusCaptured
	case InterpretCaptureError:
		next = models.StatusCaptureError
	case InterpretCancelled:
		flow, ok := models.CancellationFlowFor(charge.Status)
		if !ok {
			log.Warn().Str("charge_id", charge.ExternalID).Str("status", string(charge.Status)).
				Msg("Cancellation signal not meaningful for current status, ignoring")
			return nil
		}
		next = flow.Success
	default:
		return nil
	}

	if charge.Status == next {
		return nil // already converged
	}
	err := s.sm.Transition(ctx, charge, next)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, utils.ErrConflict), errors.Is(err, utils.ErrIllegalStateTransition):
		log.Debug().Err(err).Str("charge_id", charge.ExternalID).
			Msg("Gateway status not applicable to current charge state")
		return nil
	default:
		return err
	}
}

// DeleteStoredInstrument removes the charge's stored payment instrument at
// the gateway. Queue task handler.
func (s *ChargeService) DeleteStoredInstrument(ctx context.Context, externalID string) error {
	charge, err := s.charges.FindByExternalID(externalID)
	if err != nil {
		return err
	}
	if charge.StoredInstrumentRef == nil {
		return nil
	}
	gateway, ok := s.gateways.Get(charge.Gateway)
	if !ok {
		return fmt.Errorf("%w: %s", utils.ErrUnknownGateway, charge.Gateway)
	}
	if err := gateway.DeleteStoredInstrument(ctx, *charge.StoredInstrumentRef); err != nil {
		return fmt.Errorf("%w: %v", utils.ErrGatewayConnection, err)
	}
	log.Info().Str("charge_id", externalID).Msg("Stored payment instrument deleted")
	return nil
}

// FeeCollector is the optional gateway capability of computing and moving
// actual fees after settlement. Only gateways with platform/merchant
// account splits implement it.
type FeeCollector interface {
	CollectFees(ctx context.Context, charge *models.Charge) ([]models.Fee, error)
}

// CollectFees runs the fee-collection task: locate the gateway-side
// payment, compute the fee breakdown, move the funds, persist the fees.
func (s *ChargeService) CollectFees(ctx context.Context, externalID string) error {
	charge, err := s.charges.FindByExternalID(externalID)
	if err != nil {
		return err
	}
	gateway, ok := s.gateways.Get(charge.Gateway)
	if !ok {
		return fmt.Errorf("%w: %s", utils.ErrUnknownGateway, charge.Gateway)
	}
	collector, ok := gateway.(FeeCollector)
	if !ok {
		log.Debug().Str("charge_id", externalID).Str("gateway", string(charge.Gateway)).
			Msg("Gateway does not collect fees, nothing to do")
		return nil
	}

	existing, err := s.fees.ListForCharge(charge.ID)
	if err == nil && len(existing) > 0 {
		return nil // already collected; redelivered task
	}

	fees, err := collector.CollectFees(ctx, charge)
	if err != nil {
		return fmt.Errorf("%w: %v", utils.ErrGatewayConnection, err)
	}
	s.recordFees(ctx, charge, fees)
	return nil
}
