package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cardforge/connector/internal/models"
	"github.com/cardforge/connector/internal/utils"
)

// DiscrepancyService is the operator tool for charges suspected to have
// diverged from the gateway's view. It reports, and optionally forces a
// cancellation, but never acts automatically: eligibility is deliberately
// narrow so a payment genuinely in flight cannot be raced.
type DiscrepancyService struct {
	charges  ChargeStore
	sm       *StateMachine
	gateways *GatewayRegistry

	// minAge guards forced cancellation against charges young enough to
	// still be moving on their own.
	minAge time.Duration
}

// NewDiscrepancyService constructs a DiscrepancyService.
func NewDiscrepancyService(charges ChargeStore, sm *StateMachine, gateways *GatewayRegistry, minAge time.Duration) *DiscrepancyService {
	return &DiscrepancyService{charges: charges, sm: sm, gateways: gateways, minAge: minAge}
}

// Report compares the local and gateway views of a charge.
type Report struct {
	ChargeExternalID  string              `json:"chargeId"`
	LocalStatus       models.ChargeStatus `json:"localStatus"`
	GatewayRawStatus  string              `json:"gatewayRawStatus"`
	GatewayConverged  bool                `json:"gatewayConverged"`
	EligibleForCancel bool                `json:"eligibleForCancel"`
	ChargeAge         string              `json:"chargeAge"`
}

// Inspect queries the gateway for its authoritative status and reports the
// comparison without mutating anything.
func (s *DiscrepancyService) Inspect(ctx context.Context, externalID string) (*Report, error) {
	charge, err := s.charges.FindByExternalID(externalID)
	if err != nil {
		return nil, err
	}
	gateway, ok := s.gateways.Get(charge.Gateway)
	if !ok {
		return nil, fmt.Errorf("%w: %s", utils.ErrUnknownGateway, charge.Gateway)
	}
	if !gateway.SupportsStatusQuery() {
		return nil, utils.ErrStatusQueryUnsupported
	}

	result, err := gateway.QueryStatus(ctx, charge)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrGatewayConnection, err)
	}

	report := &Report{
		ChargeExternalID: charge.ExternalID,
		LocalStatus:      charge.Status,
		GatewayRawStatus: result.RawStatus,
		GatewayConverged: result.Interpretation == InterpretIgnore ||
			interpretationMatches(charge.Status, result.Interpretation),
		ChargeAge: time.Since(charge.CreatedAt).Round(time.Second).String(),
	}
	report.EligibleForCancel = s.eligible(charge, result.Interpretation)
	return report, nil
}

// ForceCancel expunges a diverged charge by driving it through the system
// cancellation flow, but only when the eligibility rules hold. An
// ineligible charge is left untouched with no error: this is an advisory
// tool, not a corrective loop.
func (s *DiscrepancyService) ForceCancel(ctx context.Context, externalID string) (*Report, error) {
	charge, err := s.charges.FindByExternalID(externalID)
	if err != nil {
		return nil, err
	}
	report, err := s.Inspect(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if !report.EligibleForCancel {
		log.Info().Str("charge_id", externalID).Str("local_status", string(charge.Status)).
			Msg("Charge not eligible for forced cancellation, no action")
		return report, nil
	}

	flow, ok := models.CancellationFlowFor(charge.Status)
	if !ok {
		return report, nil
	}
	if err := s.sm.Transition(ctx, charge, flow.Success); err != nil {
		return report, err
	}
	report.LocalStatus = charge.Status
	log.Info().Str("charge_id", externalID).Msg("Charge force-cancelled by operator")
	return report, nil
}

// eligible applies the three-part guard: local non-terminal-success,
// gateway non-terminal-success, and charge older than the age threshold.
func (s *DiscrepancyService) eligible(charge *models.Charge, gatewayInterp Interpretation) bool {
	if charge.Status == models.StatusCaptured || models.IsTerminal(charge.Status) {
		return false
	}
	if gatewayInterp == InterpretCaptured {
		return false
	}
	return time.Since(charge.CreatedAt) >= s.minAge
}

func interpretationMatches(local models.ChargeStatus, interp Interpretation) bool {
	switch interp {
	case InterpretAuthorised:
		return local == models.StatusAuthorisationOK
	case InterpretCaptured:
		return local == models.StatusCaptured
	case InterpretAuthRejected:
		return local == models.StatusAuthorisationRejctd
	case InterpretCancelled:
		return local == models.StatusUserCancelled ||
			local == models.StatusSysCancelled ||
			local == models.StatusExpired
	}
	return false
}
