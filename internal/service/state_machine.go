package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cardforge/connector/internal/events"
	"github.com/cardforge/connector/internal/metrics"
	"github.com/cardforge/connector/internal/models"
	"github.com/cardforge/connector/internal/utils"
)

// StateMachine is the single writer surface for charge status. All three
// mutation paths (request handling, notification reconciliation, queue
// workers) go through Transition, which validates the move against the
// adjacency table and performs a compare-and-set against the persisted
// status so concurrent writers lose cleanly instead of corrupting state.
type StateMachine struct {
	charges ChargeStore
	history ChargeEventStore
	emitter *events.Emitter
}

// NewStateMachine constructs a StateMachine.
func NewStateMachine(charges ChargeStore, history ChargeEventStore, emitter *events.Emitter) *StateMachine {
	return &StateMachine{charges: charges, history: history, emitter: emitter}
}

// Transition moves charge to next. On success the charge's in-memory status
// is updated, a history record is appended, and a status-changed event is
// emitted (best effort).
//
// Failure modes, all non-corrupting:
//   - utils.ErrOperationInProgress: the charge is already in the submitted
//     sibling of the requested transition; a duplicate dispatch.
//   - utils.ErrIllegalStateTransition: next is not reachable from the
//     charge's current status.
//   - utils.ErrConflict: the CAS lost a race; someone else transitioned
//     the charge first. Callers treat this as "already handled".
func (m *StateMachine) Transition(ctx context.Context, charge *models.Charge, next models.ChargeStatus) error {
	from := charge.Status

	if models.IsSubmitted(next) && from == next {
		return fmt.Errorf("%w: charge %s already in %s",
			utils.ErrOperationInProgress, charge.ExternalID, from)
	}
	if !models.CanTransition(from, next) {
		metrics.Transitions.WithLabelValues(string(next), metrics.OutcomeRejected).Inc()
		return fmt.Errorf("%w: charge %s cannot move %s -> %s",
			utils.ErrIllegalStateTransition, charge.ExternalID, from, next)
	}

	ok, err := m.charges.CompareAndSetStatus(charge.ID, from, next)
	if err != nil {
		return fmt.Errorf("failed to persist transition for charge %s: %w", charge.ExternalID, err)
	}
	if !ok {
		metrics.Transitions.WithLabelValues(string(next), metrics.OutcomeConflict).Inc()
		return fmt.Errorf("%w: charge %s changed concurrently while moving %s -> %s",
			utils.ErrConflict, charge.ExternalID, from, next)
	}

	charge.Status = next
	now := time.Now().UTC()

	// The transition is committed; history append and event emission must
	// not roll it back.
	if err := m.history.Append(charge.ID, next, now); err != nil {
		log.Error().Err(err).Str("charge_id", charge.ExternalID).Str("status", string(next)).
			Msg("CRITICAL: failed to append charge history record")
	}

	metrics.Transitions.WithLabelValues(string(next), metrics.OutcomeApplied).Inc()
	log.Info().Str("charge_id", charge.ExternalID).
		Str("from", string(from)).Str("to", string(next)).
		Msg("Charge status transitioned")

	m.emitter.Emit(ctx, events.ChargeStatusChanged, events.Payload{
		ResourceID: charge.ExternalID,
		Status:     string(next),
		Details: map[string]any{
			"from":    string(from),
			"gateway": string(charge.Gateway),
		},
	})
	return nil
}

// TransitionFresh re-reads the charge by external id and applies the
// transition against the fresh status. Used by callers holding a possibly
// stale copy (queue workers, notification handlers).
func (m *StateMachine) TransitionFresh(ctx context.Context, externalID string, next models.ChargeStatus) (*models.Charge, error) {
	charge, err := m.charges.FindByExternalID(externalID)
	if err != nil {
		return nil, err
	}
	if err := m.Transition(ctx, charge, next); err != nil {
		return charge, err
	}
	return charge, nil
}
