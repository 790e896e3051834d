package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardforge/connector/internal/events"
	"github.com/cardforge/connector/internal/models"
	"github.com/cardforge/connector/internal/utils"
)

func newTestStateMachine(t *testing.T) (*StateMachine, *memChargeStore, *memEventStore) {
	t.Helper()
	charges := newMemChargeStore()
	history := &memEventStore{}
	emitter := events.NewEmitter()
	t.Cleanup(func() { _ = emitter.Close() })
	return NewStateMachine(charges, history, emitter), charges, history
}

func seedCharge(store *memChargeStore, status models.ChargeStatus) *models.Charge {
	return store.put(&models.Charge{
		ExternalID: "ch_test",
		Amount:     1000,
		Status:     status,
		Gateway:    models.GatewaySandbox,
		AuthMode:   models.AuthModeWeb,
		CreatedAt:  time.Now().UTC(),
	})
}

func TestTransitionLegalMove(t *testing.T) {
	sm, charges, history := newTestStateMachine(t)
	charge := seedCharge(charges, models.StatusCreated)

	err := sm.Transition(context.Background(), charge, models.StatusEnteringCardDetails)
	require.NoError(t, err)

	assert.Equal(t, models.StatusEnteringCardDetails, charge.Status)
	assert.Equal(t, models.StatusEnteringCardDetails, charges.statusOf(charge.ID))
	assert.Equal(t, []models.ChargeStatus{models.StatusEnteringCardDetails}, history.statuses(charge.ID))
}

func TestTransitionIllegalMoveLeavesChargeUntouched(t *testing.T) {
	sm, charges, history := newTestStateMachine(t)
	charge := seedCharge(charges, models.StatusCreated)

	err := sm.Transition(context.Background(), charge, models.StatusCaptured)
	require.ErrorIs(t, err, utils.ErrIllegalStateTransition)

	assert.Equal(t, models.StatusCreated, charge.Status)
	assert.Equal(t, models.StatusCreated, charges.statusOf(charge.ID))
	assert.Empty(t, history.statuses(charge.ID))
}

func TestTransitionFromTerminalRejected(t *testing.T) {
	sm, charges, _ := newTestStateMachine(t)
	charge := seedCharge(charges, models.StatusCaptured)

	err := sm.Transition(context.Background(), charge, models.StatusUserCancelled)
	require.ErrorIs(t, err, utils.ErrIllegalStateTransition)
	assert.Equal(t, models.StatusCaptured, charges.statusOf(charge.ID))
}

func TestTransitionLostRaceReturnsConflict(t *testing.T) {
	sm, charges, history := newTestStateMachine(t)
	charge := seedCharge(charges, models.StatusAuthorisationReady)

	// A concurrent writer moves the persisted row after our read.
	charges.setStatus(charge.ID, models.StatusAuthorisationOK)

	err := sm.Transition(context.Background(), charge, models.StatusAuthorisationRejctd)
	require.ErrorIs(t, err, utils.ErrConflict)

	// The concurrent writer's state stands and our copy is not advanced.
	assert.Equal(t, models.StatusAuthorisationOK, charges.statusOf(charge.ID))
	assert.Equal(t, models.StatusAuthorisationReady, charge.Status)
	assert.Empty(t, history.statuses(charge.ID))
}

func TestTransitionDuplicateSubmitted(t *testing.T) {
	sm, charges, _ := newTestStateMachine(t)
	charge := seedCharge(charges, models.StatusCaptureSubmitted)

	err := sm.Transition(context.Background(), charge, models.StatusCaptureSubmitted)
	require.ErrorIs(t, err, utils.ErrOperationInProgress)
	assert.Equal(t, models.StatusCaptureSubmitted, charges.statusOf(charge.ID))
}

func TestTransitionHistoryFailureDoesNotRollBack(t *testing.T) {
	charges := newMemChargeStore()
	history := &memEventStore{err: errMockStore}
	emitter := events.NewEmitter()
	t.Cleanup(func() { _ = emitter.Close() })
	sm := NewStateMachine(charges, history, emitter)
	charge := seedCharge(charges, models.StatusCreated)

	err := sm.Transition(context.Background(), charge, models.StatusAuthorisationReady)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAuthorisationReady, charges.statusOf(charge.ID))
}

func TestTransitionFresh(t *testing.T) {
	sm, charges, _ := newTestStateMachine(t)
	seeded := seedCharge(charges, models.StatusCreated)

	// The persisted row moved since any stale copy was taken; the fresh
	// read picks that up and transitions from there.
	charges.setStatus(seeded.ID, models.StatusAuthorisationOK)

	charge, err := sm.TransitionFresh(context.Background(), "ch_test", models.StatusCaptureApproved)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCaptureApproved, charge.Status)
	assert.Equal(t, models.StatusCaptureApproved, charges.statusOf(seeded.ID))
}

func TestTransitionFreshUnknownCharge(t *testing.T) {
	sm, _, _ := newTestStateMachine(t)
	_, err := sm.TransitionFresh(context.Background(), "ch_missing", models.StatusAuthorisationReady)
	require.ErrorIs(t, err, utils.ErrChargeNotFound)
}

func TestTransitionEmitsStatusEvent(t *testing.T) {
	charges := newMemChargeStore()
	history := &memEventStore{}
	emitter := events.NewEmitter()
	t.Cleanup(func() { _ = emitter.Close() })

	got := make(chan events.Payload, 1)
	_, err := emitter.Subscribe(events.ChargeStatusChanged, func(ctx context.Context, p events.Payload) error {
		got <- p
		return nil
	})
	require.NoError(t, err)

	sm := NewStateMachine(charges, history, emitter)
	charge := seedCharge(charges, models.StatusCreated)
	require.NoError(t, sm.Transition(context.Background(), charge, models.StatusEnteringCardDetails))

	select {
	case p := <-got:
		assert.Equal(t, "ch_test", p.ResourceID)
		assert.Equal(t, string(models.StatusEnteringCardDetails), p.Status)
		assert.Equal(t, string(models.StatusCreated), p.Details["from"])
	case <-time.After(2 * time.Second):
		t.Fatal("status event not delivered")
	}
}
