package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardforge/connector/internal/events"
	"github.com/cardforge/connector/internal/models"
	"github.com/cardforge/connector/internal/queue"
	"github.com/cardforge/connector/internal/utils"
)

type chargeFixture struct {
	charges    *memChargeStore
	refunds    *memRefundStore
	fees       *memFeeStore
	history    *memEventStore
	tasks      *memQueue
	gateway    *stubGateway
	challenges *memChallengeStore
	sm         *StateMachine
	svc        *ChargeService
}

func newChargeFixture(t *testing.T) *chargeFixture {
	t.Helper()
	f := &chargeFixture{
		charges:    newMemChargeStore(),
		fees:       &memFeeStore{},
		history:    &memEventStore{},
		tasks:      &memQueue{},
		gateway:    &stubGateway{supportsQuery: true},
		challenges: newMemChallengeStore(),
	}
	f.refunds = newMemRefundStore(f.charges)

	emitter := events.NewEmitter()
	t.Cleanup(func() { _ = emitter.Close() })

	registry := NewGatewayRegistry()
	registry.Register(f.gateway)

	f.sm = NewStateMachine(f.charges, f.history, emitter)
	f.svc = NewChargeService(f.charges, f.refunds, f.fees, f.history, f.sm, registry, f.tasks, emitter, 3)
	f.svc.SetChallengeStore(f.challenges)
	return f
}

func (f *chargeFixture) seed(status models.ChargeStatus) *models.Charge {
	return f.charges.put(&models.Charge{
		ExternalID: "ch_test",
		Amount:     1000,
		Status:     status,
		Gateway:    models.GatewaySandbox,
		AuthMode:   models.AuthModeWeb,
		CreatedAt:  time.Now().UTC(),
	})
}

func TestCreateCharge(t *testing.T) {
	f := newChargeFixture(t)

	charge, err := f.svc.Create(context.Background(), &CreateChargeRequest{
		Amount:      2500,
		Description: "order 42",
		Reference:   "ref-42",
		Gateway:     models.GatewaySandbox,
		AuthMode:    models.AuthModeWeb,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, charge.ExternalID)
	assert.Equal(t, models.StatusCreated, charge.Status)
	assert.Equal(t, []models.ChargeStatus{models.StatusCreated}, f.history.statuses(charge.ID))
}

func TestCreateChargeValidation(t *testing.T) {
	f := newChargeFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, &CreateChargeRequest{Amount: 0, Gateway: models.GatewaySandbox})
	assert.ErrorIs(t, err, utils.ErrInvalidAmount)

	_, err = f.svc.Create(ctx, &CreateChargeRequest{Amount: -5, Gateway: models.GatewaySandbox})
	assert.ErrorIs(t, err, utils.ErrInvalidAmount)

	_, err = f.svc.Create(ctx, &CreateChargeRequest{Amount: 100, Gateway: "nonesuch"})
	assert.ErrorIs(t, err, utils.ErrUnknownGateway)

	_, err = f.svc.Create(ctx, &CreateChargeRequest{
		Amount:   100,
		Gateway:  models.GatewaySandbox,
		AuthMode: models.AuthModeAgreement,
	})
	assert.ErrorIs(t, err, utils.ErrStoredInstrumentMissing)
}

func TestAuthoriseSuccess(t *testing.T) {
	f := newChargeFixture(t)
	f.seed(models.StatusEnteringCardDetails)

	charge, err := f.svc.Authorise(context.Background(), "ch_test", CardDetails{Number: "4242424242424242"})
	require.NoError(t, err)

	assert.Equal(t, models.StatusAuthorisationOK, charge.Status)
	require.NotNil(t, charge.GatewayTransactionID)
	assert.Equal(t, "txn-1", *charge.GatewayTransactionID)
	assert.Equal(t, []models.ChargeStatus{
		models.StatusAuthorisationReady,
		models.StatusAuthorisationOK,
	}, f.history.statuses(charge.ID))
}

func TestAuthoriseRejection(t *testing.T) {
	f := newChargeFixture(t)
	f.seed(models.StatusEnteringCardDetails)
	f.gateway.authoriseFn = func(ctx context.Context, req *AuthoriseRequest) (*AuthoriseResult, error) {
		return &AuthoriseResult{Outcome: AuthoriseRejected, TransactionID: "txn-1"}, nil
	}

	charge, err := f.svc.Authorise(context.Background(), "ch_test", CardDetails{})
	require.NoError(t, err, "a decline is an outcome, not an error")
	assert.Equal(t, models.StatusAuthorisationRejctd, charge.Status)
}

func TestAuthoriseTransportFailure(t *testing.T) {
	f := newChargeFixture(t)
	seeded := f.seed(models.StatusEnteringCardDetails)
	f.gateway.authoriseFn = func(ctx context.Context, req *AuthoriseRequest) (*AuthoriseResult, error) {
		return nil, errMockStore
	}

	_, err := f.svc.Authorise(context.Background(), "ch_test", CardDetails{})
	require.ErrorIs(t, err, utils.ErrGatewayConnection)
	assert.Equal(t, models.StatusAuthorisationError, f.charges.statusOf(seeded.ID))
}

func TestAuthoriseStoresChallengePage(t *testing.T) {
	f := newChargeFixture(t)
	f.seed(models.StatusEnteringCardDetails)
	f.gateway.authoriseFn = func(ctx context.Context, req *AuthoriseRequest) (*AuthoriseResult, error) {
		return &AuthoriseResult{
			Outcome:       AuthoriseRequires3DS,
			TransactionID: "txn-1",
			ChallengeHTML: "<html>challenge</html>",
		}, nil
	}

	charge, err := f.svc.Authorise(context.Background(), "ch_test", CardDetails{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusAuthorisation3DS, charge.Status)

	html, err := f.svc.Challenge(context.Background(), "ch_test")
	require.NoError(t, err)
	assert.Equal(t, "<html>challenge</html>", html)
}

func TestChallengeRequires3DSState(t *testing.T) {
	f := newChargeFixture(t)
	f.seed(models.StatusAuthorisationOK)

	_, err := f.svc.Challenge(context.Background(), "ch_test")
	assert.ErrorIs(t, err, utils.ErrChallengeNotFound)
}

func TestAuthoriseRecurringNonRetriableDecline(t *testing.T) {
	f := newChargeFixture(t)
	f.charges.put(&models.Charge{
		ExternalID:          "ch_test",
		Amount:              1000,
		Status:              models.StatusCreated,
		Gateway:             models.GatewaySandbox,
		AuthMode:            models.AuthModeAgreement,
		StoredInstrumentRef: strPtr("instr-1"),
		CreatedAt:           time.Now().UTC(),
	})
	canRetry := false
	f.gateway.recurringFn = func(ctx context.Context, req *AuthoriseRequest) (*AuthoriseResult, error) {
		return &AuthoriseResult{Outcome: AuthoriseRejected, CanRetry: &canRetry}, nil
	}

	charge, err := f.svc.Authorise(context.Background(), "ch_test", CardDetails{})
	require.NoError(t, err)

	assert.Equal(t, models.StatusAuthorisationRejctd, charge.Status)
	require.NotNil(t, charge.CanRetry)
	assert.False(t, *charge.CanRetry)
	assert.Equal(t, []queue.TaskKind{queue.TaskDeleteStoredInstrument}, f.tasks.sentKinds())
}

func TestRequestCaptureQueuesTask(t *testing.T) {
	f := newChargeFixture(t)
	seeded := f.seed(models.StatusAuthorisationOK)

	charge, err := f.svc.RequestCapture(context.Background(), "ch_test")
	require.NoError(t, err)

	assert.Equal(t, models.StatusCaptureApproved, charge.Status)
	assert.Equal(t, models.StatusCaptureApproved, f.charges.statusOf(seeded.ID))
	assert.Equal(t, []queue.TaskKind{queue.TaskCapture}, f.tasks.sentKinds())
}

func TestCaptureChargeCompletes(t *testing.T) {
	f := newChargeFixture(t)
	seeded := f.seed(models.StatusCaptureApproved)
	f.gateway.captureFn = func(ctx context.Context, charge *models.Charge) (*CaptureResult, error) {
		return &CaptureResult{
			State: StateComplete,
			Fees: []models.Fee{
				{Type: models.FeeTransaction, Amount: 30, CollectedAt: time.Now().UTC()},
			},
		}, nil
	}

	outcome, err := f.svc.CaptureCharge(context.Background(), "ch_test")
	require.NoError(t, err)
	assert.Equal(t, CaptureOutcomeCaptured, outcome)
	assert.Equal(t, models.StatusCaptured, f.charges.statusOf(seeded.ID))

	fees, err := f.fees.ListForCharge(seeded.ID)
	require.NoError(t, err)
	require.Len(t, fees, 1)
	assert.Equal(t, int64(30), fees[0].Amount)

	fresh, err := f.charges.FindByExternalID("ch_test")
	require.NoError(t, err)
	require.NotNil(t, fresh.NetAmount)
	assert.Equal(t, int64(970), *fresh.NetAmount)
}

func TestCaptureChargeAlreadyCaptured(t *testing.T) {
	f := newChargeFixture(t)
	f.seed(models.StatusCaptured)

	outcome, err := f.svc.CaptureCharge(context.Background(), "ch_test")
	require.NoError(t, err)
	assert.Equal(t, CaptureOutcomeAlreadyDone, outcome)
}

func TestCaptureChargeRedeliveredAfterSubmit(t *testing.T) {
	// A worker can crash between CAPTURE_SUBMITTED and the gateway call;
	// the redelivered task must resume from where the charge stands, not
	// retry the walk from CAPTURE_READY.
	f := newChargeFixture(t)
	seeded := f.seed(models.StatusCaptureSubmitted)

	outcome, err := f.svc.CaptureCharge(context.Background(), "ch_test")
	require.NoError(t, err)
	assert.Equal(t, CaptureOutcomeCaptured, outcome)
	assert.Equal(t, models.StatusCaptured, f.charges.statusOf(seeded.ID))
}

func TestCaptureChargeResumesFromCaptureReady(t *testing.T) {
	f := newChargeFixture(t)
	seeded := f.seed(models.StatusCaptureReady)

	outcome, err := f.svc.CaptureCharge(context.Background(), "ch_test")
	require.NoError(t, err)
	assert.Equal(t, CaptureOutcomeCaptured, outcome)
	assert.Equal(t, models.StatusCaptured, f.charges.statusOf(seeded.ID))

	statuses := f.history.statuses(seeded.ID)
	assert.NotContains(t, statuses, models.StatusCaptureReady)
}

func TestCaptureChargeTransferPendingQueuesFeeCollection(t *testing.T) {
	f := newChargeFixture(t)
	f.seed(models.StatusCaptureApproved)
	f.gateway.captureFn = func(ctx context.Context, charge *models.Charge) (*CaptureResult, error) {
		return &CaptureResult{State: StateComplete, TransferPending: true}, nil
	}

	outcome, err := f.svc.CaptureCharge(context.Background(), "ch_test")
	require.NoError(t, err)
	assert.Equal(t, CaptureOutcomeCaptured, outcome)
	assert.Equal(t, []queue.TaskKind{queue.TaskCollectFees}, f.tasks.sentKinds())
}

func TestCaptureChargeTransportFailureRetries(t *testing.T) {
	f := newChargeFixture(t)
	f.seed(models.StatusCaptureApproved)
	f.gateway.captureFn = func(ctx context.Context, charge *models.Charge) (*CaptureResult, error) {
		return nil, errMockStore
	}

	outcome, err := f.svc.CaptureCharge(context.Background(), "ch_test")
	require.ErrorIs(t, err, utils.ErrGatewayConnection)
	assert.Equal(t, CaptureOutcomeRetriable, outcome)
}

func TestCaptureChargeExhaustsAttempts(t *testing.T) {
	f := newChargeFixture(t)
	seeded := f.charges.put(&models.Charge{
		ExternalID:      "ch_test",
		Amount:          1000,
		Status:          models.StatusCaptureApproved,
		Gateway:         models.GatewaySandbox,
		AuthMode:        models.AuthModeWeb,
		CaptureAttempts: 2, // this attempt is the third and last
		CreatedAt:       time.Now().UTC(),
	})
	f.gateway.captureFn = func(ctx context.Context, charge *models.Charge) (*CaptureResult, error) {
		return nil, errMockStore
	}

	outcome, err := f.svc.CaptureCharge(context.Background(), "ch_test")
	require.NoError(t, err)
	assert.Equal(t, CaptureOutcomeFailed, outcome)
	assert.Equal(t, models.StatusCaptureError, f.charges.statusOf(seeded.ID))
}

func TestCancelLocalOnly(t *testing.T) {
	f := newChargeFixture(t)
	seeded := f.seed(models.StatusEnteringCardDetails)

	charge, err := f.svc.Cancel(context.Background(), "ch_test", models.UserCancelFlow)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUserCancelled, charge.Status)
	assert.Equal(t, models.StatusUserCancelled, f.charges.statusOf(seeded.ID))
}

func TestCancelViaGateway(t *testing.T) {
	f := newChargeFixture(t)
	seeded := f.charges.put(&models.Charge{
		ExternalID:           "ch_test",
		Amount:               1000,
		Status:               models.StatusAuthorisationOK,
		Gateway:              models.GatewaySandbox,
		AuthMode:             models.AuthModeWeb,
		GatewayTransactionID: strPtr("txn-1"),
		CreatedAt:            time.Now().UTC(),
	})

	charge, err := f.svc.Cancel(context.Background(), "ch_test", models.UserCancelFlow)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUserCancelled, charge.Status)
	assert.Equal(t, models.StatusUserCancelled, f.charges.statusOf(seeded.ID))
}

func TestCancelGatewayPendingWaitsForNotification(t *testing.T) {
	f := newChargeFixture(t)
	seeded := f.charges.put(&models.Charge{
		ExternalID:           "ch_test",
		Amount:               1000,
		Status:               models.StatusAuthorisationOK,
		Gateway:              models.GatewaySandbox,
		AuthMode:             models.AuthModeWeb,
		GatewayTransactionID: strPtr("txn-1"),
		CreatedAt:            time.Now().UTC(),
	})
	f.gateway.cancelFn = func(ctx context.Context, charge *models.Charge) (*CancelResult, error) {
		return &CancelResult{State: StatePending}, nil
	}

	_, err := f.svc.Cancel(context.Background(), "ch_test", models.UserCancelFlow)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUserCancelSubmitted, f.charges.statusOf(seeded.ID))
}

func TestCancelTerminalCharge(t *testing.T) {
	f := newChargeFixture(t)
	f.seed(models.StatusCaptured)

	_, err := f.svc.Cancel(context.Background(), "ch_test", models.UserCancelFlow)
	assert.ErrorIs(t, err, utils.ErrChargeTerminal)
}

func TestQueryAndReconcileAppliesGatewayStatus(t *testing.T) {
	f := newChargeFixture(t)
	seeded := f.seed(models.StatusCaptureSubmitted)
	f.gateway.queryFn = func(ctx context.Context, charge *models.Charge) (*StatusResult, error) {
		return &StatusResult{Interpretation: InterpretCaptured, RawStatus: "9"}, nil
	}

	err := f.svc.QueryAndReconcile(context.Background(), "ch_test")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCaptured, f.charges.statusOf(seeded.ID))
}

func TestQueryAndReconcileUnsupportedGateway(t *testing.T) {
	f := newChargeFixture(t)
	f.seed(models.StatusCaptureSubmitted)
	f.gateway.supportsQuery = false

	err := f.svc.QueryAndReconcile(context.Background(), "ch_test")
	assert.ErrorIs(t, err, utils.ErrStatusQueryUnsupported)
}

func TestApplyInterpretationCancellationResolvesFlow(t *testing.T) {
	f := newChargeFixture(t)
	ctx := context.Background()

	// A cancellation the user asked for lands in the user flow.
	charge := f.seed(models.StatusUserCancelSubmitted)
	require.NoError(t, f.svc.applyInterpretation(ctx, charge, InterpretCancelled))
	assert.Equal(t, models.StatusUserCancelled, f.charges.statusOf(charge.ID))

	// A gateway-side cancellation of an authorised charge is a system
	// cancellation.
	f2 := newChargeFixture(t)
	charge2 := f2.seed(models.StatusAuthorisationOK)
	require.NoError(t, f2.svc.applyInterpretation(ctx, charge2, InterpretCancelled))
	assert.Equal(t, models.StatusSysCancelled, f2.charges.statusOf(charge2.ID))
}

func TestApplyInterpretationIgnoresMeaninglessSignals(t *testing.T) {
	f := newChargeFixture(t)
	ctx := context.Background()
	charge := f.seed(models.StatusCaptured)

	// Cancellation of a captured charge has no meaning; the signal is
	// dropped without error.
	require.NoError(t, f.svc.applyInterpretation(ctx, charge, InterpretCancelled))
	assert.Equal(t, models.StatusCaptured, f.charges.statusOf(charge.ID))

	// Re-reporting the status the charge already has is a no-op.
	require.NoError(t, f.svc.applyInterpretation(ctx, charge, InterpretCaptured))
	assert.Equal(t, models.StatusCaptured, f.charges.statusOf(charge.ID))
}

func TestDeleteStoredInstrument(t *testing.T) {
	f := newChargeFixture(t)
	f.charges.put(&models.Charge{
		ExternalID:          "ch_test",
		Amount:              1000,
		Status:              models.StatusAuthorisationRejctd,
		Gateway:             models.GatewaySandbox,
		AuthMode:            models.AuthModeAgreement,
		StoredInstrumentRef: strPtr("instr-1"),
		CreatedAt:           time.Now().UTC(),
	})

	require.NoError(t, f.svc.DeleteStoredInstrument(context.Background(), "ch_test"))
	assert.Equal(t, []string{"instr-1"}, f.gateway.deletedRefs)

	// No stored instrument means nothing to delete.
	f.charges.put(&models.Charge{
		ExternalID: "ch_plain",
		Amount:     500,
		Status:     models.StatusAuthorisationRejctd,
		Gateway:    models.GatewaySandbox,
		CreatedAt:  time.Now().UTC(),
	})
	require.NoError(t, f.svc.DeleteStoredInstrument(context.Background(), "ch_plain"))
	assert.Len(t, f.gateway.deletedRefs, 1)
}
