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

type discrepancyFixture struct {
	charges *memChargeStore
	gateway *stubGateway
	svc     *DiscrepancyService
}

func newDiscrepancyFixture(t *testing.T, minAge time.Duration) *discrepancyFixture {
	t.Helper()
	f := &discrepancyFixture{
		charges: newMemChargeStore(),
		gateway: &stubGateway{supportsQuery: true},
	}
	emitter := events.NewEmitter()
	t.Cleanup(func() { _ = emitter.Close() })

	registry := NewGatewayRegistry()
	registry.Register(f.gateway)
	sm := NewStateMachine(f.charges, &memEventStore{}, emitter)
	f.svc = NewDiscrepancyService(f.charges, sm, registry, minAge)
	return f
}

func (f *discrepancyFixture) seed(status models.ChargeStatus, age time.Duration) *models.Charge {
	return f.charges.put(&models.Charge{
		ExternalID:           "ch_test",
		Amount:               1000,
		Status:               status,
		Gateway:              models.GatewaySandbox,
		AuthMode:             models.AuthModeWeb,
		GatewayTransactionID: strPtr("txn-1"),
		CreatedAt:            time.Now().UTC().Add(-age),
	})
}

func TestInspectDivergedCharge(t *testing.T) {
	f := newDiscrepancyFixture(t, time.Hour)
	f.seed(models.StatusCaptureSubmitted, 3*time.Hour)
	f.gateway.queryFn = func(ctx context.Context, charge *models.Charge) (*StatusResult, error) {
		return &StatusResult{Interpretation: InterpretAuthorised, RawStatus: "5"}, nil
	}

	report, err := f.svc.Inspect(context.Background(), "ch_test")
	require.NoError(t, err)

	assert.Equal(t, models.StatusCaptureSubmitted, report.LocalStatus)
	assert.Equal(t, "5", report.GatewayRawStatus)
	assert.False(t, report.GatewayConverged)
	assert.True(t, report.EligibleForCancel)
}

func TestInspectConvergedCharge(t *testing.T) {
	f := newDiscrepancyFixture(t, time.Hour)
	f.seed(models.StatusCaptured, 3*time.Hour)
	f.gateway.queryFn = func(ctx context.Context, charge *models.Charge) (*StatusResult, error) {
		return &StatusResult{Interpretation: InterpretCaptured, RawStatus: "9"}, nil
	}

	report, err := f.svc.Inspect(context.Background(), "ch_test")
	require.NoError(t, err)

	assert.True(t, report.GatewayConverged)
	assert.False(t, report.EligibleForCancel, "captured money must never be force-cancelled")
}

func TestInspectUnsupportedGateway(t *testing.T) {
	f := newDiscrepancyFixture(t, time.Hour)
	f.seed(models.StatusCaptureSubmitted, 3*time.Hour)
	f.gateway.supportsQuery = false

	_, err := f.svc.Inspect(context.Background(), "ch_test")
	assert.ErrorIs(t, err, utils.ErrStatusQueryUnsupported)
}

func TestForceCancelEligibleCharge(t *testing.T) {
	f := newDiscrepancyFixture(t, time.Hour)
	charge := f.seed(models.StatusAuthorisationOK, 3*time.Hour)
	f.gateway.queryFn = func(ctx context.Context, charge *models.Charge) (*StatusResult, error) {
		return &StatusResult{Interpretation: InterpretCancelled, RawStatus: "6"}, nil
	}

	report, err := f.svc.ForceCancel(context.Background(), "ch_test")
	require.NoError(t, err)

	assert.True(t, report.EligibleForCancel)
	assert.Equal(t, models.StatusSysCancelled, report.LocalStatus)
	assert.Equal(t, models.StatusSysCancelled, f.charges.statusOf(charge.ID))
}

func TestForceCancelTooYoungNoAction(t *testing.T) {
	f := newDiscrepancyFixture(t, 2*time.Hour)
	charge := f.seed(models.StatusAuthorisationOK, 10*time.Minute)

	report, err := f.svc.ForceCancel(context.Background(), "ch_test")
	require.NoError(t, err, "an ineligible charge is reported, not an error")

	assert.False(t, report.EligibleForCancel)
	assert.Equal(t, models.StatusAuthorisationOK, f.charges.statusOf(charge.ID))
}

func TestForceCancelGatewayCapturedNoAction(t *testing.T) {
	f := newDiscrepancyFixture(t, time.Hour)
	charge := f.seed(models.StatusCaptureSubmitted, 3*time.Hour)
	f.gateway.queryFn = func(ctx context.Context, charge *models.Charge) (*StatusResult, error) {
		return &StatusResult{Interpretation: InterpretCaptured, RawStatus: "9"}, nil
	}

	report, err := f.svc.ForceCancel(context.Background(), "ch_test")
	require.NoError(t, err)

	assert.False(t, report.EligibleForCancel)
	assert.Equal(t, models.StatusCaptureSubmitted, f.charges.statusOf(charge.ID))
}
