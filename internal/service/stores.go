package service

import (
	"context"
	"time"

	"github.com/cardforge/connector/internal/models"
)

// ChargeStore is the persistence collaborator for charges. Implementations
// live in internal/repository; the lifecycle engine depends only on this
// contract.
type ChargeStore interface {
	Create(charge *models.Charge) error
	FindByExternalID(externalID string) (*models.Charge, error)
	FindByGatewayTransactionID(gateway models.GatewayName, gatewayTransactionID string) (*models.Charge, error)

	// FindHistoricByGatewayTransactionID searches the archival store for
	// charges purged from primary storage. Historic charges are read-only.
	FindHistoricByGatewayTransactionID(gateway models.GatewayName, gatewayTransactionID string) (*models.Charge, error)

	// CompareAndSetStatus writes next only if the persisted status still
	// equals expected. A false return means another writer got there first.
	CompareAndSetStatus(chargeID int64, expected, next models.ChargeStatus) (bool, error)

	// SetGatewayTransactionID records the gateway's id for the charge. The
	// value is immutable once set; implementations refuse overwrites.
	SetGatewayTransactionID(chargeID int64, gatewayTransactionID string) error

	SetCanRetry(chargeID int64, canRetry bool) error
	IncrementCaptureAttempts(chargeID int64) (int, error)
	SetNetAmount(chargeID int64, netAmount int64) error

	// FindStaleInStatus lists charges sitting in one of the given statuses
	// for longer than threshold, for expiry sweeps and reconciliation.
	FindStaleInStatus(statuses []models.ChargeStatus, threshold time.Duration) ([]models.Charge, error)
}

// ChargeEventStore appends to and reads the immutable status history.
type ChargeEventStore interface {
	Append(chargeID int64, status models.ChargeStatus, at time.Time) error
	ListForCharge(chargeID int64) ([]models.ChargeEvent, error)
}

// RefundStore is the persistence collaborator for refunds.
type RefundStore interface {
	// CreateWithAvailabilityCheck inserts the refund only if the charge's
	// available-to-refund amount still equals expectedAvailable and covers
	// the refund amount. It returns utils.ErrRefundAmountMismatch when the
	// snapshot is stale and utils.ErrRefundNotAvailable when the amount no
	// longer fits, so concurrent refund attempts lose cleanly.
	CreateWithAvailabilityCheck(refund *models.Refund, expectedAvailable int64) error

	FindByExternalID(externalID string) (*models.Refund, error)
	FindSubmittedForCharge(chargeID int64) (*models.Refund, error)
	CompareAndSetStatus(refundID int64, expected, next models.RefundStatus) (bool, error)
	SetGatewayTransactionID(refundID int64, gatewayTransactionID string) error
	SumNonErrored(chargeID int64) (int64, error)
}

// ChallengeStore holds pending 3-D Secure challenge pages between the
// gateway returning them and the payer's browser collecting them.
type ChallengeStore interface {
	StoreChallenge(ctx context.Context, chargeID, html string) error
	FetchChallenge(ctx context.Context, chargeID string) (string, error)
}

// FeeStore persists gateway-reported cost breakdowns.
type FeeStore interface {
	Create(fee *models.Fee) error
	ListForCharge(chargeID int64) ([]models.Fee, error)
}
