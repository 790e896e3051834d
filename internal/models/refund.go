package models

import "time"

type RefundStatus string

const (
	RefundCreated   RefundStatus = "CREATED"
	RefundSubmitted RefundStatus = "SUBMITTED"
	RefundComplete  RefundStatus = "REFUNDED"
	RefundError     RefundStatus = "ERROR"
)

// Refund is one refund attempt against a charge. The sum of non-errored
// refund amounts for a charge never exceeds the charge amount; the
// repository enforces this together with the caller-supplied
// amount-available snapshot.
type Refund struct {
	ID                   int64        `db:"id" json:"-"`
	ExternalID           string       `db:"external_id" json:"refundId"`
	ChargeExternalID     string       `db:"charge_external_id" json:"chargeId"`
	ChargeID             int64        `db:"charge_id" json:"-"`
	Amount               int64        `db:"amount" json:"amount"`
	Status               RefundStatus `db:"status" json:"status"`
	GatewayTransactionID *string      `db:"gateway_transaction_id" json:"-"`
	SubmittedBy          string       `db:"submitted_by" json:"submittedBy,omitempty"`
	CreatedAt            time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt            time.Time    `db:"updated_at" json:"-"`
}

// CanTransitionRefund reports whether a refund status move is legal.
func CanTransitionRefund(from, to RefundStatus) bool {
	switch from {
	case RefundCreated:
		return to == RefundSubmitted || to == RefundError || to == RefundComplete
	case RefundSubmitted:
		return to == RefundComplete || to == RefundError
	}
	return false
}
