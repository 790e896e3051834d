package models

import "time"

// FeeType identifies the component of a charge's cost breakdown.
type FeeType string

const (
	FeeProcessor   FeeType = "processor"
	FeeThreeDS     FeeType = "three_d_secure"
	FeeTransaction FeeType = "transaction"
)

// Fee is one component of the actual cost a gateway reported for a charge.
// Fees are written when the gateway reports actual cost and feed the
// charge's net settlement amount, which can go negative for failed but
// fee-bearing payments.
type Fee struct {
	ID                   int64     `db:"id" json:"-"`
	ChargeID             int64     `db:"charge_id" json:"-"`
	Type                 FeeType   `db:"fee_type" json:"type"`
	Amount               int64     `db:"amount" json:"amount"`
	GatewayTransactionID string    `db:"gateway_transaction_id" json:"-"`
	CollectedAt          time.Time `db:"collected_at" json:"collectedAt"`
}

// TotalFees sums a fee breakdown.
func TotalFees(fees []Fee) int64 {
	var total int64
	for _, f := range fees {
		total += f.Amount
	}
	return total
}
