package models

import (
	"encoding/json"
	"time"
)

type GatewayName string

const (
	GatewayEpdq     GatewayName = "epdq"
	GatewayStripe   GatewayName = "stripe"
	GatewayWorldpay GatewayName = "worldpay"
	GatewaySandbox  GatewayName = "sandbox"
)

// AuthorisationMode describes how cardholder consent was obtained.
type AuthorisationMode string

const (
	AuthModeWeb       AuthorisationMode = "WEB"
	AuthModeMotoAPI   AuthorisationMode = "MOTO_API"
	AuthModeAgreement AuthorisationMode = "AGREEMENT"
)

// Charge captures one payment attempt from creation to terminal outcome.
// Amounts are integer minor units throughout; never floating point.
type Charge struct {
	ID                   int64             `db:"id" json:"-"`
	ExternalID           string            `db:"external_id" json:"chargeId"`
	Amount               int64             `db:"amount" json:"amount"`
	Description          string            `db:"description" json:"description,omitempty"`
	Reference            string            `db:"reference" json:"reference,omitempty"`
	Status               ChargeStatus      `db:"status" json:"status"`
	Gateway              GatewayName       `db:"gateway" json:"gateway"`
	GatewayTransactionID *string           `db:"gateway_transaction_id" json:"gatewayTransactionId,omitempty"`
	AuthMode             AuthorisationMode `db:"auth_mode" json:"authorisationMode"`
	StoredInstrumentRef  *string           `db:"stored_instrument_ref" json:"-"`
	CanRetry             *bool             `db:"can_retry" json:"canRetry,omitempty"`
	CorporateSurcharge   *int64            `db:"corporate_surcharge" json:"corporateSurcharge,omitempty"`
	NetAmount            *int64            `db:"net_amount" json:"netAmount,omitempty"`
	CaptureAttempts      int               `db:"capture_attempts" json:"-"`
	Extra                json.RawMessage   `db:"extra" json:"-"`
	CreatedAt            time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt            time.Time         `db:"updated_at" json:"-"`
}

// TotalAmount returns the amount the gateway is asked to take, including
// any corporate surcharge.
func (c *Charge) TotalAmount() int64 {
	if c.CorporateSurcharge != nil {
		return c.Amount + *c.CorporateSurcharge
	}
	return c.Amount
}

// ChargeEvent is an immutable history record of one status transition.
// Rows are append-only; never updated or deleted.
type ChargeEvent struct {
	ID        int64        `db:"id" json:"-"`
	ChargeID  int64        `db:"charge_id" json:"-"`
	Status    ChargeStatus `db:"status" json:"status"`
	CreatedAt time.Time    `db:"created_at" json:"timestamp"`
}
