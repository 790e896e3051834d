package stripe

import "encoding/json"

// PaymentIntent statuses we act on.
const (
	IntentRequiresAction        = "requires_action"
	IntentRequiresCapture       = "requires_capture"
	IntentRequiresConfirmation  = "requires_confirmation"
	IntentRequiresPaymentMethod = "requires_payment_method"
	IntentProcessing            = "processing"
	IntentSucceeded             = "succeeded"
	IntentCanceled              = "canceled"
)

// PaymentIntent is the subset of Stripe's payment intent object the
// connector reads.
type PaymentIntent struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	Amount        int64           `json:"amount"`
	LatestCharge  string          `json:"latest_charge"`
	LastError     *APIError       `json:"last_payment_error"`
	PaymentMethod string          `json:"payment_method"`
	Raw           json.RawMessage `json:"-"`
}

// ChargeObject is a Stripe charge, read for its balance transaction.
type ChargeObject struct {
	ID                 string `json:"id"`
	BalanceTransaction string `json:"balance_transaction"`
}

// BalanceTransaction carries the actual cost Stripe reports for a charge.
type BalanceTransaction struct {
	ID         string      `json:"id"`
	Fee        int64       `json:"fee"`
	FeeDetails []FeeDetail `json:"fee_details"`
}

// FeeDetail is one component of a balance transaction's fee breakdown.
type FeeDetail struct {
	Type   string `json:"type"`
	Amount int64  `json:"amount"`
}

// Fee detail types as reported by Stripe.
const (
	FeeTypeStripe      = "stripe_fee"
	FeeTypeRadar       = "radar_fee"
	FeeTypeThreeDS     = "three_d_secure_fee"
	FeeTypeApplication = "application_fee"
)

// Transfer is a movement of funds between the platform and a connected
// merchant account.
type Transfer struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Destination string `json:"destination"`
	Reversed    bool   `json:"reversed"`
}

// Refund is Stripe's refund object.
type Refund struct {
	ID     string `json:"id"`
	Status string `json:"status"` // pending, succeeded, failed, canceled
	Amount int64  `json:"amount"`
}

// APIError is the error body Stripe returns on 4xx responses.
type APIError struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
}

// errorResponse wraps APIError on the wire.
type errorResponse struct {
	Error *APIError `json:"error"`
}

// Event is a Stripe webhook event envelope.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// Webhook event types the connector reconciles.
const (
	EventPaymentIntentSucceeded = "payment_intent.succeeded"
	EventPaymentIntentFailed    = "payment_intent.payment_failed"
	EventPaymentIntentCanceled  = "payment_intent.canceled"
	EventChargeRefundUpdated    = "charge.refund.updated"
	EventChargeRefunded         = "charge.refunded"
	EventChargeDisputeCreated   = "charge.dispute.created"
)

// declineCodesAllowingRetry classifies recurring-payment declines. True
// means the stored instrument may recover (retry later), false means it is
// dead and should be deactivated. Codes absent from the map report an
// unknown retriability.
var declineCodesAllowingRetry = map[string]bool{
	"insufficient_funds":               true,
	"processing_error":                 true,
	"try_again_later":                  true,
	"expired_card":                     false,
	"stolen_card":                      false,
	"lost_card":                        false,
	"pickup_card":                      false,
	"do_not_honor":                     false,
	"generic_decline":                  false,
	"transaction_not_allowed":          false,
	"revocation_of_all_authorizations": false,
}

// CanRetryDecline reports whether a declined recurring authorisation is
// worth retrying. The second return is false when Stripe's decline code is
// unknown to us.
func CanRetryDecline(declineCode string) (canRetry, known bool) {
	v, ok := declineCodesAllowingRetry[declineCode]
	return v, ok
}
