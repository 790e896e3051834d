package worldpay

// lastEvent values Worldpay reports for an order.
const (
	EventAuthorised    = "AUTHORISED"
	EventRefused       = "REFUSED"
	EventError         = "ERROR"
	EventCaptured      = "CAPTURED"
	EventSettled       = "SETTLED"
	EventCancelled     = "CANCELLED"
	EventRefunded      = "REFUNDED"
	EventSentForRefund = "SENT_FOR_REFUND"
	EventRefundFailed  = "REFUND_FAILED"
	EventSentForAuth   = "SENT_FOR_AUTHORISATION"
	EventChargedBack   = "CHARGED_BACK"
	EventExpired       = "EXPIRED"
)

// Outcome classifies a lastEvent in Worldpay terms; the adapter bridge
// translates it into canonical statuses.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeAuthorised
	OutcomeAuthRefused
	OutcomeAuthError
	OutcomeAuthPending
	OutcomeCaptured
	OutcomeCancelled
	OutcomeRefunded
	OutcomeRefundPending
	OutcomeRefundFailed
)

var outcomes = map[string]Outcome{
	EventAuthorised:    OutcomeAuthorised,
	EventRefused:       OutcomeAuthRefused,
	EventError:         OutcomeAuthError,
	EventSentForAuth:   OutcomeAuthPending,
	EventCaptured:      OutcomeCaptured,
	EventSettled:       OutcomeCaptured,
	EventCancelled:     OutcomeCancelled,
	EventExpired:       OutcomeCancelled,
	EventRefunded:      OutcomeRefunded,
	EventSentForRefund: OutcomeRefundPending,
	EventRefundFailed:  OutcomeRefundFailed,
}

// ClassifyEvent maps a lastEvent value to its Outcome. Unknown events map
// to OutcomeUnknown so new Worldpay vocabulary never breaks processing.
func ClassifyEvent(lastEvent string) Outcome {
	return outcomes[lastEvent]
}
