package epdq

// ePDQ numeric STATUS values. The same vocabulary appears in DirectLink
// responses, query responses and asynchronous notifications.
const (
	StatusInvalid           = "0"
	StatusCancelledByClient = "1"
	StatusAuthRefused       = "2"
	StatusAuthorised        = "5"
	StatusAuthWaiting       = "51"
	StatusAuthUnknown       = "52"
	StatusAuthorisedThenDel = "6"
	StatusDeletionWaiting   = "61"
	StatusDeletionUncertain = "62"
	StatusDeletionRefused   = "63"
	StatusDeleted           = "7"
	StatusRefund            = "8"
	StatusRefundWaiting     = "81"
	StatusRefundUncertain   = "82"
	StatusRefundRefused     = "83"
	StatusPaymentRequested  = "9"
	StatusPaymentProcessing = "91"
	StatusPaymentUncertain  = "92"
	StatusPaymentRefused    = "93"
	StatusRefundDeclined    = "94"
	StatusTechnicalProblem  = "99"
)

// Outcome is the provider-level classification of a STATUS value. It is
// still ePDQ vocabulary; the adapter bridge translates it into the
// canonical charge/refund statuses.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeAuthorised
	OutcomeAuthRefused
	OutcomeAuthPending
	OutcomeAuthError
	OutcomeCaptured
	OutcomeCapturePending
	OutcomeCaptureRefused
	OutcomeCancelled
	OutcomeCancelPending
	OutcomeCancelRefused
	OutcomeRefunded
	OutcomeRefundPending
	OutcomeRefundRefused
)

var outcomes = map[string]Outcome{
	StatusAuthorised:        OutcomeAuthorised,
	StatusAuthRefused:       OutcomeAuthRefused,
	StatusInvalid:           OutcomeAuthError,
	StatusAuthWaiting:       OutcomeAuthPending,
	StatusAuthUnknown:       OutcomeAuthPending,
	StatusPaymentRequested:  OutcomeCaptured,
	StatusPaymentProcessing: OutcomeCapturePending,
	StatusPaymentUncertain:  OutcomeCapturePending,
	StatusPaymentRefused:    OutcomeCaptureRefused,
	StatusCancelledByClient: OutcomeCancelled,
	StatusAuthorisedThenDel: OutcomeCancelled,
	StatusDeleted:           OutcomeCancelled,
	StatusDeletionWaiting:   OutcomeCancelPending,
	StatusDeletionUncertain: OutcomeCancelPending,
	StatusDeletionRefused:   OutcomeCancelRefused,
	StatusRefund:            OutcomeRefunded,
	StatusRefundWaiting:     OutcomeRefundPending,
	StatusRefundUncertain:   OutcomeRefundPending,
	StatusRefundRefused:     OutcomeRefundRefused,
	StatusRefundDeclined:    OutcomeRefundRefused,
}

// ClassifyStatus maps a raw STATUS value to its Outcome. Unknown values map
// to OutcomeUnknown so a new provider code never breaks processing.
func ClassifyStatus(status string) Outcome {
	return outcomes[status]
}
