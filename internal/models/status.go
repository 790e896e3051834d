package models

// ChargeStatus is the canonical charge lifecycle status. Gateway-specific
// vocabularies are translated into these values at the adapter boundary and
// nowhere else.
type ChargeStatus string

const (
	StatusCreated             ChargeStatus = "CREATED"
	StatusEnteringCardDetails ChargeStatus = "ENTERING_CARD_DETAILS"
	StatusAuthorisationReady  ChargeStatus = "AUTHORISATION_READY"
	StatusAuthorisation3DS    ChargeStatus = "AUTHORISATION_3DS_READY"
	StatusAuthorisationOK     ChargeStatus = "AUTHORISATION_SUCCESS"
	StatusAuthorisationRejctd ChargeStatus = "AUTHORISATION_REJECTED"
	StatusAuthorisationError  ChargeStatus = "AUTHORISATION_ERROR"
	StatusAwaitingCapture     ChargeStatus = "AWAITING_CAPTURE_REQUEST"
	StatusCaptureApproved     ChargeStatus = "CAPTURE_APPROVED"
	StatusCaptureReady        ChargeStatus = "CAPTURE_READY"
	StatusCaptureSubmitted    ChargeStatus = "CAPTURE_SUBMITTED"
	StatusCaptured            ChargeStatus = "CAPTURED"
	StatusCaptureError        ChargeStatus = "CAPTURE_ERROR"
	StatusUserCancelSubmitted ChargeStatus = "USER_CANCEL_SUBMITTED"
	StatusUserCancelled       ChargeStatus = "USER_CANCELLED"
	StatusUserCancelError     ChargeStatus = "USER_CANCEL_ERROR"
	StatusSysCancelSubmitted  ChargeStatus = "SYSTEM_CANCEL_SUBMITTED"
	StatusSysCancelled        ChargeStatus = "SYSTEM_CANCELLED"
	StatusSysCancelError      ChargeStatus = "SYSTEM_CANCEL_ERROR"
	StatusExpireSubmitted     ChargeStatus = "EXPIRE_CANCEL_SUBMITTED"
	StatusExpired             ChargeStatus = "EXPIRED"
	StatusExpireError         ChargeStatus = "EXPIRE_CANCEL_ERROR"
)

// legalTransitions is the adjacency table for the charge lifecycle. A status
// missing from the map is terminal. Every writer (request path, notification
// reconciliation, queue workers) goes through this table; there is no other
// way to move a charge.
var legalTransitions = map[ChargeStatus][]ChargeStatus{
	StatusCreated: {
		StatusEnteringCardDetails, StatusAuthorisationReady,
		StatusSysCancelSubmitted, StatusSysCancelled,
		StatusExpireSubmitted, StatusExpired,
	},
	StatusEnteringCardDetails: {
		StatusAuthorisationReady,
		StatusUserCancelSubmitted, StatusUserCancelled,
		StatusSysCancelSubmitted, StatusSysCancelled,
		StatusExpireSubmitted, StatusExpired,
	},
	StatusAuthorisationReady: {
		StatusAuthorisationOK, StatusAuthorisationRejctd,
		StatusAuthorisationError, StatusAuthorisation3DS,
		StatusSysCancelSubmitted, StatusSysCancelled,
		StatusExpireSubmitted, StatusExpired,
	},
	StatusAuthorisation3DS: {
		StatusAuthorisationOK, StatusAuthorisationRejctd,
		StatusAuthorisationError,
		StatusUserCancelSubmitted, StatusUserCancelled,
		StatusSysCancelSubmitted, StatusSysCancelled,
		StatusExpireSubmitted, StatusExpired,
	},
	StatusAuthorisationOK: {
		StatusCaptureApproved, StatusAwaitingCapture,
		StatusUserCancelSubmitted, StatusUserCancelled,
		StatusSysCancelSubmitted, StatusSysCancelled,
		StatusExpireSubmitted, StatusExpired,
	},
	StatusAwaitingCapture: {
		StatusCaptureApproved,
		StatusUserCancelSubmitted, StatusUserCancelled,
		StatusSysCancelSubmitted, StatusSysCancelled,
		StatusExpireSubmitted, StatusExpired,
	},
	StatusCaptureApproved: {
		StatusCaptureReady, StatusCaptureError,
	},
	StatusCaptureReady: {
		StatusCaptureSubmitted, StatusCaptureError,
	},
	StatusCaptureSubmitted: {
		StatusCaptured, StatusCaptureError,
	},
	StatusUserCancelSubmitted: {StatusUserCancelled, StatusUserCancelError},
	StatusSysCancelSubmitted:  {StatusSysCancelled, StatusSysCancelError},
	StatusExpireSubmitted:     {StatusExpired, StatusExpireError},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to ChargeStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a charge in this status is immutable.
func IsTerminal(s ChargeStatus) bool {
	return len(legalTransitions[s]) == 0
}

// submittedStates are the in-flight siblings of gateway-confirmed
// transitions; a second request for the same operation while one is already
// submitted is a duplicate dispatch, not a legal transition.
var submittedStates = map[ChargeStatus]bool{
	StatusCaptureSubmitted:    true,
	StatusUserCancelSubmitted: true,
	StatusSysCancelSubmitted:  true,
	StatusExpireSubmitted:     true,
}

// IsSubmitted reports whether s is an in-flight "submitted" status.
func IsSubmitted(s ChargeStatus) bool {
	return submittedStates[s]
}

// StatusFlow bundles the three statuses of a cancellation-style operation.
type StatusFlow struct {
	Name       string
	InProgress ChargeStatus
	Success    ChargeStatus
	Failure    ChargeStatus
}

var (
	UserCancelFlow   = StatusFlow{"user cancellation", StatusUserCancelSubmitted, StatusUserCancelled, StatusUserCancelError}
	SystemCancelFlow = StatusFlow{"system cancellation", StatusSysCancelSubmitted, StatusSysCancelled, StatusSysCancelError}
	ExpireFlow       = StatusFlow{"expiry", StatusExpireSubmitted, StatusExpired, StatusExpireError}
)

// cancellationFlows resolves which flow a generic gateway "cancelled" signal
// belongs to, keyed by the charge's status before the signal arrived. The
// map is total over the pre-states where a cancellation is meaningful; any
// other pre-state means the signal must be ignored.
var cancellationFlows = map[ChargeStatus]StatusFlow{
	StatusUserCancelSubmitted: UserCancelFlow,
	StatusSysCancelSubmitted:  SystemCancelFlow,
	StatusExpireSubmitted:     ExpireFlow,
	StatusCreated:             SystemCancelFlow,
	StatusEnteringCardDetails: SystemCancelFlow,
	StatusAuthorisationReady:  SystemCancelFlow,
	StatusAuthorisation3DS:    SystemCancelFlow,
	StatusAuthorisationOK:     SystemCancelFlow,
	StatusAwaitingCapture:     SystemCancelFlow,
}

// CancellationFlowFor returns the flow whose terminal state applies when a
// generic cancellation signal arrives for a charge currently in pre. The
// second return is false when the signal should be ignored (for example the
// charge is already CAPTURED).
func CancellationFlowFor(pre ChargeStatus) (StatusFlow, bool) {
	flow, ok := cancellationFlows[pre]
	return flow, ok
}
