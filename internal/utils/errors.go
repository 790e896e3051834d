package utils

import "errors"

// Common application errors used across services.
var (
	ErrChargeNotFound          = errors.New("CHARGE_NOT_FOUND")
	ErrRefundNotFound          = errors.New("REFUND_NOT_FOUND")
	ErrDuplicateReference      = errors.New("DUPLICATE_REFERENCE")
	ErrIllegalStateTransition  = errors.New("ILLEGAL_STATE_TRANSITION")
	ErrOperationInProgress     = errors.New("OPERATION_ALREADY_IN_PROGRESS")
	ErrConflict                = errors.New("STATUS_CONFLICT")
	ErrChargeTerminal          = errors.New("CHARGE_ALREADY_TERMINAL")
	ErrRefundAmountMismatch    = errors.New("REFUND_AMOUNT_AVAILABLE_MISMATCH")
	ErrRefundNotAvailable      = errors.New("REFUND_NOT_AVAILABLE")
	ErrGatewayConnection       = errors.New("GATEWAY_CONNECTION_ERROR")
	ErrGatewayRejected         = errors.New("GATEWAY_REJECTED")
	ErrStatusQueryUnsupported  = errors.New("STATUS_QUERY_UNSUPPORTED")
	ErrNotificationParse       = errors.New("NOTIFICATION_PARSE_ERROR")
	ErrNotificationSignature   = errors.New("NOTIFICATION_SIGNATURE_INVALID")
	ErrUnknownGateway          = errors.New("UNKNOWN_GATEWAY")
	ErrInvalidAmount           = errors.New("INVALID_AMOUNT")
	ErrChargeNotCancellable    = errors.New("CHARGE_NOT_CANCELLABLE")
	ErrGatewayResponseInvalid  = errors.New("GATEWAY_RESPONSE_INVALID")
	ErrStoredInstrumentMissing = errors.New("STORED_INSTRUMENT_MISSING")
	ErrChallengeNotFound       = errors.New("CHALLENGE_NOT_FOUND")
)
