package service

import (
	"context"
	"errors"

	"github.com/cardforge/connector/internal/models"
	"github.com/cardforge/connector/pkg/worldpay"
)

// WorldpayGateway implements PaymentGateway over Worldpay's XML payment
// service. Maintenance operations are asynchronous on Worldpay's side: an
// accepted capture/cancel/refund converges through the order notification.
type WorldpayGateway struct {
	client *worldpay.Client
}

// NewWorldpayGateway creates a new Worldpay adapter.
func NewWorldpayGateway(client *worldpay.Client) *WorldpayGateway {
	return &WorldpayGateway{client: client}
}

// Name returns the gateway code.
func (g *WorldpayGateway) Name() models.GatewayName {
	return models.GatewayWorldpay
}

// Authorise submits a new order with raw card details. The charge's
// external id doubles as the Worldpay order code and therefore as the
// gateway transaction id for notification correlation.
func (g *WorldpayGateway) Authorise(ctx context.Context, req *AuthoriseRequest) (*AuthoriseResult, error) {
	month, year := splitExpiry(req.Card.Expiry)
	status, err := g.client.SubmitOrder(ctx, req.Charge.ExternalID, req.Charge.Description, req.Charge.TotalAmount(), &worldpay.CardSSL{
		CardNumber:     req.Card.Number,
		ExpiryDate:     worldpay.ExpiryDate{Month: month, Year: year},
		CardHolderName: req.Card.HolderName,
		CVC:            req.Card.CVC,
	}, "")
	return g.convertAuthorise(req.Charge.ExternalID, status, err)
}

// AuthoriseRecurring submits a pay-as-order charge against the stored
// original order.
func (g *WorldpayGateway) AuthoriseRecurring(ctx context.Context, req *AuthoriseRequest) (*AuthoriseResult, error) {
	original := ""
	if req.Charge.StoredInstrumentRef != nil {
		original = *req.Charge.StoredInstrumentRef
	}
	status, err := g.client.SubmitOrder(ctx, req.Charge.ExternalID, req.Charge.Description, req.Charge.TotalAmount(), nil, original)
	result, err := g.convertAuthorise(req.Charge.ExternalID, status, err)
	if result != nil && result.Outcome == AuthoriseRejected {
		// Worldpay gives no retriability signal; leave CanRetry unset.
		result.CanRetry = nil
	}
	return result, err
}

func (g *WorldpayGateway) convertAuthorise(orderCode string, status *worldpay.OrderStatus, err error) (*AuthoriseResult, error) {
	if err != nil {
		var bizErr *worldpay.ErrorReply
		if errors.As(err, &bizErr) {
			return &AuthoriseResult{Outcome: AuthoriseRejected}, nil
		}
		return nil, err
	}
	result := &AuthoriseResult{TransactionID: orderCode}
	switch worldpay.ClassifyEvent(status.Payment.LastEvent) {
	case worldpay.OutcomeAuthorised:
		result.Outcome = AuthoriseAuthorised
	case worldpay.OutcomeAuthRefused:
		result.Outcome = AuthoriseRejected
	case worldpay.OutcomeAuthPending:
		result.Outcome = AuthoriseError
	default:
		result.Outcome = AuthoriseError
	}
	return result, nil
}

// Capture asks Worldpay to capture; acceptance means pending, the
// notification completes it.
func (g *WorldpayGateway) Capture(ctx context.Context, charge *models.Charge) (*CaptureResult, error) {
	if err := g.client.Capture(ctx, txnID(charge), charge.TotalAmount()); err != nil {
		var bizErr *worldpay.ErrorReply
		if errors.As(err, &bizErr) {
			return &CaptureResult{State: StateError}, nil
		}
		return nil, err
	}
	return &CaptureResult{State: StatePending}, nil
}

// Cancel voids the authorisation; acceptance means pending.
func (g *WorldpayGateway) Cancel(ctx context.Context, charge *models.Charge) (*CancelResult, error) {
	if err := g.client.Cancel(ctx, txnID(charge)); err != nil {
		var bizErr *worldpay.ErrorReply
		if errors.As(err, &bizErr) {
			return &CancelResult{State: StateError}, nil
		}
		return nil, err
	}
	return &CancelResult{State: StatePending}, nil
}

// Refund submits the refund; acceptance means pending.
func (g *WorldpayGateway) Refund(ctx context.Context, charge *models.Charge, refund *models.Refund) (*RefundResult, error) {
	if err := g.client.Refund(ctx, txnID(charge), refund.Amount); err != nil {
		var bizErr *worldpay.ErrorReply
		if errors.As(err, &bizErr) {
			return &RefundResult{State: StateError}, nil
		}
		return nil, err
	}
	return &RefundResult{State: StatePending, TransactionID: txnID(charge)}, nil
}

// SupportsStatusQuery reports that order inquiry is available.
func (g *WorldpayGateway) SupportsStatusQuery() bool {
	return true
}

// QueryStatus inquires the order's authoritative last event.
func (g *WorldpayGateway) QueryStatus(ctx context.Context, charge *models.Charge) (*StatusResult, error) {
	status, err := g.client.Inquire(ctx, txnID(charge))
	if err != nil {
		return nil, err
	}
	result := &StatusResult{RawStatus: status.Payment.LastEvent}
	switch worldpay.ClassifyEvent(status.Payment.LastEvent) {
	case worldpay.OutcomeAuthorised:
		result.Interpretation = InterpretAuthorised
	case worldpay.OutcomeAuthRefused:
		result.Interpretation = InterpretAuthRejected
	case worldpay.OutcomeAuthError:
		result.Interpretation = InterpretAuthError
	case worldpay.OutcomeCaptured:
		result.Interpretation = InterpretCaptured
	case worldpay.OutcomeCancelled:
		result.Interpretation = InterpretCancelled
	default:
		result.Interpretation = InterpretIgnore
	}
	return result, nil
}

// DeleteStoredInstrument is a local operation for Worldpay: forgetting the
// original order code is enough, there is nothing to delete remotely.
func (g *WorldpayGateway) DeleteStoredInstrument(ctx context.Context, instrumentRef string) error {
	return nil
}

func splitExpiry(expiry string) (month, year string) {
	if len(expiry) == 5 && expiry[2] == '/' {
		return expiry[:2], "20" + expiry[3:]
	}
	return expiry, ""
}
