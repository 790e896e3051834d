package service

import (
	"context"

	"github.com/cardforge/connector/internal/models"
	"github.com/cardforge/connector/pkg/epdq"
)

// EpdqGateway implements PaymentGateway over the ePDQ DirectLink protocol.
type EpdqGateway struct {
	client *epdq.Client
}

// NewEpdqGateway creates a new ePDQ adapter.
func NewEpdqGateway(client *epdq.Client) *EpdqGateway {
	return &EpdqGateway{client: client}
}

// Name returns the gateway code.
func (g *EpdqGateway) Name() models.GatewayName {
	return models.GatewayEpdq
}

// Authorise submits a new order with raw card details.
func (g *EpdqGateway) Authorise(ctx context.Context, req *AuthoriseRequest) (*AuthoriseResult, error) {
	resp, err := g.client.NewOrder(ctx, req.Charge.ExternalID, req.Charge.TotalAmount(), epdq.CardParams{
		Number:     req.Card.Number,
		Expiry:     req.Card.Expiry,
		CVC:        req.Card.CVC,
		HolderName: req.Card.HolderName,
	}, "")
	if err != nil {
		return nil, err
	}
	return g.convertAuthorise(resp, false), nil
}

// AuthoriseRecurring charges a stored card alias with the user not present.
func (g *EpdqGateway) AuthoriseRecurring(ctx context.Context, req *AuthoriseRequest) (*AuthoriseResult, error) {
	alias := ""
	if req.Charge.StoredInstrumentRef != nil {
		alias = *req.Charge.StoredInstrumentRef
	}
	resp, err := g.client.NewOrder(ctx, req.Charge.ExternalID, req.Charge.TotalAmount(), epdq.CardParams{}, alias)
	if err != nil {
		return nil, err
	}
	return g.convertAuthorise(resp, true), nil
}

func (g *EpdqGateway) convertAuthorise(resp *epdq.DirectLinkResponse, recurring bool) *AuthoriseResult {
	result := &AuthoriseResult{TransactionID: resp.PayID}
	switch epdq.ClassifyStatus(resp.Status) {
	case epdq.OutcomeAuthorised:
		result.Outcome = AuthoriseAuthorised
	case epdq.OutcomeAuthRefused:
		result.Outcome = AuthoriseRejected
	case epdq.OutcomeAuthPending:
		if resp.HTML3DS != "" {
			result.Outcome = AuthoriseRequires3DS
			result.ChallengeHTML = resp.HTML3DS
		} else {
			result.Outcome = AuthoriseError
		}
	default:
		result.Outcome = AuthoriseError
	}
	if recurring && result.Outcome == AuthoriseRejected {
		// NCERROR 50001054: alias is dead; anything else may recover.
		canRetry := resp.NCError != "50001054"
		result.CanRetry = &canRetry
	}
	return result
}

// Capture requests capture of the full authorised amount. ePDQ processes
// captures asynchronously; a pending result converges via notification.
func (g *EpdqGateway) Capture(ctx context.Context, charge *models.Charge) (*CaptureResult, error) {
	resp, err := g.client.Maintenance(ctx, payID(charge), epdq.OperationCapture, charge.TotalAmount())
	if err != nil {
		return nil, err
	}
	switch epdq.ClassifyStatus(resp.Status) {
	case epdq.OutcomeCaptured:
		return &CaptureResult{State: StateComplete}, nil
	case epdq.OutcomeCapturePending:
		return &CaptureResult{State: StatePending}, nil
	default:
		return &CaptureResult{State: StateError}, nil
	}
}

// Cancel deletes the authorisation.
func (g *EpdqGateway) Cancel(ctx context.Context, charge *models.Charge) (*CancelResult, error) {
	resp, err := g.client.Maintenance(ctx, payID(charge), epdq.OperationCancel, 0)
	if err != nil {
		return nil, err
	}
	switch epdq.ClassifyStatus(resp.Status) {
	case epdq.OutcomeCancelled:
		return &CancelResult{State: StateComplete}, nil
	case epdq.OutcomeCancelPending:
		return &CancelResult{State: StatePending}, nil
	default:
		return &CancelResult{State: StateError}, nil
	}
}

// Refund refunds part of the captured amount.
func (g *EpdqGateway) Refund(ctx context.Context, charge *models.Charge, refund *models.Refund) (*RefundResult, error) {
	resp, err := g.client.Maintenance(ctx, payID(charge), epdq.OperationRefund, refund.Amount)
	if err != nil {
		return nil, err
	}
	result := &RefundResult{TransactionID: resp.PayID + "/" + resp.PayIDSub}
	switch epdq.ClassifyStatus(resp.Status) {
	case epdq.OutcomeRefunded:
		result.State = StateComplete
	case epdq.OutcomeRefundPending:
		result.State = StatePending
	default:
		result.State = StateError
	}
	return result, nil
}

// SupportsStatusQuery reports that ePDQ supports DirectLink queries.
func (g *EpdqGateway) SupportsStatusQuery() bool {
	return true
}

// QueryStatus fetches the authoritative payment status.
func (g *EpdqGateway) QueryStatus(ctx context.Context, charge *models.Charge) (*StatusResult, error) {
	resp, err := g.client.QueryStatus(ctx, payID(charge))
	if err != nil {
		return nil, err
	}
	result := &StatusResult{RawStatus: resp.Status}
	switch epdq.ClassifyStatus(resp.Status) {
	case epdq.OutcomeAuthorised:
		result.Interpretation = InterpretAuthorised
	case epdq.OutcomeAuthRefused:
		result.Interpretation = InterpretAuthRejected
	case epdq.OutcomeAuthError:
		result.Interpretation = InterpretAuthError
	case epdq.OutcomeCaptured:
		result.Interpretation = InterpretCaptured
	case epdq.OutcomeCaptureRefused:
		result.Interpretation = InterpretCaptureError
	case epdq.OutcomeCancelled:
		result.Interpretation = InterpretCancelled
	default:
		result.Interpretation = InterpretIgnore
	}
	return result, nil
}

// DeleteStoredInstrument removes the stored card alias.
func (g *EpdqGateway) DeleteStoredInstrument(ctx context.Context, instrumentRef string) error {
	_, err := g.client.DeleteAlias(ctx, instrumentRef)
	return err
}

func payID(charge *models.Charge) string {
	if charge.GatewayTransactionID != nil {
		return *charge.GatewayTransactionID
	}
	return ""
}
