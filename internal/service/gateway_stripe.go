package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/cardforge/connector/internal/models"
	"github.com/cardforge/connector/pkg/stripe"
)

// StripeGateway implements PaymentGateway over Stripe's REST API. Captures
// and refunds are two-step sagas: the gateway-side money movement plus a
// compensating transfer between the platform account and the merchant's
// connected account. The steps cannot run in one transaction, so each has a
// defined recovery: a failed capture transfer is retried by the
// fee-collection task, and a failed refund reverses its transfer-out before
// propagating the failure.
type StripeGateway struct {
	client *stripe.Client
}

// NewStripeGateway creates a new Stripe adapter.
func NewStripeGateway(client *stripe.Client) *StripeGateway {
	return &StripeGateway{client: client}
}

// Name returns the gateway code.
func (g *StripeGateway) Name() models.GatewayName {
	return models.GatewayStripe
}

// Authorise creates and confirms a manual-capture payment intent.
func (g *StripeGateway) Authorise(ctx context.Context, req *AuthoriseRequest) (*AuthoriseResult, error) {
	return g.authorise(ctx, req, false)
}

// AuthoriseRecurring confirms an off-session intent against a stored
// payment method and reports decline retriability.
func (g *StripeGateway) AuthoriseRecurring(ctx context.Context, req *AuthoriseRequest) (*AuthoriseResult, error) {
	return g.authorise(ctx, req, true)
}

func (g *StripeGateway) authorise(ctx context.Context, req *AuthoriseRequest, offSession bool) (*AuthoriseResult, error) {
	paymentMethod := ""
	if offSession {
		if req.Charge.StoredInstrumentRef != nil {
			paymentMethod = *req.Charge.StoredInstrumentRef
		}
	} else {
		paymentMethod = req.Card.Number // tokenised upstream; pm_ reference
	}

	intent, err := g.client.CreatePaymentIntent(ctx, req.Charge.TotalAmount(), req.Charge.ExternalID, paymentMethod, offSession)
	if err != nil {
		var apiErr *stripe.APIError
		if errors.As(err, &apiErr) {
			// A card decline is a business outcome, not an error.
			result := &AuthoriseResult{Outcome: AuthoriseRejected}
			if offSession {
				if canRetry, known := stripe.CanRetryDecline(apiErr.DeclineCode); known {
					result.CanRetry = &canRetry
				}
			}
			return result, nil
		}
		return nil, err
	}

	result := &AuthoriseResult{TransactionID: intent.ID}
	switch intent.Status {
	case stripe.IntentRequiresCapture:
		result.Outcome = AuthoriseAuthorised
	case stripe.IntentRequiresAction:
		result.Outcome = AuthoriseRequires3DS
	case stripe.IntentRequiresPaymentMethod, stripe.IntentCanceled:
		result.Outcome = AuthoriseRejected
	default:
		result.Outcome = AuthoriseError
	}
	return result, nil
}

// Capture captures the intent and then transfers the net funds to the
// merchant account. A transfer failure after a successful capture must not
// report the capture failed: the money was taken. It reports complete with
// TransferPending so a reconciliation task retries the transfer.
func (g *StripeGateway) Capture(ctx context.Context, charge *models.Charge) (*CaptureResult, error) {
	intent, err := g.client.CapturePaymentIntent(ctx, txnID(charge))
	if err != nil {
		var apiErr *stripe.APIError
		if errors.As(err, &apiErr) {
			return &CaptureResult{State: StateError}, nil
		}
		return nil, err
	}
	if intent.Status != stripe.IntentSucceeded {
		if intent.Status == stripe.IntentProcessing {
			return &CaptureResult{State: StatePending}, nil
		}
		return &CaptureResult{State: StateError}, nil
	}

	fees, feeErr := g.collectFeesForIntent(ctx, intent)
	if feeErr != nil {
		log.Warn().Err(feeErr).Str("intent_id", intent.ID).
			Msg("Captured but fee lookup failed, deferring to reconciliation")
		return &CaptureResult{State: StateComplete, TransferPending: true}, nil
	}

	if _, err := g.client.CreateTransfer(ctx, charge.TotalAmount()-models.TotalFees(fees), charge.ExternalID); err != nil {
		log.Warn().Err(err).Str("intent_id", intent.ID).
			Msg("Captured but merchant transfer failed, deferring to reconciliation")
		return &CaptureResult{State: StateComplete, Fees: fees, TransferPending: true}, nil
	}
	return &CaptureResult{State: StateComplete, Fees: fees}, nil
}

// CollectFees implements the FeeCollector capability: find the intent,
// compute the fee breakdown, and complete the merchant transfer that the
// capture path could not make.
func (g *StripeGateway) CollectFees(ctx context.Context, charge *models.Charge) ([]models.Fee, error) {
	intent, err := g.client.GetPaymentIntent(ctx, txnID(charge))
	if err != nil {
		return nil, err
	}
	fees, err := g.collectFeesForIntent(ctx, intent)
	if err != nil {
		return nil, err
	}
	if _, err := g.client.CreateTransfer(ctx, charge.TotalAmount()-models.TotalFees(fees), charge.ExternalID); err != nil {
		return nil, err
	}
	return fees, nil
}

func (g *StripeGateway) collectFeesForIntent(ctx context.Context, intent *stripe.PaymentIntent) ([]models.Fee, error) {
	if intent.LatestCharge == "" {
		return nil, fmt.Errorf("intent %s has no charge to read fees from", intent.ID)
	}
	ch, err := g.client.GetCharge(ctx, intent.LatestCharge)
	if err != nil {
		return nil, err
	}
	bt, err := g.client.GetBalanceTransaction(ctx, ch.BalanceTransaction)
	if err != nil {
		return nil, err
	}

	fees := make([]models.Fee, 0, len(bt.FeeDetails))
	for _, d := range bt.FeeDetails {
		feeType := models.FeeTransaction
		switch d.Type {
		case stripe.FeeTypeRadar:
			feeType = models.FeeProcessor
		case stripe.FeeTypeThreeDS:
			feeType = models.FeeThreeDS
		}
		fees = append(fees, models.Fee{
			Type:                 feeType,
			Amount:               d.Amount,
			GatewayTransactionID: intent.ID,
		})
	}
	return fees, nil
}

// Cancel cancels an uncaptured intent.
func (g *StripeGateway) Cancel(ctx context.Context, charge *models.Charge) (*CancelResult, error) {
	intent, err := g.client.CancelPaymentIntent(ctx, txnID(charge))
	if err != nil {
		var apiErr *stripe.APIError
		if errors.As(err, &apiErr) {
			return &CancelResult{State: StateError}, nil
		}
		return nil, err
	}
	if intent.Status == stripe.IntentCanceled {
		return &CancelResult{State: StateComplete}, nil
	}
	return &CancelResult{State: StateError}, nil
}

// Refund is the compensating saga: first pull the refund amount back from
// the merchant account (transfer reversal territory), then refund the
// cardholder. If the refund proper fails after the transfer-out succeeded,
// the transfer-out is reversed before the failure is surfaced, so the
// merchant balance is never left short without a refund to show for it.
func (g *StripeGateway) Refund(ctx context.Context, charge *models.Charge, refund *models.Refund) (*RefundResult, error) {
	intent, err := g.client.GetPaymentIntent(ctx, txnID(charge))
	if err != nil {
		return nil, err
	}

	transferOut, err := g.client.CreateTransfer(ctx, -refund.Amount, charge.ExternalID+"-refund")
	if err != nil {
		var apiErr *stripe.APIError
		if errors.As(err, &apiErr) {
			return &RefundResult{State: StateError}, nil
		}
		return nil, err
	}

	rf, err := g.client.CreateRefund(ctx, intent.LatestCharge, refund.Amount)
	if err != nil {
		// Undo the transfer-out; if the reversal itself fails this needs an
		// operator, so keep both failures visible.
		if _, revErr := g.client.ReverseTransfer(ctx, transferOut.ID); revErr != nil {
			log.Error().Err(revErr).Str("transfer_id", transferOut.ID).
				Str("refund_id", refund.ExternalID).
				Msg("CRITICAL: refund failed and transfer-out reversal failed, manual intervention required")
		}
		var apiErr *stripe.APIError
		if errors.As(err, &apiErr) {
			return &RefundResult{State: StateError}, nil
		}
		return nil, err
	}

	result := &RefundResult{TransactionID: rf.ID}
	switch rf.Status {
	case "succeeded":
		result.State = StateComplete
	case "pending":
		result.State = StatePending
	default:
		result.State = StateError
	}
	return result, nil
}

// SupportsStatusQuery reports that intents can be fetched on demand.
func (g *StripeGateway) SupportsStatusQuery() bool {
	return true
}

// QueryStatus fetches the intent's authoritative status.
func (g *StripeGateway) QueryStatus(ctx context.Context, charge *models.Charge) (*StatusResult, error) {
	intent, err := g.client.GetPaymentIntent(ctx, txnID(charge))
	if err != nil {
		return nil, err
	}
	result := &StatusResult{RawStatus: intent.Status}
	switch intent.Status {
	case stripe.IntentRequiresCapture:
		result.Interpretation = InterpretAuthorised
	case stripe.IntentSucceeded:
		result.Interpretation = InterpretCaptured
	case stripe.IntentCanceled:
		result.Interpretation = InterpretCancelled
	case stripe.IntentRequiresPaymentMethod:
		result.Interpretation = InterpretAuthRejected
	default:
		result.Interpretation = InterpretIgnore
	}
	return result, nil
}

// DeleteStoredInstrument detaches the stored payment method.
func (g *StripeGateway) DeleteStoredInstrument(ctx context.Context, instrumentRef string) error {
	return g.client.DetachPaymentMethod(ctx, instrumentRef)
}

func txnID(charge *models.Charge) string {
	if charge.GatewayTransactionID != nil {
		return *charge.GatewayTransactionID
	}
	return ""
}
