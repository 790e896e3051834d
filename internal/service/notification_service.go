package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cardforge/connector/internal/metrics"
	"github.com/cardforge/connector/internal/models"
	"github.com/cardforge/connector/internal/utils"
	"github.com/cardforge/connector/pkg/epdq"
	"github.com/cardforge/connector/pkg/stripe"
	"github.com/cardforge/connector/pkg/worldpay"
)

// NotificationService reconciles asynchronous gateway callbacks with the
// charge state machine. The pipeline per provider is parse, authenticate,
// resolve, map, apply. Malformed or unauthenticated payloads are logged and
// dropped without retry: the sender will not resend a payload we already
// received, and this service's only hard guarantee is that bad input never
// corrupts state. Unknown provider status codes map to ignore, never to an
// error.
type NotificationService struct {
	charges    ChargeStore
	chargeSvc  *ChargeService
	refundSvc  *RefundService
	epdqSecret string
	stripeCfg  StripeWebhookConfig
	worldpay   WorldpayNotificationConfig
}

// StripeWebhookConfig holds the Stripe endpoint secret and replay window.
type StripeWebhookConfig struct {
	Secret    string
	Tolerance int64 // seconds
}

// WorldpayNotificationConfig holds the shared secret Worldpay includes in
// its notification URL.
type WorldpayNotificationConfig struct {
	Secret string
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(
	charges ChargeStore,
	chargeSvc *ChargeService,
	refundSvc *RefundService,
	epdqShaOutSecret string,
	stripeCfg StripeWebhookConfig,
	worldpayCfg WorldpayNotificationConfig,
) *NotificationService {
	return &NotificationService{
		charges:    charges,
		chargeSvc:  chargeSvc,
		refundSvc:  refundSvc,
		epdqSecret: epdqShaOutSecret,
		stripeCfg:  stripeCfg,
		worldpay:   worldpayCfg,
	}
}

// HandleEpdq processes an inbound ePDQ callback body (form-encoded).
func (s *NotificationService) HandleEpdq(ctx context.Context, body string) error {
	n, err := epdq.ParseNotification(body)
	if err != nil {
		s.drop(models.GatewayEpdq, "parse", err)
		return nil
	}
	if !epdq.VerifySignature(n.Raw, s.epdqSecret) {
		s.drop(models.GatewayEpdq, "signature", utils.ErrNotificationSignature)
		return nil
	}

	outcome := epdq.ClassifyStatus(n.Status)

	// Refund outcomes correlate to the charge's submitted refund rather
	// than the charge status itself.
	switch outcome {
	case epdq.OutcomeRefunded, epdq.OutcomeRefundRefused:
		return s.applyRefund(ctx, models.GatewayEpdq, n.PayID, outcome == epdq.OutcomeRefunded)
	case epdq.OutcomeRefundPending, epdq.OutcomeCancelPending, epdq.OutcomeCapturePending, epdq.OutcomeAuthPending:
		metrics.Notifications.WithLabelValues(string(models.GatewayEpdq), metrics.OutcomeIgnored).Inc()
		return nil
	}

	interp := InterpretIgnore
	switch outcome {
	case epdq.OutcomeAuthorised:
		interp = InterpretAuthorised
	case epdq.OutcomeAuthRefused:
		interp = InterpretAuthRejected
	case epdq.OutcomeAuthError:
		interp = InterpretAuthError
	case epdq.OutcomeCaptured:
		interp = InterpretCaptured
	case epdq.OutcomeCaptureRefused:
		interp = InterpretCaptureError
	case epdq.OutcomeCancelled, epdq.OutcomeCancelRefused:
		interp = InterpretCancelled
	}
	return s.applyCharge(ctx, models.GatewayEpdq, n.PayID, interp)
}

// HandleWorldpay processes an inbound Worldpay XML notification. The shared
// secret from the notification URL must already match; handlers enforce it
// and pass the verdict down so this pipeline stays independently testable.
func (s *NotificationService) HandleWorldpay(ctx context.Context, body []byte, secret string) error {
	if s.worldpay.Secret != "" && secret != s.worldpay.Secret {
		s.drop(models.GatewayWorldpay, "signature", utils.ErrNotificationSignature)
		return nil
	}
	n, err := worldpay.ParseNotification(body)
	if err != nil {
		s.drop(models.GatewayWorldpay, "parse", err)
		return nil
	}

	outcome := worldpay.ClassifyEvent(n.LastEvent)
	switch outcome {
	case worldpay.OutcomeRefunded, worldpay.OutcomeRefundFailed:
		return s.applyRefund(ctx, models.GatewayWorldpay, n.OrderCode, outcome == worldpay.OutcomeRefunded)
	case worldpay.OutcomeRefundPending, worldpay.OutcomeAuthPending:
		metrics.Notifications.WithLabelValues(string(models.GatewayWorldpay), metrics.OutcomeIgnored).Inc()
		return nil
	}

	interp := InterpretIgnore
	switch outcome {
	case worldpay.OutcomeAuthorised:
		interp = InterpretAuthorised
	case worldpay.OutcomeAuthRefused:
		interp = InterpretAuthRejected
	case worldpay.OutcomeAuthError:
		interp = InterpretAuthError
	case worldpay.OutcomeCaptured:
		interp = InterpretCaptured
	case worldpay.OutcomeCancelled:
		interp = InterpretCancelled
	}
	return s.applyCharge(ctx, models.GatewayWorldpay, n.OrderCode, interp)
}

// stripeEventObject is the subset of the event payload object we read.
type stripeEventObject struct {
	ID            string `json:"id"`
	PaymentIntent string `json:"payment_intent"`
	Status        string `json:"status"`
}

// HandleStripe processes an inbound Stripe webhook.
func (s *NotificationService) HandleStripe(ctx context.Context, payload []byte, signatureHeader string) error {
	if err := stripe.VerifySignature(payload, signatureHeader, s.stripeCfg.Secret, toleranceDuration(s.stripeCfg.Tolerance)); err != nil {
		s.drop(models.GatewayStripe, "signature", err)
		return nil
	}
	event, err := stripe.ParseEvent(payload)
	if err != nil {
		s.drop(models.GatewayStripe, "parse", err)
		return nil
	}

	var obj stripeEventObject
	if err := json.Unmarshal(event.Data.Object, &obj); err != nil {
		s.drop(models.GatewayStripe, "parse", err)
		return nil
	}

	switch event.Type {
	case stripe.EventPaymentIntentSucceeded:
		return s.applyCharge(ctx, models.GatewayStripe, obj.ID, InterpretCaptured)
	case stripe.EventPaymentIntentFailed:
		return s.applyCharge(ctx, models.GatewayStripe, obj.ID, InterpretAuthRejected)
	case stripe.EventPaymentIntentCanceled:
		return s.applyCharge(ctx, models.GatewayStripe, obj.ID, InterpretCancelled)
	case stripe.EventChargeRefunded, stripe.EventChargeRefundUpdated:
		txnID := obj.PaymentIntent
		if txnID == "" {
			txnID = obj.ID
		}
		return s.applyRefund(ctx, models.GatewayStripe, txnID, obj.Status != "failed")
	default:
		// Forward compatibility: new event types must not crash processing.
		metrics.Notifications.WithLabelValues(string(models.GatewayStripe), metrics.OutcomeIgnored).Inc()
		return nil
	}
}

// applyCharge resolves the charge by gateway transaction id and drives the
// state machine. A transaction id resolving to no charge is logged and
// dropped: the provider redelivers on its own schedule if it still matters.
func (s *NotificationService) applyCharge(ctx context.Context, gateway models.GatewayName, txnID string, interp Interpretation) error {
	charge, historic, err := s.resolve(gateway, txnID)
	if err != nil {
		return nil
	}
	if historic {
		// Historic charges are read-only; reconciliation is a no-op.
		log.Info().Str("gateway", string(gateway)).Str("txn_id", txnID).
			Msg("Notification for historic charge, ignoring")
		metrics.Notifications.WithLabelValues(string(gateway), metrics.OutcomeIgnored).Inc()
		return nil
	}

	if err := s.chargeSvc.applyInterpretation(ctx, charge, interp); err != nil {
		metrics.Notifications.WithLabelValues(string(gateway), metrics.OutcomeError).Inc()
		return fmt.Errorf("failed to apply %s notification to charge %s: %w", gateway, charge.ExternalID, err)
	}
	metrics.Notifications.WithLabelValues(string(gateway), metrics.OutcomeApplied).Inc()
	return nil
}

func (s *NotificationService) applyRefund(ctx context.Context, gateway models.GatewayName, txnID string, succeeded bool) error {
	charge, historic, err := s.resolve(gateway, txnID)
	if err != nil || historic {
		return nil
	}
	if err := s.refundSvc.ApplyGatewayOutcome(ctx, charge.ID, succeeded); err != nil {
		metrics.Notifications.WithLabelValues(string(gateway), metrics.OutcomeError).Inc()
		return err
	}
	metrics.Notifications.WithLabelValues(string(gateway), metrics.OutcomeApplied).Inc()
	return nil
}

// resolve finds the charge for a gateway transaction id, falling back to
// the archival store for purged charges. The error return only signals
// "not found anywhere"; it is already logged and counted.
func (s *NotificationService) resolve(gateway models.GatewayName, txnID string) (*models.Charge, bool, error) {
	charge, err := s.charges.FindByGatewayTransactionID(gateway, txnID)
	if err == nil {
		return charge, false, nil
	}
	if !errors.Is(err, utils.ErrChargeNotFound) {
		log.Error().Err(err).Str("gateway", string(gateway)).Str("txn_id", txnID).
			Msg("Charge lookup failed for notification")
		metrics.Notifications.WithLabelValues(string(gateway), metrics.OutcomeError).Inc()
		return nil, false, err
	}

	historic, herr := s.charges.FindHistoricByGatewayTransactionID(gateway, txnID)
	if herr == nil {
		return historic, true, nil
	}

	log.Warn().Str("gateway", string(gateway)).Str("txn_id", txnID).
		Msg("Notification for unknown transaction id, dropping")
	metrics.Notifications.WithLabelValues(string(gateway), metrics.OutcomeIgnored).Inc()
	return nil, false, err
}

func (s *NotificationService) drop(gateway models.GatewayName, stage string, err error) {
	log.Warn().Err(err).Str("gateway", string(gateway)).Str("stage", stage).
		Msg("Dropping notification")
	metrics.Notifications.WithLabelValues(string(gateway), metrics.OutcomeRejected).Inc()
}

func toleranceDuration(seconds int64) time.Duration {
	return time.Duration(seconds) * time.Second
}
