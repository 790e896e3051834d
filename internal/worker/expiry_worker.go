package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cardforge/connector/internal/models"
	"github.com/cardforge/connector/internal/service"
	"github.com/cardforge/connector/internal/utils"
)

// expirableStatuses are the pre-capture states a charge can sit in
// indefinitely if the payer walks away. Anything at or past capture is the
// merchant's money and is never expired.
var expirableStatuses = []models.ChargeStatus{
	models.StatusCreated,
	models.StatusEnteringCardDetails,
	models.StatusAuthorisationReady,
	models.StatusAuthorisation3DS,
	models.StatusAuthorisationOK,
	models.StatusAwaitingCapture,
}

// ExpiryWorker sweeps abandoned charges into the expiry cancellation flow.
type ExpiryWorker struct {
	charges   service.ChargeStore
	chargeSvc *service.ChargeService
	interval  time.Duration
	threshold time.Duration
}

// NewExpiryWorker constructs an ExpiryWorker.
func NewExpiryWorker(
	charges service.ChargeStore,
	chargeSvc *service.ChargeService,
	interval time.Duration,
	threshold time.Duration,
) *ExpiryWorker {
	return &ExpiryWorker{
		charges:   charges,
		chargeSvc: chargeSvc,
		interval:  interval,
		threshold: threshold,
	}
}

// Start begins the periodic sweep loop until context is canceled.
func (w *ExpiryWorker) Start(ctx context.Context) {
	log.Info().Dur("interval", w.interval).Dur("threshold", w.threshold).Msg("Starting expiry worker")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.run(ctx)
		case <-ctx.Done():
			log.Info().Msg("Expiry worker stopped")
			return
		}
	}
}

func (w *ExpiryWorker) run(ctx context.Context) {
	stale, err := w.charges.FindStaleInStatus(expirableStatuses, w.threshold)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list stale charges")
		return
	}
	if len(stale) == 0 {
		return
	}
	log.Info().Int("count", len(stale)).Msg("Expiring abandoned charges")

	for i := range stale {
		select {
		case <-ctx.Done():
			return
		default:
			w.expire(ctx, &stale[i])
		}
	}
}

func (w *ExpiryWorker) expire(ctx context.Context, charge *models.Charge) {
	_, err := w.chargeSvc.Cancel(ctx, charge.ExternalID, models.ExpireFlow)
	if err == nil {
		return
	}
	// A charge that moved on since the sweep listed it is not a problem;
	// anything else deserves a look.
	if errors.Is(err, utils.ErrChargeTerminal) || errors.Is(err, utils.ErrConflict) ||
		errors.Is(err, utils.ErrIllegalStateTransition) || errors.Is(err, utils.ErrOperationInProgress) {
		log.Debug().Str("charge_id", charge.ExternalID).Err(err).Msg("Charge moved on before expiry")
		return
	}
	log.Error().Str("charge_id", charge.ExternalID).Err(err).Msg("Failed to expire charge")
}
