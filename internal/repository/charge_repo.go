package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cardforge/connector/internal/models"
	"github.com/cardforge/connector/internal/utils"
)

// ChargeRepository handles data access for charges.
type ChargeRepository struct {
	db *sqlx.DB
}

// NewChargeRepository creates a new ChargeRepository.
func NewChargeRepository(db *sqlx.DB) *ChargeRepository {
	return &ChargeRepository{db: db}
}

// Create inserts a new charge row.
func (r *ChargeRepository) Create(charge *models.Charge) error {
	const q = `
        INSERT INTO charges (
            external_id, amount, description, reference, status, gateway,
            auth_mode, stored_instrument_ref, corporate_surcharge, extra,
            created_at, updated_at
        ) VALUES (
            $1,$2,$3,$4,$5,$6,
            $7,$8,$9,$10,
            NOW(),NOW()
        ) RETURNING id, created_at, updated_at`

	return r.db.QueryRow(q,
		charge.ExternalID, charge.Amount, charge.Description, charge.Reference,
		charge.Status, charge.Gateway, charge.AuthMode, charge.StoredInstrumentRef,
		charge.CorporateSurcharge, nullableRaw(charge.Extra),
	).Scan(&charge.ID, &charge.CreatedAt, &charge.UpdatedAt)
}

// FindByExternalID returns a charge by its public identifier.
func (r *ChargeRepository) FindByExternalID(externalID string) (*models.Charge, error) {
	const q = `SELECT * FROM charges WHERE external_id = $1 LIMIT 1`
	stmt, err := r.db.Preparex(q)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	var c models.Charge
	if err := stmt.Get(&c, externalID); err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.ErrChargeNotFound
		}
		return nil, err
	}
	return &c, nil
}

// FindByGatewayTransactionID returns a charge by the gateway's transaction
// identifier, scoped to one gateway since providers do not share id spaces.
func (r *ChargeRepository) FindByGatewayTransactionID(gateway models.GatewayName, gatewayTransactionID string) (*models.Charge, error) {
	const q = `SELECT * FROM charges WHERE gateway = $1 AND gateway_transaction_id = $2 LIMIT 1`
	stmt, err := r.db.Preparex(q)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	var c models.Charge
	if err := stmt.Get(&c, gateway, gatewayTransactionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.ErrChargeNotFound
		}
		return nil, err
	}
	return &c, nil
}

// FindHistoricByGatewayTransactionID searches the archival table for charges
// purged from primary storage. Historic rows are read-only.
func (r *ChargeRepository) FindHistoricByGatewayTransactionID(gateway models.GatewayName, gatewayTransactionID string) (*models.Charge, error) {
	const q = `SELECT * FROM historic_charges WHERE gateway = $1 AND gateway_transaction_id = $2 LIMIT 1`
	stmt, err := r.db.Preparex(q)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	var c models.Charge
	if err := stmt.Get(&c, gateway, gatewayTransactionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.ErrChargeNotFound
		}
		return nil, err
	}
	return &c, nil
}

// CompareAndSetStatus writes next only if the persisted status still equals
// expected. A false return means another writer got there first.
func (r *ChargeRepository) CompareAndSetStatus(chargeID int64, expected, next models.ChargeStatus) (bool, error) {
	const q = `
        UPDATE charges SET status = $3, updated_at = NOW()
        WHERE id = $1 AND status = $2`

	res, err := r.db.Exec(q, chargeID, expected, next)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetGatewayTransactionID records the gateway's id for the charge. The value
// is immutable once set; a second write with a different value is refused.
func (r *ChargeRepository) SetGatewayTransactionID(chargeID int64, gatewayTransactionID string) error {
	const q = `
        UPDATE charges SET gateway_transaction_id = $2, updated_at = NOW()
        WHERE id = $1 AND (gateway_transaction_id IS NULL OR gateway_transaction_id = $2)`

	res, err := r.db.Exec(q, chargeID, gatewayTransactionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: gateway transaction id already set for charge %d", utils.ErrConflict, chargeID)
	}
	return nil
}

// SetCanRetry records the gateway's retriability verdict for a recurring
// authorisation failure.
func (r *ChargeRepository) SetCanRetry(chargeID int64, canRetry bool) error {
	const q = `UPDATE charges SET can_retry = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.db.Exec(q, chargeID, canRetry)
	return err
}

// IncrementCaptureAttempts bumps the capture attempt counter and returns the
// new value.
func (r *ChargeRepository) IncrementCaptureAttempts(chargeID int64) (int, error) {
	const q = `
        UPDATE charges SET capture_attempts = capture_attempts + 1, updated_at = NOW()
        WHERE id = $1 RETURNING capture_attempts`

	var attempts int
	if err := r.db.QueryRow(q, chargeID).Scan(&attempts); err != nil {
		if err == sql.ErrNoRows {
			return 0, utils.ErrChargeNotFound
		}
		return 0, err
	}
	return attempts, nil
}

// SetNetAmount records the settlement amount after gateway fees.
func (r *ChargeRepository) SetNetAmount(chargeID int64, netAmount int64) error {
	const q = `UPDATE charges SET net_amount = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.db.Exec(q, chargeID, netAmount)
	return err
}

// FindStaleInStatus lists charges sitting in one of the given statuses for
// longer than threshold, oldest first.
func (r *ChargeRepository) FindStaleInStatus(statuses []models.ChargeStatus, threshold time.Duration) ([]models.Charge, error) {
	const q = `
        SELECT * FROM charges
        WHERE status = ANY($1) AND created_at < $2
        ORDER BY created_at ASC`

	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	cutoff := time.Now().Add(-threshold)

	var list []models.Charge
	if err := r.db.Select(&list, q, pq.Array(names), cutoff); err != nil {
		return nil, err
	}
	return list, nil
}

// nullableRaw converts an empty raw message to nil for proper NULL handling.
func nullableRaw(v []byte) interface{} {
	if len(v) == 0 {
		return nil
	}
	return v
}
