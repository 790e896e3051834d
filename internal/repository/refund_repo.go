package repository

import (
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/cardforge/connector/internal/models"
	"github.com/cardforge/connector/internal/utils"
)

// RefundRepository handles data access for refunds.
type RefundRepository struct {
	db *sqlx.DB
}

// NewRefundRepository creates a new RefundRepository.
func NewRefundRepository(db *sqlx.DB) *RefundRepository {
	return &RefundRepository{db: db}
}

// CreateWithAvailabilityCheck inserts the refund only if the charge's
// available-to-refund amount, recomputed under a row lock on the charge,
// still equals the caller's snapshot and covers the refund amount. Two
// concurrent refunds therefore serialise on the charge row and the loser
// fails cleanly instead of over-refunding.
func (r *RefundRepository) CreateWithAvailabilityCheck(refund *models.Refund, expectedAvailable int64) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var charge struct {
		ID     int64 `db:"id"`
		Amount int64 `db:"amount"`
	}
	const lockQ = `SELECT id, amount FROM charges WHERE external_id = $1 FOR UPDATE`
	if err := tx.Get(&charge, lockQ, refund.ChargeExternalID); err != nil {
		if err == sql.ErrNoRows {
			return utils.ErrChargeNotFound
		}
		return err
	}

	var refunded int64
	const sumQ = `
        SELECT COALESCE(SUM(amount), 0) FROM refunds
        WHERE charge_id = $1 AND status <> 'ERROR'`
	if err := tx.Get(&refunded, sumQ, charge.ID); err != nil {
		return err
	}

	available := charge.Amount - refunded
	if available != expectedAvailable {
		return utils.ErrRefundAmountMismatch
	}
	if refund.Amount > available {
		return utils.ErrRefundNotAvailable
	}

	const insQ = `
        INSERT INTO refunds (
            external_id, charge_external_id, charge_id, amount, status,
            submitted_by, created_at, updated_at
        ) VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW())
        RETURNING id, created_at, updated_at`

	refund.ChargeID = charge.ID
	if err := tx.QueryRow(insQ,
		refund.ExternalID, refund.ChargeExternalID, refund.ChargeID,
		refund.Amount, refund.Status, refund.SubmittedBy,
	).Scan(&refund.ID, &refund.CreatedAt, &refund.UpdatedAt); err != nil {
		return err
	}

	return tx.Commit()
}

// FindByExternalID returns a refund by its public identifier.
func (r *RefundRepository) FindByExternalID(externalID string) (*models.Refund, error) {
	const q = `SELECT * FROM refunds WHERE external_id = $1 LIMIT 1`
	stmt, err := r.db.Preparex(q)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	var rf models.Refund
	if err := stmt.Get(&rf, externalID); err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.ErrRefundNotFound
		}
		return nil, err
	}
	return &rf, nil
}

// FindSubmittedForCharge returns the refund currently awaiting a gateway
// outcome for the charge. Gateways process one refund at a time per
// transaction, so at most one row is SUBMITTED.
func (r *RefundRepository) FindSubmittedForCharge(chargeID int64) (*models.Refund, error) {
	const q = `
        SELECT * FROM refunds
        WHERE charge_id = $1 AND status = 'SUBMITTED'
        ORDER BY created_at ASC LIMIT 1`
	stmt, err := r.db.Preparex(q)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	var rf models.Refund
	if err := stmt.Get(&rf, chargeID); err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.ErrRefundNotFound
		}
		return nil, err
	}
	return &rf, nil
}

// CompareAndSetStatus writes next only if the persisted status still equals
// expected.
func (r *RefundRepository) CompareAndSetStatus(refundID int64, expected, next models.RefundStatus) (bool, error) {
	const q = `
        UPDATE refunds SET status = $3, updated_at = NOW()
        WHERE id = $1 AND status = $2`

	res, err := r.db.Exec(q, refundID, expected, next)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetGatewayTransactionID records the gateway's refund identifier.
func (r *RefundRepository) SetGatewayTransactionID(refundID int64, gatewayTransactionID string) error {
	const q = `UPDATE refunds SET gateway_transaction_id = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.db.Exec(q, refundID, gatewayTransactionID)
	return err
}

// SumNonErrored returns the total amount already refunded or in flight for a
// charge. ERROR rows never count against availability.
func (r *RefundRepository) SumNonErrored(chargeID int64) (int64, error) {
	const q = `
        SELECT COALESCE(SUM(amount), 0) FROM refunds
        WHERE charge_id = $1 AND status <> 'ERROR'`
	var total int64
	if err := r.db.Get(&total, q, chargeID); err != nil {
		return 0, err
	}
	return total, nil
}
