package repository

import (
	"github.com/jmoiron/sqlx"

	"github.com/cardforge/connector/internal/models"
)

// FeeRepository handles data access for gateway-reported fee breakdowns.
type FeeRepository struct {
	db *sqlx.DB
}

// NewFeeRepository creates a new FeeRepository.
func NewFeeRepository(db *sqlx.DB) *FeeRepository {
	return &FeeRepository{db: db}
}

// Create inserts one fee component.
func (r *FeeRepository) Create(fee *models.Fee) error {
	const q = `
        INSERT INTO fees (charge_id, fee_type, amount, gateway_transaction_id, collected_at)
        VALUES ($1,$2,$3,$4,$5) RETURNING id`
	return r.db.QueryRow(q,
		fee.ChargeID, fee.Type, fee.Amount, fee.GatewayTransactionID, fee.CollectedAt,
	).Scan(&fee.ID)
}

// ListForCharge returns the fee breakdown recorded for a charge.
func (r *FeeRepository) ListForCharge(chargeID int64) ([]models.Fee, error) {
	const q = `SELECT * FROM fees WHERE charge_id = $1 ORDER BY id ASC`
	var list []models.Fee
	if err := r.db.Select(&list, q, chargeID); err != nil {
		return nil, err
	}
	return list, nil
}
