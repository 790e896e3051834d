package repository

import (
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cardforge/connector/internal/models"
)

// ChargeEventRepository handles the append-only charge status history.
type ChargeEventRepository struct {
	db *sqlx.DB
}

// NewChargeEventRepository creates a new ChargeEventRepository.
func NewChargeEventRepository(db *sqlx.DB) *ChargeEventRepository {
	return &ChargeEventRepository{db: db}
}

// Append records one status transition. Rows are never updated or deleted.
func (r *ChargeEventRepository) Append(chargeID int64, status models.ChargeStatus, at time.Time) error {
	const q = `INSERT INTO charge_events (charge_id, status, created_at) VALUES ($1,$2,$3)`
	_, err := r.db.Exec(q, chargeID, status, at)
	return err
}

// ListForCharge returns the full transition history for a charge, oldest
// first.
func (r *ChargeEventRepository) ListForCharge(chargeID int64) ([]models.ChargeEvent, error) {
	const q = `SELECT * FROM charge_events WHERE charge_id = $1 ORDER BY created_at ASC, id ASC`
	var list []models.ChargeEvent
	if err := r.db.Select(&list, q, chargeID); err != nil {
		return nil, err
	}
	return list, nil
}
