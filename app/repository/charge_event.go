package repository

import (
	"context"
	"database/sql"

	"github.com/vibast-solutions/ms-go-gateways/app/entity"
)

type ChargeEventRepository struct {
	db DBTX
}

func NewChargeEventRepository(db DBTX) *ChargeEventRepository {
	return &ChargeEventRepository{db: db}
}

func (r *ChargeEventRepository) Create(ctx context.Context, event *entity.ChargeEvent) error {
	query := `
		INSERT INTO charge_events (charge_id, old_status, new_status, message, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		event.ChargeID,
		event.OldStatus,
		event.NewStatus,
		nullableStringValue(event.Message),
		event.CreatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = uint64(id)
	return nil
}

// LatestStatus returns the newest recorded status, or "" when no event exists.
func (r *ChargeEventRepository) LatestStatus(ctx context.Context, chargeID uint64) (string, error) {
	var status string
	err := r.db.QueryRowContext(ctx,
		`SELECT new_status FROM charge_events WHERE charge_id = ? ORDER BY id DESC LIMIT 1`,
		chargeID,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return status, nil
}
