package repository

import (
	"context"
	"database/sql"

	"github.com/vibast-solutions/ms-go-gateways/app/entity"
)

type RefundRepository struct {
	db DBTX
}

func NewRefundRepository(db DBTX) *RefundRepository {
	return &RefundRepository{db: db}
}

func (r *RefundRepository) Create(ctx context.Context, refund *entity.Refund) error {
	query := `
		INSERT INTO refunds (
			charge_id, gateway, processor_refund_id, method, status, amount_minor, currency, message, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		refund.ChargeID,
		refund.Gateway,
		refund.ProcessorRefundID,
		refund.Method,
		refund.Status,
		refund.AmountMinor,
		refund.Currency,
		nullableStringValue(refund.Message),
		refund.CreatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	refund.ID = uint64(id)
	return nil
}

// TotalRefunded sums refunds that are pending or succeeded for a charge.
func (r *RefundRepository) TotalRefunded(ctx context.Context, chargeID uint64) (int64, error) {
	var total sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT SUM(amount_minor) FROM refunds WHERE charge_id = ? AND status IN (?, ?)`,
		chargeID, entity.RefundStatusPending, entity.RefundStatusSucceeded,
	).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}
