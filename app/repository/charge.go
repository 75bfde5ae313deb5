package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-gateways/app/entity"
)

var (
	ErrChargeNotFound      = errors.New("charge not found")
	ErrChargeAlreadyExists = errors.New("charge already exists")
)

const chargeColumns = `
	id, request_id, customer_id, merchant_account_id, source_id, gateway,
	processor_transaction_id, payment_method, status,
	requested_minor, amount_minor, currency, description, documents_json,
	failure_reason, created_at
`

// ChargeRepository is insert-only; settlement changes go to charge_events.
type ChargeRepository struct {
	db DBTX
}

func NewChargeRepository(db DBTX) *ChargeRepository {
	return &ChargeRepository{db: db}
}

func (r *ChargeRepository) Create(ctx context.Context, charge *entity.Charge) error {
	documents := charge.Documents
	if documents == nil {
		documents = []string{}
	}
	documentsJSON, err := serializeJSON(documents)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO charges (
			request_id, customer_id, merchant_account_id, source_id, gateway,
			processor_transaction_id, payment_method, status,
			requested_minor, amount_minor, currency, description, documents_json,
			failure_reason, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		charge.RequestID,
		charge.CustomerID,
		charge.MerchantAccountID,
		nullableUint64Value(charge.SourceID),
		charge.Gateway,
		nullableStringValue(charge.ProcessorTransactionID),
		charge.PaymentMethod,
		charge.Status,
		charge.RequestedMinor,
		charge.AmountMinor,
		charge.Currency,
		charge.Description,
		documentsJSON,
		nullableStringValue(charge.FailureReason),
		charge.CreatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrChargeAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	charge.ID = uint64(id)
	return nil
}

func (r *ChargeRepository) FindByID(ctx context.Context, id uint64) (*entity.Charge, error) {
	return r.findOne(ctx, `SELECT `+chargeColumns+` FROM charges WHERE id = ?`, id)
}

// FindByMerchantRequestID returns the charge created for a caller request id, if any.
func (r *ChargeRepository) FindByMerchantRequestID(ctx context.Context, merchantAccountID uint64, requestID string) (*entity.Charge, error) {
	query := `SELECT ` + chargeColumns + ` FROM charges WHERE merchant_account_id = ? AND request_id = ? LIMIT 1`
	return r.findOne(ctx, query, merchantAccountID, requestID)
}

// ListPendingForReconcile returns charges created before the cutoff that are still pending or
// authorized, taking appended status events into account.
func (r *ChargeRepository) ListPendingForReconcile(ctx context.Context, before time.Time, limit int32) ([]*entity.Charge, error) {
	query := `
		SELECT ` + chargeColumns + `
		FROM charges c
		WHERE c.status IN (?, ?)
		  AND c.processor_transaction_id IS NOT NULL
		  AND c.created_at <= ?
		  AND NOT EXISTS (
			SELECT 1 FROM charge_events e
			WHERE e.charge_id = c.id AND e.new_status IN (?, ?)
		  )
		ORDER BY c.created_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query,
		entity.ChargeStatusPending, entity.ChargeStatusAuthorized,
		before,
		entity.ChargeStatusSucceeded, entity.ChargeStatusFailed,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	charges := make([]*entity.Charge, 0)
	for rows.Next() {
		item := &entity.Charge{}
		if err := scanCharge(rows, item); err != nil {
			return nil, err
		}
		charges = append(charges, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return charges, nil
}

func (r *ChargeRepository) FindByProcessorTransactionID(ctx context.Context, gatewayID, transactionID string) (*entity.Charge, error) {
	query := `SELECT ` + chargeColumns + ` FROM charges WHERE gateway = ? AND processor_transaction_id = ? ORDER BY id DESC LIMIT 1`
	return r.findOne(ctx, query, gatewayID, transactionID)
}

func (r *ChargeRepository) findOne(ctx context.Context, query string, args ...interface{}) (*entity.Charge, error) {
	charge := &entity.Charge{}
	if err := scanCharge(r.db.QueryRowContext(ctx, query, args...), charge); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return charge, nil
}

func scanCharge(scan rowScanner, charge *entity.Charge) error {
	var sourceID sql.NullInt64
	var processorTransactionID, failureReason sql.NullString
	var documentsJSON string

	err := scan.Scan(
		&charge.ID,
		&charge.RequestID,
		&charge.CustomerID,
		&charge.MerchantAccountID,
		&sourceID,
		&charge.Gateway,
		&processorTransactionID,
		&charge.PaymentMethod,
		&charge.Status,
		&charge.RequestedMinor,
		&charge.AmountMinor,
		&charge.Currency,
		&charge.Description,
		&documentsJSON,
		&failureReason,
		&charge.CreatedAt,
	)
	if err != nil {
		return err
	}

	charge.SourceID = uint64PtrFromNull(sourceID)
	charge.ProcessorTransactionID = stringPtrFromNull(processorTransactionID)
	charge.FailureReason = stringPtrFromNull(failureReason)
	documents, err := parseStringSlice(documentsJSON)
	if err != nil {
		return err
	}
	charge.Documents = documents
	return nil
}
