package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-gateways/app/entity"
)

var (
	ErrPaymentSourceNotFound      = errors.New("payment source not found")
	ErrPaymentSourceAlreadyExists = errors.New("payment source already exists")
)

const paymentSourceColumns = `
	id, customer_id, merchant_account_id, kind, gateway,
	processor_source_id, processor_customer_id, fingerprint,
	chargeable, verified, last4, brand, bank_name, routing_number, account_type,
	deleted_at, created_at, updated_at
`

type PaymentSourceRepository struct {
	db DBTX
}

func NewPaymentSourceRepository(db DBTX) *PaymentSourceRepository {
	return &PaymentSourceRepository{db: db}
}

// Create inserts a source. A live source with the same (merchant, customer, fingerprint)
// yields ErrPaymentSourceAlreadyExists.
func (r *PaymentSourceRepository) Create(ctx context.Context, source *entity.PaymentSource) error {
	query := `
		INSERT INTO payment_sources (
			customer_id, merchant_account_id, kind, gateway,
			processor_source_id, processor_customer_id, fingerprint,
			chargeable, verified, last4, brand, bank_name, routing_number, account_type,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		source.CustomerID,
		source.MerchantAccountID,
		source.Kind,
		source.Gateway,
		source.ProcessorSourceID,
		nullableStringValue(source.ProcessorCustomerID),
		source.Fingerprint,
		source.Chargeable,
		source.Verified,
		source.Last4,
		source.Brand,
		nullableStringValue(source.BankName),
		nullableStringValue(source.RoutingNumber),
		nullableStringValue(source.AccountType),
		source.CreatedAt,
		source.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrPaymentSourceAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	source.ID = uint64(id)
	return nil
}

func (r *PaymentSourceRepository) FindByID(ctx context.Context, id uint64) (*entity.PaymentSource, error) {
	query := `SELECT ` + paymentSourceColumns + ` FROM payment_sources WHERE id = ? AND deleted_at IS NULL`
	return r.findOne(ctx, query, id)
}

func (r *PaymentSourceRepository) FindByFingerprint(ctx context.Context, merchantAccountID uint64, customerID, fingerprint string) (*entity.PaymentSource, error) {
	query := `
		SELECT ` + paymentSourceColumns + `
		FROM payment_sources
		WHERE merchant_account_id = ? AND customer_id = ? AND fingerprint = ? AND deleted_at IS NULL
		LIMIT 1
	`
	return r.findOne(ctx, query, merchantAccountID, customerID, fingerprint)
}

func (r *PaymentSourceRepository) ListByCustomer(ctx context.Context, merchantAccountID uint64, customerID string) ([]*entity.PaymentSource, error) {
	query := `
		SELECT ` + paymentSourceColumns + `
		FROM payment_sources
		WHERE merchant_account_id = ? AND customer_id = ? AND deleted_at IS NULL
		ORDER BY id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, merchantAccountID, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sources := make([]*entity.PaymentSource, 0)
	for rows.Next() {
		item := &entity.PaymentSource{}
		if err := scanPaymentSource(rows, item); err != nil {
			return nil, err
		}
		sources = append(sources, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sources, nil
}

// MarkVerified is the only mutation besides soft deletion.
func (r *PaymentSourceRepository) MarkVerified(ctx context.Context, id uint64, chargeable bool, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE payment_sources SET verified = 1, chargeable = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		chargeable, at, id,
	)
	if err != nil {
		return err
	}
	return expectAffected(result, ErrPaymentSourceNotFound)
}

func (r *PaymentSourceRepository) SoftDelete(ctx context.Context, id uint64, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE payment_sources SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		at, at, id,
	)
	if err != nil {
		return err
	}
	return expectAffected(result, ErrPaymentSourceNotFound)
}

func (r *PaymentSourceRepository) findOne(ctx context.Context, query string, args ...interface{}) (*entity.PaymentSource, error) {
	source := &entity.PaymentSource{}
	if err := scanPaymentSource(r.db.QueryRowContext(ctx, query, args...), source); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return source, nil
}

func scanPaymentSource(scan rowScanner, source *entity.PaymentSource) error {
	var processorCustomerID, bankName, routingNumber, accountType sql.NullString
	var deletedAt sql.NullTime

	err := scan.Scan(
		&source.ID,
		&source.CustomerID,
		&source.MerchantAccountID,
		&source.Kind,
		&source.Gateway,
		&source.ProcessorSourceID,
		&processorCustomerID,
		&source.Fingerprint,
		&source.Chargeable,
		&source.Verified,
		&source.Last4,
		&source.Brand,
		&bankName,
		&routingNumber,
		&accountType,
		&deletedAt,
		&source.CreatedAt,
		&source.UpdatedAt,
	)
	if err != nil {
		return err
	}

	source.ProcessorCustomerID = stringPtrFromNull(processorCustomerID)
	source.BankName = stringPtrFromNull(bankName)
	source.RoutingNumber = stringPtrFromNull(routingNumber)
	source.AccountType = stringPtrFromNull(accountType)
	source.DeletedAt = timePtrFromNull(deletedAt)
	return nil
}

func expectAffected(result sql.Result, notFound error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
