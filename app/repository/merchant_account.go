package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vibast-solutions/ms-go-gateways/app/entity"
)

var ErrMerchantAccountNotFound = errors.New("merchant account not found")

type MerchantAccountRepository struct {
	db DBTX
}

func NewMerchantAccountRepository(db DBTX) *MerchantAccountRepository {
	return &MerchantAccountRepository{db: db}
}

func (r *MerchantAccountRepository) Create(ctx context.Context, merchant *entity.MerchantAccount) error {
	credentialsJSON, err := serializeJSON(nonNilStrings(merchant.Credentials))
	if err != nil {
		return err
	}
	featuresJSON, err := serializeJSON(nonNilBools(merchant.Features))
	if err != nil {
		return err
	}

	query := `
		INSERT INTO merchant_accounts (
			name, gateway, credentials_json, features_json, currency, country, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		merchant.Name,
		merchant.Gateway,
		credentialsJSON,
		featuresJSON,
		merchant.Currency,
		merchant.Country,
		merchant.CreatedAt,
		merchant.UpdatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	merchant.ID = uint64(id)
	return nil
}

func (r *MerchantAccountRepository) FindByID(ctx context.Context, id uint64) (*entity.MerchantAccount, error) {
	query := `
		SELECT id, name, gateway, credentials_json, features_json, currency, country, created_at, updated_at
		FROM merchant_accounts
		WHERE id = ?
	`

	merchant := &entity.MerchantAccount{}
	var credentialsJSON, featuresJSON string
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&merchant.ID,
		&merchant.Name,
		&merchant.Gateway,
		&credentialsJSON,
		&featuresJSON,
		&merchant.Currency,
		&merchant.Country,
		&merchant.CreatedAt,
		&merchant.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if merchant.Credentials, err = parseStringMap(credentialsJSON); err != nil {
		return nil, err
	}
	if merchant.Features, err = parseBoolMap(featuresJSON); err != nil {
		return nil, err
	}
	return merchant, nil
}

func nonNilStrings(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilBools(m map[string]bool) map[string]bool {
	if m == nil {
		return map[string]bool{}
	}
	return m
}
