package repository

import (
	"context"
	"database/sql"

	"github.com/vibast-solutions/ms-go-gateways/app/vault"
)

// RoutingNumberRepository resolves ABA routing numbers to bank names.
type RoutingNumberRepository struct {
	db DBTX
}

func NewRoutingNumberRepository(db DBTX) *RoutingNumberRepository {
	return &RoutingNumberRepository{db: db}
}

func (r *RoutingNumberRepository) BankName(ctx context.Context, routingNumber string) (string, error) {
	var name string
	err := r.db.QueryRowContext(ctx,
		`SELECT bank_name FROM routing_numbers WHERE routing_number = ?`,
		routingNumber,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return "", vault.ErrRoutingNumberNotFound
	}
	if err != nil {
		return "", err
	}
	return name, nil
}
