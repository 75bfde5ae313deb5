package repository

import (
	"context"
	"errors"

	"github.com/vibast-solutions/ms-go-gateways/app/entity"
)

var (
	ErrWebhookEventAlreadyExists = errors.New("webhook event already recorded")
	ErrWebhookEventNotFound      = errors.New("webhook event not found")
)

type WebhookEventRepository struct {
	db DBTX
}

func NewWebhookEventRepository(db DBTX) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

func (r *WebhookEventRepository) Create(ctx context.Context, event *entity.WebhookEvent) error {
	query := `
		INSERT INTO webhook_events (
			merchant_account_id, gateway, event_id, charge_id, signature, payload_json, status, error, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		event.MerchantAccountID,
		event.Gateway,
		event.EventID,
		nullableUint64Value(event.ChargeID),
		event.Signature,
		event.PayloadJSON,
		event.Status,
		nullableStringValue(event.Error),
		event.CreatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrWebhookEventAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = uint64(id)
	return nil
}

// MarkFailed rewrites the event id of a stored notification, releasing its (gateway, event_id)
// key for a redelivery while keeping the row.
func (r *WebhookEventRepository) MarkFailed(ctx context.Context, id uint64, eventID, reason string) error {
	query := `
		UPDATE webhook_events
		SET event_id = ?, status = ?, error = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, eventID, entity.WebhookStatusFailed, reason, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrWebhookEventNotFound
	}
	return nil
}
