package entity

import "time"

const (
	WebhookStatusProcessed = "processed"
	WebhookStatusIgnored   = "ignored"
	WebhookStatusFailed    = "failed"
)

// WebhookEvent records one processor notification. (gateway, event_id) is unique so a
// redelivered notification is applied once.
type WebhookEvent struct {
	ID                uint64
	MerchantAccountID uint64
	Gateway           string
	EventID           string
	ChargeID          *uint64

	Signature   string
	PayloadJSON string
	Status      string
	Error       *string

	CreatedAt time.Time
}
