package entity

import "time"

const (
	ChargeStatusPending    = "pending"
	ChargeStatusAuthorized = "authorized"
	ChargeStatusSucceeded  = "succeeded"
	ChargeStatusFailed     = "failed"
)

// Charge is written once per attempt and never updated. Settlement transitions are appended
// as ChargeEvents.
type Charge struct {
	ID uint64

	RequestID string

	CustomerID        string
	MerchantAccountID uint64
	SourceID          *uint64

	Gateway                string
	ProcessorTransactionID *string
	PaymentMethod          string

	Status string

	RequestedMinor int64
	AmountMinor    int64
	Currency       string

	Description string
	Documents   []string

	FailureReason *string

	CreatedAt time.Time
}

type ChargeEvent struct {
	ID       uint64
	ChargeID uint64

	OldStatus string
	NewStatus string
	Message   *string

	CreatedAt time.Time
}
