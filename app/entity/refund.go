package entity

import "time"

const (
	RefundMethodVoid   = "void"
	RefundMethodCredit = "credit"

	RefundStatusPending   = "pending"
	RefundStatusSucceeded = "succeeded"
	RefundStatusFailed    = "failed"
)

type Refund struct {
	ID       uint64
	ChargeID uint64

	Gateway           string
	ProcessorRefundID string
	Method            string

	Status      string
	AmountMinor int64
	Currency    string
	Message     *string

	CreatedAt time.Time
}
