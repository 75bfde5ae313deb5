package service

import "errors"

var (
	ErrInvalidRequest         = errors.New("invalid request")
	ErrMerchantNotFound       = errors.New("merchant account not found")
	ErrChargeNotFound         = errors.New("charge not found")
	ErrSourceNotFound         = errors.New("payment source not found")
	ErrSourceNotChargeable    = errors.New("payment source is not chargeable")
	ErrRefundExceedsRemaining = errors.New("refund exceeds the remaining charge amount")
	ErrAmountMismatch         = errors.New("processor amount does not match the requested amount")
	ErrWebhookRejected        = errors.New("webhook rejected")
)
