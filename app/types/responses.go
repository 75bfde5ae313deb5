package types

type HealthResponse struct {
	Status string `json:"status"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error         string          `json:"error"`
	Kind          string          `json:"kind,omitempty"`
	Retryable     bool            `json:"retryable,omitempty"`
	MissingFields []string        `json:"missing_fields,omitempty"`
	Charge        *ChargeResponse `json:"charge,omitempty"`
}

type ChargeResponse struct {
	Id                     uint64   `json:"id"`
	RequestId              string   `json:"request_id"`
	CustomerId             string   `json:"customer_id"`
	MerchantAccountId      uint64   `json:"merchant_account_id"`
	SourceId               uint64   `json:"source_id,omitempty"`
	Gateway                string   `json:"gateway"`
	ProcessorTransactionId string   `json:"processor_transaction_id,omitempty"`
	PaymentMethod          string   `json:"payment_method"`
	Status                 string   `json:"status"`
	AmountMinor            int64    `json:"amount_minor"`
	RequestedMinor         int64    `json:"requested_minor"`
	Amount                 string   `json:"amount"`
	Currency               string   `json:"currency"`
	Description            string   `json:"description,omitempty"`
	Documents              []string `json:"documents,omitempty"`
	FailureReason          string   `json:"failure_reason,omitempty"`
	CreatedAt              string   `json:"created_at"`
}

type ChargeEnvelopeResponse struct {
	Charge *ChargeResponse `json:"charge"`
}

type SourceResponse struct {
	Id                  uint64 `json:"id"`
	CustomerId          string `json:"customer_id"`
	MerchantAccountId   uint64 `json:"merchant_account_id"`
	Kind                string `json:"kind"`
	Gateway             string `json:"gateway"`
	ProcessorSourceId   string `json:"processor_source_id"`
	ProcessorCustomerId string `json:"processor_customer_id,omitempty"`
	Chargeable          bool   `json:"chargeable"`
	Verified            bool   `json:"verified"`
	Last4               string `json:"last4"`
	Brand               string `json:"brand,omitempty"`
	BankName            string `json:"bank_name,omitempty"`
	RoutingNumber       string `json:"routing_number,omitempty"`
	AccountType         string `json:"account_type,omitempty"`
	CreatedAt           string `json:"created_at"`
}

type SourceEnvelopeResponse struct {
	Source *SourceResponse `json:"source"`
}

type ListSourcesResponse struct {
	Sources []*SourceResponse `json:"sources"`
}

type RefundResponse struct {
	Id                uint64   `json:"id"`
	ChargeId          uint64   `json:"charge_id"`
	Gateway           string   `json:"gateway"`
	ProcessorRefundId string   `json:"processor_refund_id,omitempty"`
	Method            string   `json:"method"`
	Status            string   `json:"status"`
	AmountMinor       int64    `json:"amount_minor"`
	Amount            string   `json:"amount"`
	Currency          string   `json:"currency"`
	Message           string   `json:"message,omitempty"`
	States            []string `json:"states,omitempty"`
}

type RefundEnvelopeResponse struct {
	Refund *RefundResponse `json:"refund"`
}

type TransactionStatusResponse struct {
	ChargeId uint64 `json:"charge_id"`
	Status   string `json:"status"`
	Settled  bool   `json:"settled"`
	Message  string `json:"message,omitempty"`
}

type GatewaysResponse struct {
	Gateways []string `json:"gateways"`
}

type CapabilitiesResponse struct {
	MerchantAccountId uint64   `json:"merchant_account_id"`
	Gateway           string   `json:"gateway"`
	Capabilities      []string `json:"capabilities"`
}
