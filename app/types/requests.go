package types

// Request messages shared by the HTTP and gRPC transports. Getters are nil-safe so the
// service layer can depend on small accessor interfaces.

type Level3Item struct {
	ProductCode    string `json:"product_code"`
	Description    string `json:"description"`
	Quantity       int64  `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	DiscountMinor  int64  `json:"discount_minor"`
}

type Level3Request struct {
	Items             []Level3Item `json:"items"`
	TaxMinor          int64        `json:"tax_minor"`
	ShippingMinor     int64        `json:"shipping_minor"`
	PoNumber          string       `json:"po_number"`
	OrderDate         string       `json:"order_date"`
	CustomerReference string       `json:"customer_reference"`
	PostalCode        string       `json:"postal_code"`
	TaxExempt         bool         `json:"tax_exempt"`
}

type ChargeRequest struct {
	MerchantAccountId uint64            `json:"merchant_account_id"`
	RequestId         string            `json:"request_id"`
	CustomerId        string            `json:"customer_id"`
	AmountMinor       int64             `json:"amount_minor"`
	Currency          string            `json:"currency"`
	Parameters        map[string]string `json:"parameters"`
	Description       string            `json:"description"`
	Documents         []string          `json:"documents"`
	Level3            *Level3Request    `json:"level3,omitempty"`
}

func (r *ChargeRequest) GetMerchantAccountId() uint64 {
	if r == nil {
		return 0
	}
	return r.MerchantAccountId
}

func (r *ChargeRequest) GetRequestId() string {
	if r == nil {
		return ""
	}
	return r.RequestId
}

func (r *ChargeRequest) GetCustomerId() string {
	if r == nil {
		return ""
	}
	return r.CustomerId
}

func (r *ChargeRequest) GetAmountMinor() int64 {
	if r == nil {
		return 0
	}
	return r.AmountMinor
}

func (r *ChargeRequest) GetCurrency() string {
	if r == nil {
		return ""
	}
	return r.Currency
}

func (r *ChargeRequest) GetParameters() map[string]string {
	if r == nil {
		return nil
	}
	return r.Parameters
}

func (r *ChargeRequest) GetDescription() string {
	if r == nil {
		return ""
	}
	return r.Description
}

func (r *ChargeRequest) GetDocuments() []string {
	if r == nil {
		return nil
	}
	return r.Documents
}

func (r *ChargeRequest) GetLevel3() *Level3Request {
	if r == nil {
		return nil
	}
	return r.Level3
}

type VaultSourceRequest struct {
	MerchantAccountId uint64            `json:"merchant_account_id"`
	RequestId         string            `json:"request_id"`
	CustomerId        string            `json:"customer_id"`
	Parameters        map[string]string `json:"parameters"`
}

func (r *VaultSourceRequest) GetMerchantAccountId() uint64 {
	if r == nil {
		return 0
	}
	return r.MerchantAccountId
}

func (r *VaultSourceRequest) GetRequestId() string {
	if r == nil {
		return ""
	}
	return r.RequestId
}

func (r *VaultSourceRequest) GetCustomerId() string {
	if r == nil {
		return ""
	}
	return r.CustomerId
}

func (r *VaultSourceRequest) GetParameters() map[string]string {
	if r == nil {
		return nil
	}
	return r.Parameters
}

type ChargeSourceRequest struct {
	SourceId    uint64            `json:"source_id"`
	RequestId   string            `json:"request_id"`
	AmountMinor int64             `json:"amount_minor"`
	Currency    string            `json:"currency"`
	Parameters  map[string]string `json:"parameters"`
	Description string            `json:"description"`
	Documents   []string          `json:"documents"`
	Level3      *Level3Request    `json:"level3,omitempty"`
}

func (r *ChargeSourceRequest) GetSourceId() uint64 {
	if r == nil {
		return 0
	}
	return r.SourceId
}

func (r *ChargeSourceRequest) GetRequestId() string {
	if r == nil {
		return ""
	}
	return r.RequestId
}

func (r *ChargeSourceRequest) GetAmountMinor() int64 {
	if r == nil {
		return 0
	}
	return r.AmountMinor
}

func (r *ChargeSourceRequest) GetCurrency() string {
	if r == nil {
		return ""
	}
	return r.Currency
}

func (r *ChargeSourceRequest) GetParameters() map[string]string {
	if r == nil {
		return nil
	}
	return r.Parameters
}

func (r *ChargeSourceRequest) GetDescription() string {
	if r == nil {
		return ""
	}
	return r.Description
}

func (r *ChargeSourceRequest) GetDocuments() []string {
	if r == nil {
		return nil
	}
	return r.Documents
}

func (r *ChargeSourceRequest) GetLevel3() *Level3Request {
	if r == nil {
		return nil
	}
	return r.Level3
}

type SourceRequest struct {
	SourceId uint64 `json:"source_id"`
}

func (r *SourceRequest) GetSourceId() uint64 {
	if r == nil {
		return 0
	}
	return r.SourceId
}

type VerifySourceRequest struct {
	SourceId     uint64  `json:"source_id"`
	AmountsMinor []int64 `json:"amounts_minor"`
}

func (r *VerifySourceRequest) GetSourceId() uint64 {
	if r == nil {
		return 0
	}
	return r.SourceId
}

func (r *VerifySourceRequest) GetAmountsMinor() []int64 {
	if r == nil {
		return nil
	}
	return r.AmountsMinor
}

type ListSourcesRequest struct {
	MerchantAccountId uint64 `json:"merchant_account_id"`
	CustomerId        string `json:"customer_id"`
}

type ChargeIDRequest struct {
	ChargeId uint64 `json:"charge_id"`
}

func (r *ChargeIDRequest) GetChargeId() uint64 {
	if r == nil {
		return 0
	}
	return r.ChargeId
}

type RefundChargeRequest struct {
	ChargeId    uint64 `json:"charge_id"`
	RequestId   string `json:"request_id"`
	AmountMinor int64  `json:"amount_minor"`
}

func (r *RefundChargeRequest) GetChargeId() uint64 {
	if r == nil {
		return 0
	}
	return r.ChargeId
}

func (r *RefundChargeRequest) GetRequestId() string {
	if r == nil {
		return ""
	}
	return r.RequestId
}

func (r *RefundChargeRequest) GetAmountMinor() int64 {
	if r == nil {
		return 0
	}
	return r.AmountMinor
}

type MerchantRequest struct {
	MerchantAccountId uint64 `json:"merchant_account_id"`
}

type HandleWebhookRequest struct {
	RequestId         string `json:"request_id"`
	MerchantAccountId uint64 `json:"merchant_account_id"`
	Signature         string `json:"signature"`
	Payload           string `json:"payload"`
}

func (r *HandleWebhookRequest) GetMerchantAccountId() uint64 {
	if r == nil {
		return 0
	}
	return r.MerchantAccountId
}

func (r *HandleWebhookRequest) GetSignature() string {
	if r == nil {
		return ""
	}
	return r.Signature
}

func (r *HandleWebhookRequest) GetPayload() string {
	if r == nil {
		return ""
	}
	return r.Payload
}
