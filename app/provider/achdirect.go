package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-gateways/app/entity"
	"github.com/vibast-solutions/ms-go-gateways/app/gateway"
	"github.com/vibast-solutions/ms-go-gateways/app/level3"
	"github.com/vibast-solutions/ms-go-gateways/app/money"
	"github.com/vibast-solutions/ms-go-gateways/app/redact"
	"github.com/vibast-solutions/ms-go-gateways/app/vault"
)

const (
	ACHDirectID = "achdirect"

	achAPIKey       = "api_key"
	achMerchantID   = "merchant_id"
	achPrimaryURL   = "primary_url"
	achSecondaryURL = "secondary_url"

	achCodeSettled        = "R_SETTLED"
	achCodeNotSettled     = "R_NOT_SETTLED"
	achCodeVerifyMismatch = "R_VERIFY_MISMATCH"
	achCodeInvalidAccount = "R_INVALID_ACCOUNT"
)

type ACHConfig struct {
	DefaultPrimaryURL   string
	DefaultSecondaryURL string
	HTTPTimeout         time.Duration
}

// ACHGateway talks JSON to a bank-debit processor with primary and secondary regional
// endpoints. Debits settle asynchronously, so every charge starts pending.
type ACHGateway struct {
	apiKey     string
	merchantID string
	endpoints  gateway.Endpoints
	client     *http.Client
	tokenizer  *vault.Tokenizer
	norm       gateway.Normalizer
	logger     logrus.FieldLogger
}

func NewACHFactory(cfg ACHConfig, tokenizer *vault.Tokenizer, logger logrus.FieldLogger) gateway.Factory {
	return func(merchant *entity.MerchantAccount) (gateway.Gateway, error) {
		return NewACHGateway(cfg, merchant, tokenizer, logger), nil
	}
}

func NewACHGateway(cfg ACHConfig, merchant *entity.MerchantAccount, tokenizer *vault.Tokenizer, logger logrus.FieldLogger) *ACHGateway {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if tokenizer == nil {
		tokenizer = vault.NewTokenizer(nil, logger)
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	endpoints := gateway.Endpoints{
		Primary:   merchant.Credential(achPrimaryURL),
		Secondary: merchant.Credential(achSecondaryURL),
	}
	if strings.TrimSpace(endpoints.Primary) == "" {
		endpoints.Primary = cfg.DefaultPrimaryURL
		if strings.TrimSpace(endpoints.Secondary) == "" {
			endpoints.Secondary = cfg.DefaultSecondaryURL
		}
	}

	return &ACHGateway{
		apiKey:     strings.TrimSpace(merchant.Credential(achAPIKey)),
		merchantID: strings.TrimSpace(merchant.Credential(achMerchantID)),
		endpoints:  endpoints,
		client:     &http.Client{Timeout: timeout},
		tokenizer:  tokenizer,
		norm:       gateway.NewNormalizer(ACHDirectID),
		logger:     logger,
	}
}

func (a *ACHGateway) ID() string {
	return ACHDirectID
}

// ValidateConfiguration checks credentials and that a primary endpoint is known, either from
// the merchant account or the service default.
func (a *ACHGateway) ValidateConfiguration(merchant *entity.MerchantAccount) error {
	creds := map[string]string{
		achAPIKey:     merchant.Credential(achAPIKey),
		achMerchantID: merchant.Credential(achMerchantID),
		achPrimaryURL: a.endpoints.Primary,
	}
	return gateway.MissingFields(ACHDirectID, []string{achAPIKey, achMerchantID, achPrimaryURL}, creds)
}

type achBankAccountResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Chargeable bool   `json:"chargeable"`
	CustomerID string `json:"customer_id"`
}

type achDebitResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Message  string `json:"message"`
}

type achCreditResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Message  string `json:"message"`
}

type achErrorBody struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id"`
}

// achAPIError is a 4xx answer. It never triggers failover.
type achAPIError struct {
	Status int
	achErrorBody
}

func (e *achAPIError) Error() string {
	return fmt.Sprintf("achdirect status %d code %s: %s", e.Status, e.Code, e.Message)
}

type achMalformedError struct {
	Err error
}

func (e *achMalformedError) Error() string {
	return "achdirect malformed response: " + e.Err.Error()
}

func (e *achMalformedError) Unwrap() error {
	return e.Err
}

// VaultSource registers a bank account and starts micro-deposit verification. The returned
// source is unverified until VerifyMicroDeposits succeeds.
func (a *ACHGateway) VaultSource(ctx context.Context, req *gateway.VaultRequest) (*entity.PaymentSource, error) {
	details := bankDetails(req.Parameters)
	token, err := a.tokenizer.BankAccount(ctx, details)
	if err != nil {
		return nil, a.invalidBank("vault source", err)
	}

	body := map[string]interface{}{
		"routing_number": token.RoutingNumber,
		"account_number": details.AccountNumber,
		"account_type":   token.AccountType,
		"holder_name":    details.HolderName,
		"customer_ref":   req.CustomerID,
	}
	if customer := req.Parameters.Get(gateway.ParamProcessorCustomer); customer != "" {
		body["customer_id"] = customer
	}

	var out achBankAccountResponse
	if err := a.call(ctx, "vault source", http.MethodPost, "/v1/bank_accounts", body, req.IdempotencyKey, &out); err != nil {
		return nil, a.mapError(gateway.KindPaymentSource, "vault source", err)
	}
	if strings.TrimSpace(out.ID) == "" {
		return nil, a.norm.Transport(gateway.KindPaymentSource, "vault source", errors.New("bank account id missing"))
	}

	src := &entity.PaymentSource{
		CustomerID:        req.CustomerID,
		MerchantAccountID: req.Merchant.ID,
		Kind:              entity.SourceKindBankAccount,
		Gateway:           ACHDirectID,
		ProcessorSourceID: out.ID,
		Fingerprint:       token.Fingerprint,
		Chargeable:        out.Chargeable,
		Verified:          out.Status == "verified",
		Last4:             token.Last4,
		Brand:             token.AccountType,
		BankName:          stringPtr(token.BankName),
		RoutingNumber:     stringPtr(token.RoutingNumber),
		AccountType:       stringPtr(token.AccountType),
	}
	if c := strings.TrimSpace(out.CustomerID); c != "" {
		src.ProcessorCustomerID = &c
	}
	return src, nil
}

// VerifyMicroDeposits confirms the two deposit amounts and returns the source marked verified.
func (a *ACHGateway) VerifyMicroDeposits(ctx context.Context, _ *entity.MerchantAccount, source *entity.PaymentSource, amounts []money.Money) (*entity.PaymentSource, error) {
	if len(amounts) != 2 {
		return nil, a.norm.Business(gateway.KindInvalidBankAccount, "verify bank account", "exactly two micro-deposit amounts are required", nil)
	}
	minor := make([]int64, 0, len(amounts))
	for _, amount := range amounts {
		minor = append(minor, amount.Minor())
	}

	var out achBankAccountResponse
	path := "/v1/bank_accounts/" + url.PathEscape(source.ProcessorSourceID) + "/verify"
	if err := a.call(ctx, "verify bank account", http.MethodPost, path, map[string]interface{}{"amounts": minor}, "", &out); err != nil {
		var apiErr *achAPIError
		if errors.As(err, &apiErr) && apiErr.Code == achCodeVerifyMismatch {
			return nil, a.norm.Business(gateway.KindInvalidBankAccount, "verify bank account", apiErr.Message, errors.New(apiErr.Code))
		}
		return nil, a.mapError(gateway.KindPaymentSource, "verify bank account", err)
	}

	verified := *source
	verified.Verified = out.Status == "verified"
	verified.Chargeable = verified.Chargeable || out.Chargeable
	if !verified.Verified {
		return nil, a.norm.Business(gateway.KindInvalidBankAccount, "verify bank account", "bank account was not verified", nil)
	}
	return &verified, nil
}

func (a *ACHGateway) DeleteSource(ctx context.Context, _ *entity.MerchantAccount, source *entity.PaymentSource) error {
	path := "/v1/bank_accounts/" + url.PathEscape(source.ProcessorSourceID)
	if err := a.call(ctx, "delete source", http.MethodDelete, path, nil, "", nil); err != nil {
		var apiErr *achAPIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil
		}
		return a.mapError(gateway.KindPaymentSource, "delete source", err)
	}
	return nil
}

// Charge debits raw bank details once without keeping a source.
func (a *ACHGateway) Charge(ctx context.Context, req *gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	details := bankDetails(req.Parameters)
	token, err := a.tokenizer.BankAccount(ctx, details)
	if err != nil {
		return nil, a.invalidBank("charge", err)
	}
	body := debitBody(req.Amount, req.Description, req.Documents, req.Level3)
	body["bank_account"] = map[string]interface{}{
		"routing_number": token.RoutingNumber,
		"account_number": details.AccountNumber,
		"account_type":   token.AccountType,
		"holder_name":    details.HolderName,
	}

	base := &gateway.ChargeResult{
		CustomerID:        req.CustomerID,
		MerchantAccountID: req.Merchant.ID,
		Gateway:           ACHDirectID,
		PaymentMethod:     gateway.MethodBankAccount,
		Amount:            req.Amount,
		RequestedAmount:   req.Amount,
		Description:       req.Description,
		Documents:         req.Documents,
		CreatedAt:         time.Now().UTC(),
	}
	return a.debit(ctx, "charge", body, req.IdempotencyKey, base)
}

func (a *ACHGateway) ChargeSource(ctx context.Context, req *gateway.SourceChargeRequest) (*gateway.ChargeResult, error) {
	body := debitBody(req.Amount, req.Description, req.Documents, req.Level3)
	body["bank_account_id"] = req.Source.ProcessorSourceID

	base := &gateway.ChargeResult{
		CustomerID:        req.Source.CustomerID,
		MerchantAccountID: req.Merchant.ID,
		Gateway:           ACHDirectID,
		PaymentMethod:     gateway.MethodBankAccount,
		Amount:            req.Amount,
		RequestedAmount:   req.Amount,
		Source:            req.Source,
		Description:       req.Description,
		Documents:         req.Documents,
		CreatedAt:         time.Now().UTC(),
	}
	return a.debit(ctx, "charge source", body, req.IdempotencyKey, base)
}

func (a *ACHGateway) Void(ctx context.Context, _ *entity.MerchantAccount, chargeID string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	path := "/v1/debits/" + url.PathEscape(chargeID) + "/void"
	if err := a.call(ctx, "void", http.MethodPost, path, map[string]interface{}{}, "", &out); err != nil {
		var apiErr *achAPIError
		if errors.As(err, &apiErr) && apiErr.Code == achCodeSettled {
			return "", a.norm.Business(gateway.KindVoidAlreadySettled, "void", apiErr.Message, errors.New(apiErr.Code))
		}
		return "", a.mapError(gateway.KindVoid, "void", err)
	}
	return out.ID, nil
}

// Refund credits a settled debit. Partial credits of unsettled debits are rejected by the
// processor with R_NOT_SETTLED.
func (a *ACHGateway) Refund(ctx context.Context, _ *entity.MerchantAccount, chargeID string, amount money.Money) (*gateway.RefundResult, error) {
	var out achCreditResponse
	path := "/v1/debits/" + url.PathEscape(chargeID) + "/credits"
	body := map[string]interface{}{"amount": amount.Minor(), "currency": amount.Currency().String()}
	if err := a.call(ctx, "refund", http.MethodPost, path, body, "", &out); err != nil {
		var apiErr *achAPIError
		if errors.As(err, &apiErr) && apiErr.Code == achCodeNotSettled {
			return nil, a.norm.Business(gateway.KindRefund, "refund", "transaction has not settled; partial refunds require settlement", errors.New(apiErr.Code))
		}
		return nil, a.mapError(gateway.KindRefund, "refund", err)
	}

	result := &gateway.RefundResult{
		Amount:            amountOf(out.Amount, out.Currency, amount),
		Gateway:           ACHDirectID,
		ProcessorRefundID: out.ID,
		Method:            entity.RefundMethodCredit,
		Message:           out.Message,
	}
	if out.Amount == 0 {
		result.Amount = amount
	}
	switch out.Status {
	case "succeeded", "settled":
		result.Status = gateway.RefundSucceeded
	case "failed", "returned":
		result.Status = gateway.RefundFailed
	default:
		result.Status = gateway.RefundPending
	}
	return result, nil
}

func (a *ACHGateway) GetTransactionStatus(ctx context.Context, _ *entity.MerchantAccount, charge gateway.ChargeRef) (*gateway.TransactionStatus, error) {
	var out achDebitResponse
	path := "/v1/debits/" + url.PathEscape(charge.ProcessorTransactionID)
	if err := a.call(ctx, "status lookup", http.MethodGet, path, nil, "", &out); err != nil {
		return nil, a.mapError(gateway.KindTransactionStatus, "status lookup", err)
	}

	switch out.Status {
	case "settled":
		return &gateway.TransactionStatus{Status: gateway.ChargeSucceeded, Settled: true, Message: out.Message}, nil
	case "returned", "failed":
		msg := out.Message
		if msg == "" {
			msg = "debit " + out.Status
		}
		return &gateway.TransactionStatus{Status: gateway.ChargeFailed, Message: msg}, nil
	case "pending", "processing", "":
		return &gateway.TransactionStatus{Status: gateway.ChargePending, Message: out.Message}, nil
	default:
		return nil, a.norm.Business(gateway.KindTransactionStatus, "status lookup", "unknown debit status "+out.Status, nil)
	}
}

func (a *ACHGateway) TestCredentials(ctx context.Context, _ *entity.MerchantAccount) error {
	if err := a.call(ctx, "credential test", http.MethodGet, "/v1/ping", nil, "", nil); err != nil {
		var apiErr *achAPIError
		if errors.As(err, &apiErr) {
			return a.norm.Business(gateway.KindCredentialTest, "credential test", apiErr.Message, errors.New(apiErr.Code))
		}
		return a.mapError(gateway.KindCredentialTest, "credential test", err)
	}
	return nil
}

func (a *ACHGateway) debit(ctx context.Context, op string, body map[string]interface{}, idempotencyKey string, base *gateway.ChargeResult) (*gateway.ChargeResult, error) {
	var out achDebitResponse
	if err := a.call(ctx, op, http.MethodPost, "/v1/debits", body, idempotencyKey, &out); err != nil {
		var apiErr *achAPIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusPaymentRequired {
			base.ProcessorTransactionID = apiErr.TransactionID
			return nil, a.norm.Decline(op, base, apiErr.Message, errors.New(apiErr.Code))
		}
		if errors.As(err, &apiErr) && apiErr.Code == achCodeInvalidAccount {
			return nil, a.norm.Business(gateway.KindInvalidBankAccount, op, apiErr.Message, errors.New(apiErr.Code))
		}
		return nil, a.mapError(gateway.KindCharge, op, err)
	}

	base.ProcessorTransactionID = out.ID
	if out.Amount > 0 {
		base.Amount = amountOf(out.Amount, out.Currency, base.RequestedAmount)
	}
	switch out.Status {
	case "failed", "returned":
		return nil, a.norm.Decline(op, base, out.Message, nil)
	case "settled":
		base.Status = gateway.ChargeSucceeded
	default:
		base.Status = gateway.ChargePending
	}
	return base, nil
}

// call sends one request through the failover topology. 5xx answers and network errors move
// on to the next endpoint; 4xx answers and undecodable bodies stop immediately.
func (a *ACHGateway) call(ctx context.Context, op, method, path string, body map[string]interface{}, idempotencyKey string, out interface{}) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = encoded
	}
	redact.LogRequest(a.logger, ACHDirectID, op, logFields(method, path, body))

	_, err := gateway.WithFailover(ctx, a.endpoints, func(ctx context.Context, baseURL string) (struct{}, error) {
		return struct{}{}, a.do(ctx, baseURL, method, path, payload, idempotencyKey, out)
	})
	return err
}

func (a *ACHGateway) do(ctx context.Context, baseURL, method, path string, payload []byte, idempotencyKey string, out interface{}) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("X-Merchant-ID", a.merchantID)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return &gateway.TransportError{Endpoint: baseURL, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &gateway.TransportError{Endpoint: baseURL, Err: err}
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return &gateway.TransportError{Endpoint: baseURL, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &achAPIError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, &apiErr.achErrorBody)
		return apiErr
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &achMalformedError{Err: err}
	}
	return nil
}

func (a *ACHGateway) mapError(kind gateway.Kind, op string, err error) error {
	var apiErr *achAPIError
	if errors.As(err, &apiErr) {
		return a.norm.Business(kind, op, apiErr.Message, errors.New(apiErr.Error()))
	}
	return a.norm.Transport(kind, op, err)
}

func (a *ACHGateway) invalidBank(op string, err error) error {
	return a.norm.Business(gateway.KindInvalidBankAccount, op, err.Error(), err)
}

func bankDetails(params gateway.Parameters) vault.BankAccountDetails {
	return vault.BankAccountDetails{
		RoutingNumber: params.Get(gateway.ParamRoutingNumber),
		AccountNumber: params.Get(gateway.ParamAccountNumber),
		AccountType:   params.Get(gateway.ParamAccountType),
		HolderName:    params.Get(gateway.ParamAccountHolder),
	}
}

func debitBody(amount money.Money, description string, documents []string, l3 *level3.Data) map[string]interface{} {
	body := map[string]interface{}{
		"amount":      amount.Minor(),
		"currency":    amount.Currency().String(),
		"description": description,
	}
	if len(documents) > 0 {
		body["documents"] = documents
	}
	if l3 != nil {
		body["level3"] = level3Body(l3)
	}
	return body
}

func level3Body(d *level3.Data) map[string]interface{} {
	lines := make([]map[string]interface{}, 0, len(d.Lines))
	for _, l := range d.Lines {
		lines = append(lines, map[string]interface{}{
			"product_code": l.ProductCode,
			"description":  l.Description,
			"quantity":     l.Quantity,
			"unit_price":   l.UnitPrice.Minor(),
			"discount":     l.Discount.Minor(),
			"tax":          l.Tax.Minor(),
			"total":        l.Total.Minor(),
		})
	}
	out := map[string]interface{}{
		"lines":     lines,
		"shipping":  d.Shipping.Minor(),
		"tax":       d.Tax.Minor(),
		"po_number": d.PONumber,
	}
	if !d.OrderDate.IsZero() {
		out["order_date"] = d.OrderDate.Format("2006-01-02")
	}
	return out
}

func logFields(method, path string, body map[string]interface{}) map[string]interface{} {
	fields := map[string]interface{}{"method": method, "path": path}
	for k, v := range body {
		fields[k] = v
	}
	return fields
}

func stringPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
