package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/vibast-solutions/ms-go-gateways/app/entity"
	"github.com/vibast-solutions/ms-go-gateways/app/gateway"
	"github.com/vibast-solutions/ms-go-gateways/app/money"
	"github.com/vibast-solutions/ms-go-gateways/app/redact"
	"github.com/vibast-solutions/ms-go-gateways/app/vault"
)

const (
	StripeID = "stripe"

	stripeSecretKey     = "secret_key"
	stripeWebhookSecret = "webhook_secret"
)

type StripeConfig struct {
	APIURL      string
	HTTPTimeout time.Duration
}

// StripeGateway is built per merchant account; its client carries that merchant's key.
type StripeGateway struct {
	api    *client.API
	norm   gateway.Normalizer
	logger logrus.FieldLogger
}

func NewStripeFactory(cfg StripeConfig, logger logrus.FieldLogger) gateway.Factory {
	return func(merchant *entity.MerchantAccount) (gateway.Gateway, error) {
		return NewStripeGateway(cfg, merchant, logger), nil
	}
}

func NewStripeGateway(cfg StripeConfig, merchant *entity.MerchantAccount, logger logrus.FieldLogger) *StripeGateway {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	backend := func(t stripe.SupportedBackend) stripe.Backend {
		bc := &stripe.BackendConfig{
			HTTPClient:        httpClient,
			LeveledLogger:     logger,
			MaxNetworkRetries: stripe.Int64(0),
		}
		if u := strings.TrimSpace(cfg.APIURL); u != "" {
			bc.URL = stripe.String(u)
		}
		return stripe.GetBackendWithConfig(t, bc)
	}

	api := &client.API{}
	api.Init(merchant.Credential(stripeSecretKey), &stripe.Backends{
		API:     backend(stripe.APIBackend),
		Connect: backend(stripe.ConnectBackend),
		Uploads: backend(stripe.UploadsBackend),
	})
	return &StripeGateway{api: api, norm: gateway.NewNormalizer(StripeID), logger: logger}
}

func (s *StripeGateway) ID() string {
	return StripeID
}

func (s *StripeGateway) ValidateConfiguration(merchant *entity.MerchantAccount) error {
	return gateway.MissingFields(StripeID, []string{stripeSecretKey}, merchant.Credentials)
}

func (s *StripeGateway) Charge(ctx context.Context, req *gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	pm := req.Parameters.Get(gateway.ParamPaymentMethod)
	if pm == "" {
		return nil, s.norm.Business(gateway.KindCharge, "charge", "payment_method parameter is required", nil)
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount.Minor()),
		Currency:           stripe.String(strings.ToLower(req.Amount.Currency().String())),
		PaymentMethod:      stripe.String(pm),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Confirm:            stripe.Bool(true),
	}
	if customer := req.Parameters.Get(gateway.ParamProcessorCustomer); customer != "" {
		params.Customer = stripe.String(customer)
	}
	if d := strings.TrimSpace(req.Description); d != "" {
		params.Description = stripe.String(d)
	}
	prepare(ctx, &params.Params, req.IdempotencyKey, req.CustomerID, req.Documents)

	s.logRequest("charge", map[string]interface{}{
		"amount":         req.Amount.Minor(),
		"currency":       req.Amount.Currency().String(),
		"payment_method": pm,
	})

	base := &gateway.ChargeResult{
		CustomerID:        req.CustomerID,
		MerchantAccountID: req.Merchant.ID,
		Gateway:           StripeID,
		PaymentMethod:     gateway.MethodCard,
		Amount:            req.Amount,
		RequestedAmount:   req.Amount,
		Description:       req.Description,
		Documents:         req.Documents,
		CreatedAt:         time.Now().UTC(),
	}
	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, s.chargeError("charge", base, err)
	}
	return s.chargeResult("charge", base, pi)
}

// VaultSource attaches a card or us_bank_account PaymentMethod to the processor customer,
// creating the customer on first use. Other method types are detached again and rejected.
func (s *StripeGateway) VaultSource(ctx context.Context, req *gateway.VaultRequest) (*entity.PaymentSource, error) {
	pmID := req.Parameters.Get(gateway.ParamPaymentMethod)
	if pmID == "" {
		return nil, s.norm.Business(gateway.KindPaymentSource, "vault source", "payment_method parameter is required", nil)
	}

	customerID := req.Parameters.Get(gateway.ParamProcessorCustomer)
	if customerID == "" {
		params := &stripe.CustomerParams{Description: stripe.String("customer " + req.CustomerID)}
		prepare(ctx, &params.Params, keyFor(req.IdempotencyKey, "customer"), req.CustomerID, nil)
		s.logRequest("create customer", map[string]interface{}{"customer_id": req.CustomerID})
		customer, err := s.api.Customers.New(params)
		if err != nil {
			return nil, s.classify(gateway.KindPaymentSource, "vault source", err)
		}
		customerID = customer.ID
	}

	attach := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
	prepare(ctx, &attach.Params, keyFor(req.IdempotencyKey, "attach"), "", nil)
	s.logRequest("attach payment method", map[string]interface{}{"payment_method": pmID, "customer": customerID})
	pm, err := s.api.PaymentMethods.Attach(pmID, attach)
	if err != nil {
		return nil, s.classify(gateway.KindPaymentSource, "vault source", err)
	}

	source := &entity.PaymentSource{
		CustomerID:          req.CustomerID,
		MerchantAccountID:   req.Merchant.ID,
		Gateway:             StripeID,
		ProcessorSourceID:   pm.ID,
		ProcessorCustomerID: &customerID,
	}
	switch {
	case pm.Card != nil:
		source.Kind = entity.SourceKindCard
		source.Fingerprint = vault.CardFingerprint(pm.ID)
		source.Chargeable = true
		source.Verified = true
		source.Last4 = pm.Card.Last4
		source.Brand = string(pm.Card.Brand)
	case pm.USBankAccount != nil:
		bank := pm.USBankAccount
		accountType := strings.ToLower(string(bank.AccountType))
		if accountType == "" {
			accountType = vault.AccountTypeChecking
		}
		source.Kind = entity.SourceKindBankAccount
		source.Fingerprint = vault.BankFingerprint(bank.RoutingNumber, bank.Last4, accountType)
		// Financial Connections accounts are verified at collection; manual entry needs microdeposits.
		source.Verified = bank.FinancialConnectionsAccount != ""
		source.Chargeable = bank.StatusDetails == nil || bank.StatusDetails.Blocked == nil
		source.Last4 = bank.Last4
		source.Brand = accountType
		source.BankName = stringPtr(bank.BankName)
		source.RoutingNumber = stringPtr(bank.RoutingNumber)
		source.AccountType = stringPtr(accountType)
	default:
		if detachErr := s.DeleteSource(ctx, req.Merchant, source); detachErr != nil {
			s.logger.WithError(detachErr).WithField("payment_method", pm.ID).Warn("Detaching unsupported stripe payment method failed")
		}
		return nil, s.norm.Business(gateway.KindPaymentSource, "vault source", "only card and us_bank_account payment methods can be vaulted with stripe", nil)
	}
	return source, nil
}

// methodTypes maps a vaulted source to the payment intent method type Stripe expects.
func methodTypes(src *entity.PaymentSource) []string {
	if src.IsBankAccount() {
		return []string{"us_bank_account"}
	}
	return []string{"card"}
}

func (s *StripeGateway) ChargeSource(ctx context.Context, req *gateway.SourceChargeRequest) (*gateway.ChargeResult, error) {
	src := req.Source
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount.Minor()),
		Currency:           stripe.String(strings.ToLower(req.Amount.Currency().String())),
		PaymentMethod:      stripe.String(src.ProcessorSourceID),
		PaymentMethodTypes: stripe.StringSlice(methodTypes(src)),
		Confirm:            stripe.Bool(true),
		OffSession:         stripe.Bool(true),
	}
	if src.ProcessorCustomerID != nil {
		params.Customer = stripe.String(*src.ProcessorCustomerID)
	}
	if d := strings.TrimSpace(req.Description); d != "" {
		params.Description = stripe.String(d)
	}
	prepare(ctx, &params.Params, req.IdempotencyKey, src.CustomerID, req.Documents)

	s.logRequest("charge source", map[string]interface{}{
		"amount":         req.Amount.Minor(),
		"currency":       req.Amount.Currency().String(),
		"payment_method": src.ProcessorSourceID,
	})

	method := gateway.MethodCard
	if src.IsBankAccount() {
		method = gateway.MethodBankAccount
	}
	base := &gateway.ChargeResult{
		CustomerID:        src.CustomerID,
		MerchantAccountID: req.Merchant.ID,
		Gateway:           StripeID,
		PaymentMethod:     method,
		Amount:            req.Amount,
		RequestedAmount:   req.Amount,
		Source:            src,
		Description:       req.Description,
		Documents:         req.Documents,
		CreatedAt:         time.Now().UTC(),
	}
	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, s.chargeError("charge source", base, err)
	}
	return s.chargeResult("charge source", base, pi)
}

// DeleteSource detaches the payment method. A method that no longer exists counts as deleted.
func (s *StripeGateway) DeleteSource(ctx context.Context, _ *entity.MerchantAccount, source *entity.PaymentSource) error {
	params := &stripe.PaymentMethodDetachParams{}
	params.Context = ctx
	s.logRequest("detach payment method", map[string]interface{}{"payment_method": source.ProcessorSourceID})
	if _, err := s.api.PaymentMethods.Detach(source.ProcessorSourceID, params); err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.Code == stripe.ErrorCodeResourceMissing {
			return nil
		}
		return s.classify(gateway.KindPaymentSource, "delete source", err)
	}
	return nil
}

func (s *StripeGateway) Refund(ctx context.Context, _ *entity.MerchantAccount, chargeID string, amount money.Money) (*gateway.RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(chargeID),
		Amount:        stripe.Int64(amount.Minor()),
	}
	params.Context = ctx
	s.logRequest("refund", map[string]interface{}{"payment_intent": chargeID, "amount": amount.Minor()})

	re, err := s.api.Refunds.New(params)
	if err != nil {
		return nil, s.classify(gateway.KindRefund, "refund", err)
	}

	result := &gateway.RefundResult{
		Amount:            amountOf(re.Amount, string(re.Currency), amount),
		Gateway:           StripeID,
		ProcessorRefundID: re.ID,
		Method:            entity.RefundMethodCredit,
	}
	switch re.Status {
	case stripe.RefundStatusSucceeded:
		result.Status = gateway.RefundSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		result.Status = gateway.RefundFailed
		result.Message = strings.TrimSpace(string(re.FailureReason))
	default:
		result.Status = gateway.RefundPending
	}
	return result, nil
}

// Void cancels an uncaptured PaymentIntent. A PaymentIntent that already succeeded cannot be
// canceled and reports VoidAlreadySettled.
func (s *StripeGateway) Void(ctx context.Context, _ *entity.MerchantAccount, chargeID string) (string, error) {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	s.logRequest("void", map[string]interface{}{"payment_intent": chargeID})

	pi, err := s.api.PaymentIntents.Cancel(chargeID, params)
	if err == nil {
		return pi.ID, nil
	}

	var se *stripe.Error
	if errors.As(err, &se) && se.Code == stripe.ErrorCodePaymentIntentUnexpectedState {
		status := stripe.PaymentIntentStatus("")
		if se.PaymentIntent != nil {
			status = se.PaymentIntent.Status
		} else if current, getErr := s.api.PaymentIntents.Get(chargeID, &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}}); getErr == nil {
			status = current.Status
		}
		if status == stripe.PaymentIntentStatusSucceeded {
			return "", s.norm.Business(gateway.KindVoidAlreadySettled, "void", "payment intent already succeeded", nil)
		}
	}
	return "", s.classify(gateway.KindVoid, "void", err)
}

func (s *StripeGateway) GetTransactionStatus(ctx context.Context, _ *entity.MerchantAccount, charge gateway.ChargeRef) (*gateway.TransactionStatus, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Get(charge.ProcessorTransactionID, params)
	if err != nil {
		return nil, s.classify(gateway.KindTransactionStatus, "status lookup", err)
	}

	status, reason := intentStatus(pi)
	return &gateway.TransactionStatus{
		Status:  status,
		Settled: status == gateway.ChargeSucceeded,
		Message: reason,
	}, nil
}

// TestCredentials reads the account balance, which has no financial effect.
func (s *StripeGateway) TestCredentials(ctx context.Context, _ *entity.MerchantAccount) error {
	params := &stripe.BalanceParams{}
	params.Context = ctx
	if _, err := s.api.Balance.Get(params); err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && (se.HTTPStatusCode == http.StatusUnauthorized || se.HTTPStatusCode == http.StatusForbidden) {
			return s.norm.Business(gateway.KindCredentialTest, "credential test", se.Msg, fmt.Errorf("stripe status %d", se.HTTPStatusCode))
		}
		return s.classify(gateway.KindCredentialTest, "credential test", err)
	}
	return nil
}

// ParseWebhook verifies the Stripe-Signature header and maps payment_intent events.
func (s *StripeGateway) ParseWebhook(_ context.Context, merchant *entity.MerchantAccount, payload []byte, signature string) (*gateway.WebhookEvent, error) {
	secret := merchant.Credential(stripeWebhookSecret)
	if strings.TrimSpace(secret) == "" {
		return nil, s.norm.Configuration("stripe webhook_secret is not configured", gateway.ErrConfiguration)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, s.norm.Business(gateway.KindTransactionStatus, "webhook", "invalid stripe signature", err)
	}

	if !strings.HasPrefix(string(event.Type), "payment_intent.") || event.Data == nil {
		return nil, nil
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, s.norm.Transport(gateway.KindTransactionStatus, "webhook", err)
	}

	status, reason := intentStatus(&pi)
	return &gateway.WebhookEvent{
		EventID:                event.ID,
		ProcessorTransactionID: pi.ID,
		Status:                 status,
		Message:                reason,
	}, nil
}

func (s *StripeGateway) chargeResult(op string, base *gateway.ChargeResult, pi *stripe.PaymentIntent) (*gateway.ChargeResult, error) {
	base.ProcessorTransactionID = pi.ID
	settled := pi.AmountReceived
	if settled == 0 {
		settled = pi.Amount
	}
	base.Amount = amountOf(settled, string(pi.Currency), base.RequestedAmount)

	status, reason := intentStatus(pi)
	if status == gateway.ChargeFailed {
		return nil, s.norm.Decline(op, base, reason, nil)
	}
	base.Status = status
	return base, nil
}

func (s *StripeGateway) chargeError(op string, base *gateway.ChargeResult, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.Type == stripe.ErrorTypeCard {
		if se.PaymentIntent != nil {
			base.ProcessorTransactionID = se.PaymentIntent.ID
		} else {
			base.ProcessorTransactionID = se.ChargeID
		}
		return s.norm.Decline(op, base, se.Msg, fmt.Errorf("stripe %s", se.Code))
	}
	return s.classify(gateway.KindCharge, op, err)
}

// classify maps a stripe-go error into the taxonomy. 5xx, rate limits, and errors without a
// Stripe body are transport failures.
func (s *StripeGateway) classify(kind gateway.Kind, op string, err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return s.norm.Transport(kind, op, err)
	}
	cause := fmt.Errorf("stripe %s (status %d)", se.Code, se.HTTPStatusCode)
	if se.HTTPStatusCode >= http.StatusInternalServerError ||
		se.Code == stripe.ErrorCodeRateLimit || se.Code == stripe.ErrorCodeLockTimeout {
		return s.norm.Transport(kind, op, cause)
	}
	return s.norm.Business(kind, op, se.Msg, cause)
}

func (s *StripeGateway) logRequest(op string, fields map[string]interface{}) {
	redact.LogRequest(s.logger, StripeID, op, fields)
}

func intentStatus(pi *stripe.PaymentIntent) (gateway.ChargeStatus, string) {
	reason := ""
	if pi.LastPaymentError != nil {
		reason = pi.LastPaymentError.Msg
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return gateway.ChargeSucceeded, ""
	case stripe.PaymentIntentStatusRequiresCapture:
		return gateway.ChargeAuthorized, ""
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresConfirmation:
		return gateway.ChargePending, ""
	case stripe.PaymentIntentStatusRequiresAction:
		if reason == "" {
			reason = "payment requires customer authentication"
		}
		return gateway.ChargeFailed, reason
	default:
		if reason == "" {
			reason = "payment intent status " + string(pi.Status)
		}
		return gateway.ChargeFailed, reason
	}
}

func prepare(ctx context.Context, params *stripe.Params, idempotencyKey, customerID string, documents []string) {
	params.Context = ctx
	if k := strings.TrimSpace(idempotencyKey); k != "" {
		params.IdempotencyKey = stripe.String(k)
	}
	if customerID != "" {
		params.AddMetadata("customer_id", customerID)
	}
	if len(documents) > 0 {
		params.AddMetadata("documents", strings.Join(documents, ","))
	}
}

func keyFor(idempotencyKey, step string) string {
	if strings.TrimSpace(idempotencyKey) == "" {
		return ""
	}
	return idempotencyKey + "-" + step
}

// amountOf builds the processor-reported amount, keeping the fallback currency when the
// processor currency is unparseable.
func amountOf(minor int64, currency string, fallback money.Money) money.Money {
	c, err := money.ParseCurrency(currency)
	if err != nil {
		c = fallback.Currency()
	}
	return money.New(minor, c)
}
