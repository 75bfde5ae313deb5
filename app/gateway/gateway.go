// Package gateway defines the capability contract every payment processor adapter satisfies,
// the normalized results they return, and the processor-independent algorithms built on top
// of it: registry resolution, void-then-credit refunds, regional failover and feature gating.
//
// An adapter implements only the capabilities its processor supports. Callers never assert
// capabilities directly; they use Lookup, which honors feature-gating decorators and reports
// ErrCapabilityNotSupported instead of relying on stub methods.
package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-gateways/app/entity"
	"github.com/vibast-solutions/ms-go-gateways/app/level3"
	"github.com/vibast-solutions/ms-go-gateways/app/money"
)

type ChargeStatus string

const (
	ChargePending    ChargeStatus = "pending"
	ChargeAuthorized ChargeStatus = "authorized"
	ChargeSucceeded  ChargeStatus = "succeeded"
	ChargeFailed     ChargeStatus = "failed"
)

type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundSucceeded RefundStatus = "succeeded"
	RefundFailed    RefundStatus = "failed"
)

const (
	MethodCard        = "card"
	MethodBankAccount = "bank_account"
)

// Capability names double as merchant feature flags.
const (
	CapCharge           = "charge"
	CapVault            = "vaulting"
	CapChargeSource     = "source_charging"
	CapDeleteSource     = "source_deletion"
	CapRefund           = "refunds"
	CapVoid             = "void"
	CapStatus           = "status_polling"
	CapTestCredentials  = "credential_testing"
	CapBankVerification = "bank_verification"
	CapWebhooks         = "webhooks"
)

// Parameters carries processor-neutral instrument data: tokens, raw bank details, flags.
type Parameters map[string]string

const (
	ParamPaymentMethod     = "payment_method"
	ParamPaymentMethodType = "payment_method_type"
	ParamProcessorCustomer = "processor_customer_id"
	ParamRoutingNumber     = "routing_number"
	ParamAccountNumber     = "account_number"
	ParamAccountType       = "account_type"
	ParamAccountHolder     = "account_holder"
	ParamSaveSource        = "save_source"
)

func (p Parameters) Get(key string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(p[key])
}

func (p Parameters) Bool(key string) bool {
	switch strings.ToLower(p.Get(key)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

type ChargeRequest struct {
	CustomerID     string
	Merchant       *entity.MerchantAccount
	Amount         money.Money
	Parameters     Parameters
	Description    string
	Documents      []string
	Level3         *level3.Data
	IdempotencyKey string
}

type VaultRequest struct {
	CustomerID     string
	Merchant       *entity.MerchantAccount
	Parameters     Parameters
	IdempotencyKey string
}

type SourceChargeRequest struct {
	Source         *entity.PaymentSource
	Merchant       *entity.MerchantAccount
	Amount         money.Money
	Parameters     Parameters
	Description    string
	Documents      []string
	Level3         *level3.Data
	IdempotencyKey string
}

// ChargeRef identifies a previously created processor transaction.
type ChargeRef struct {
	ProcessorTransactionID string
	Amount                 money.Money
	PaymentMethod          string
	CreatedAt              time.Time
}

// ChargeResult is the immutable outcome of one charge attempt. Amount is what the processor
// actually settled; RequestedAmount is what the caller asked for.
type ChargeResult struct {
	CustomerID             string
	MerchantAccountID      uint64
	Gateway                string
	ProcessorTransactionID string
	PaymentMethod          string
	Status                 ChargeStatus
	Amount                 money.Money
	RequestedAmount        money.Money
	Source                 *entity.PaymentSource
	Description            string
	Documents              []string
	FailureReason          string
	CreatedAt              time.Time
}

// AmountMismatch reports a partial authorization or a currency change by the processor.
func (r *ChargeResult) AmountMismatch() bool {
	if r == nil || r.RequestedAmount.Currency() == "" {
		return false
	}
	return !r.Amount.Equal(r.RequestedAmount)
}

type RefundResult struct {
	Amount            money.Money
	Gateway           string
	ProcessorRefundID string
	Method            string
	Status            RefundStatus
	Message           string
}

type TransactionStatus struct {
	Status  ChargeStatus
	Settled bool
	Message string
}

type Gateway interface {
	ID() string
}

type Charger interface {
	Gateway
	Charge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error)
}

// SourceVaulter returns an unsaved source candidate; persistence belongs to the reconciler.
type SourceVaulter interface {
	Gateway
	VaultSource(ctx context.Context, req *VaultRequest) (*entity.PaymentSource, error)
}

type SourceCharger interface {
	Gateway
	ChargeSource(ctx context.Context, req *SourceChargeRequest) (*ChargeResult, error)
}

// SourceDeleter is best effort: processors that cannot delete return nil.
type SourceDeleter interface {
	Gateway
	DeleteSource(ctx context.Context, merchant *entity.MerchantAccount, source *entity.PaymentSource) error
}

// Refunder issues a monetary credit against a settled transaction.
type Refunder interface {
	Gateway
	Refund(ctx context.Context, merchant *entity.MerchantAccount, chargeID string, amount money.Money) (*RefundResult, error)
}

// Voider cancels an unsettled transaction and returns the processor void id. A settled
// transaction fails with a VoidAlreadySettled error.
type Voider interface {
	Gateway
	Void(ctx context.Context, merchant *entity.MerchantAccount, chargeID string) (string, error)
}

type StatusPoller interface {
	Gateway
	GetTransactionStatus(ctx context.Context, merchant *entity.MerchantAccount, charge ChargeRef) (*TransactionStatus, error)
}

type CredentialTester interface {
	Gateway
	TestCredentials(ctx context.Context, merchant *entity.MerchantAccount) error
}

type BankAccountVerifier interface {
	Gateway
	VerifyMicroDeposits(ctx context.Context, merchant *entity.MerchantAccount, source *entity.PaymentSource, amounts []money.Money) (*entity.PaymentSource, error)
}

// WebhookEvent is a processor push notification about one transaction.
type WebhookEvent struct {
	EventID                string
	ProcessorTransactionID string
	Status                 ChargeStatus
	Message                string
}

// WebhookParser verifies and decodes processor notifications. A nil event with a nil error
// means the notification is not about a transaction.
type WebhookParser interface {
	Gateway
	ParseWebhook(ctx context.Context, merchant *entity.MerchantAccount, payload []byte, signature string) (*WebhookEvent, error)
}

type ConfigValidator interface {
	ValidateConfiguration(merchant *entity.MerchantAccount) error
}

// gated is implemented by decorators that can hide capabilities of the adapter they wrap.
type gated interface {
	Gateway
	Unwrap() Gateway
	Allows(capability string) bool
}

// Lookup returns the capability T of g, unwrapping feature gates on the way.
func Lookup[T any](g Gateway, capability string) (T, error) {
	var zero T
	if g == nil {
		return zero, notSupported("", capability)
	}
	id := g.ID()
	for g != nil {
		if gate, ok := g.(gated); ok {
			if !gate.Allows(capability) {
				return zero, notSupported(id, capability)
			}
			g = gate.Unwrap()
			continue
		}
		if c, ok := g.(T); ok {
			return c, nil
		}
		break
	}
	return zero, notSupported(id, capability)
}

// Capabilities lists the capability names g exposes.
func Capabilities(g Gateway) []string {
	checks := []struct {
		name string
		ok   func() bool
	}{
		{CapCharge, func() bool { _, err := Lookup[Charger](g, CapCharge); return err == nil }},
		{CapVault, func() bool { _, err := Lookup[SourceVaulter](g, CapVault); return err == nil }},
		{CapChargeSource, func() bool { _, err := Lookup[SourceCharger](g, CapChargeSource); return err == nil }},
		{CapDeleteSource, func() bool { _, err := Lookup[SourceDeleter](g, CapDeleteSource); return err == nil }},
		{CapRefund, func() bool { _, err := Lookup[Refunder](g, CapRefund); return err == nil }},
		{CapVoid, func() bool { _, err := Lookup[Voider](g, CapVoid); return err == nil }},
		{CapStatus, func() bool { _, err := Lookup[StatusPoller](g, CapStatus); return err == nil }},
		{CapTestCredentials, func() bool { _, err := Lookup[CredentialTester](g, CapTestCredentials); return err == nil }},
		{CapBankVerification, func() bool { _, err := Lookup[BankAccountVerifier](g, CapBankVerification); return err == nil }},
		{CapWebhooks, func() bool { _, err := Lookup[WebhookParser](g, CapWebhooks); return err == nil }},
	}
	names := make([]string, 0, len(checks))
	for _, c := range checks {
		if c.ok() {
			names = append(names, c.name)
		}
	}
	return names
}
