package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-gateways/app/entity"
	"github.com/vibast-solutions/ms-go-gateways/app/factory"
	"github.com/vibast-solutions/ms-go-gateways/app/gateway"
	"github.com/vibast-solutions/ms-go-gateways/app/level3"
	"github.com/vibast-solutions/ms-go-gateways/app/money"
	"github.com/vibast-solutions/ms-go-gateways/app/repository"
	"github.com/vibast-solutions/ms-go-gateways/app/types"
	"github.com/vibast-solutions/ms-go-gateways/app/vault"
	"github.com/vibast-solutions/ms-go-gateways/config"
)

const defaultBatchSize = int32(100)

// idempotencyNamespace seeds the deterministic processor idempotency keys.
var idempotencyNamespace = uuid.MustParse("5b0c8e0a-5f6e-4d3c-9a57-2f1c7b8d9e01")

type chargeRequest interface {
	GetMerchantAccountId() uint64
	GetRequestId() string
	GetCustomerId() string
	GetAmountMinor() int64
	GetCurrency() string
	GetParameters() map[string]string
	GetDescription() string
	GetDocuments() []string
	GetLevel3() *types.Level3Request
}

type vaultSourceRequest interface {
	GetMerchantAccountId() uint64
	GetRequestId() string
	GetCustomerId() string
	GetParameters() map[string]string
}

type chargeSourceRequest interface {
	GetSourceId() uint64
	GetRequestId() string
	GetAmountMinor() int64
	GetCurrency() string
	GetParameters() map[string]string
	GetDescription() string
	GetDocuments() []string
	GetLevel3() *types.Level3Request
}

type verifySourceRequest interface {
	GetSourceId() uint64
	GetAmountsMinor() []int64
}

type refundChargeRequest interface {
	GetChargeId() uint64
	GetRequestId() string
	GetAmountMinor() int64
}

type merchantAccountRepository interface {
	FindByID(ctx context.Context, id uint64) (*entity.MerchantAccount, error)
}

type chargeRepository interface {
	Create(ctx context.Context, charge *entity.Charge) error
	FindByID(ctx context.Context, id uint64) (*entity.Charge, error)
	FindByMerchantRequestID(ctx context.Context, merchantAccountID uint64, requestID string) (*entity.Charge, error)
	FindByProcessorTransactionID(ctx context.Context, gatewayID, transactionID string) (*entity.Charge, error)
	ListPendingForReconcile(ctx context.Context, before time.Time, limit int32) ([]*entity.Charge, error)
}

type chargeEventRepository interface {
	Create(ctx context.Context, event *entity.ChargeEvent) error
	LatestStatus(ctx context.Context, chargeID uint64) (string, error)
}

type refundRepository interface {
	Create(ctx context.Context, refund *entity.Refund) error
	TotalRefunded(ctx context.Context, chargeID uint64) (int64, error)
}

type webhookEventRepository interface {
	Create(ctx context.Context, event *entity.WebhookEvent) error
	MarkFailed(ctx context.Context, id uint64, eventID, reason string) error
}

type gatewayResolver interface {
	Resolve(merchant *entity.MerchantAccount) (gateway.Gateway, error)
	Supported() []string
}

type Repositories struct {
	Merchants    merchantAccountRepository
	Sources      paymentSourceRepository
	Charges      chargeRepository
	ChargeEvents chargeEventRepository
	Refunds      refundRepository
	Webhooks     webhookEventRepository
}

// RefundOutput is the stored refund plus the orchestration states it went through.
type RefundOutput struct {
	Refund *entity.Refund
	States []gateway.RefundState
}

type StatusOutput struct {
	Charge  *entity.Charge
	Status  *gateway.TransactionStatus
	Changed bool
}

type GatewayService struct {
	merchantRepo merchantAccountRepository
	sourceRepo   paymentSourceRepository
	chargeRepo   chargeRepository
	eventRepo    chargeEventRepository
	refundRepo   refundRepository
	webhookRepo  webhookEventRepository
	gateways     gatewayResolver
	reconciler   *SourceReconciler
	cfg          config.GatewaysConfig
	logger       logrus.FieldLogger
}

func NewGatewayService(repos Repositories, gateways gatewayResolver, cfg config.GatewaysConfig) *GatewayService {
	if cfg.AmountMismatchPolicy == "" {
		cfg.AmountMismatchPolicy = config.AmountMismatchRecord
	}
	return &GatewayService{
		merchantRepo: repos.Merchants,
		sourceRepo:   repos.Sources,
		chargeRepo:   repos.Charges,
		eventRepo:    repos.ChargeEvents,
		refundRepo:   repos.Refunds,
		webhookRepo:  repos.Webhooks,
		gateways:     gateways,
		reconciler:   NewSourceReconciler(repos.Sources),
		cfg:          cfg,
		logger:       factory.NewModuleLogger("gateway-service"),
	}
}

// Charge charges a one-off instrument. With the save_source parameter the instrument is
// vaulted and reconciled first, and the charge is aborted when reconciliation fails. A
// declined charge is stored and returned together with the error.
func (s *GatewayService) Charge(ctx context.Context, req chargeRequest) (*entity.Charge, error) {
	requestID := strings.TrimSpace(req.GetRequestId())
	customerID := strings.TrimSpace(req.GetCustomerId())
	if req.GetMerchantAccountId() == 0 || requestID == "" || customerID == "" {
		return nil, ErrInvalidRequest
	}
	amount, err := parseAmount(req.GetAmountMinor(), req.GetCurrency())
	if err != nil {
		return nil, err
	}

	existing, err := s.chargeRepo.FindByMerchantRequestID(ctx, req.GetMerchantAccountId(), requestID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.replayCharge(existing)
	}

	merchant, err := s.loadMerchant(ctx, req.GetMerchantAccountId())
	if err != nil {
		return nil, err
	}
	g, err := s.gateways.Resolve(merchant)
	if err != nil {
		return nil, err
	}
	l3, err := buildLevel3(req.GetLevel3(), customerID, amount)
	if err != nil {
		return nil, err
	}

	params := cloneParameters(req.GetParameters())

	if params.Bool(gateway.ParamSaveSource) {
		source, err := s.vaultAndReconcile(ctx, g, merchant, customerID, params, idempotencyKey(merchant.ID, "vault", requestID))
		if err != nil {
			return nil, err
		}
		return s.chargeStoredSource(ctx, g, merchant, source, requestID, amount, params, req.GetDescription(), req.GetDocuments(), l3)
	}

	charger, err := gateway.Lookup[gateway.Charger](g, gateway.CapCharge)
	if err != nil {
		return nil, err
	}
	result, chargeErr := charger.Charge(ctx, &gateway.ChargeRequest{
		CustomerID:     customerID,
		Merchant:       merchant,
		Amount:         amount,
		Parameters:     params,
		Description:    strings.TrimSpace(req.GetDescription()),
		Documents:      req.GetDocuments(),
		Level3:         l3,
		IdempotencyKey: idempotencyKey(merchant.ID, "charge", requestID),
	})
	return s.recordCharge(ctx, requestID, amount, result, chargeErr)
}

// VaultSource stores an instrument for later charges and returns the canonical source.
func (s *GatewayService) VaultSource(ctx context.Context, req vaultSourceRequest) (*entity.PaymentSource, error) {
	requestID := strings.TrimSpace(req.GetRequestId())
	customerID := strings.TrimSpace(req.GetCustomerId())
	if req.GetMerchantAccountId() == 0 || requestID == "" || customerID == "" {
		return nil, ErrInvalidRequest
	}

	merchant, err := s.loadMerchant(ctx, req.GetMerchantAccountId())
	if err != nil {
		return nil, err
	}
	g, err := s.gateways.Resolve(merchant)
	if err != nil {
		return nil, err
	}

	params := cloneParameters(req.GetParameters())
	return s.vaultAndReconcile(ctx, g, merchant, customerID, params, idempotencyKey(merchant.ID, "vault", requestID))
}

func (s *GatewayService) ChargeSource(ctx context.Context, req chargeSourceRequest) (*entity.Charge, error) {
	requestID := strings.TrimSpace(req.GetRequestId())
	if req.GetSourceId() == 0 || requestID == "" {
		return nil, ErrInvalidRequest
	}
	amount, err := parseAmount(req.GetAmountMinor(), req.GetCurrency())
	if err != nil {
		return nil, err
	}

	source, err := s.loadSource(ctx, req.GetSourceId())
	if err != nil {
		return nil, err
	}

	existing, err := s.chargeRepo.FindByMerchantRequestID(ctx, source.MerchantAccountID, requestID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.replayCharge(existing)
	}

	merchant, err := s.loadMerchant(ctx, source.MerchantAccountID)
	if err != nil {
		return nil, err
	}
	g, err := s.gateways.Resolve(merchant)
	if err != nil {
		return nil, err
	}
	l3, err := buildLevel3(req.GetLevel3(), source.CustomerID, amount)
	if err != nil {
		return nil, err
	}

	return s.chargeStoredSource(ctx, g, merchant, source, requestID, amount, cloneParameters(req.GetParameters()), req.GetDescription(), req.GetDocuments(), l3)
}

// DeleteSource removes the instrument at the processor when the gateway can, then soft
// deletes the stored source.
func (s *GatewayService) DeleteSource(ctx context.Context, sourceID uint64) error {
	source, err := s.loadSource(ctx, sourceID)
	if err != nil {
		return err
	}
	merchant, err := s.loadMerchant(ctx, source.MerchantAccountID)
	if err != nil {
		return err
	}
	g, err := s.gateways.Resolve(merchant)
	if err != nil {
		return err
	}

	deleter, err := gateway.Lookup[gateway.SourceDeleter](g, gateway.CapDeleteSource)
	switch {
	case err == nil:
		if err := deleter.DeleteSource(ctx, merchant, source); err != nil {
			return err
		}
	case errors.Is(err, gateway.ErrCapabilityNotSupported):
		s.logger.WithFields(logrus.Fields{"source_id": source.ID, "gateway": g.ID()}).Info("Gateway cannot delete sources, removing local record only")
	default:
		return err
	}

	if err := s.sourceRepo.SoftDelete(ctx, source.ID, time.Now().UTC()); err != nil {
		if errors.Is(err, repository.ErrPaymentSourceNotFound) {
			return ErrSourceNotFound
		}
		return err
	}
	return nil
}

// VerifyBankAccount confirms micro-deposit amounts for an unverified bank account.
func (s *GatewayService) VerifyBankAccount(ctx context.Context, req verifySourceRequest) (*entity.PaymentSource, error) {
	source, err := s.loadSource(ctx, req.GetSourceId())
	if err != nil {
		return nil, err
	}
	if !source.IsBankAccount() {
		return nil, fmt.Errorf("%w: only bank accounts can be verified", ErrInvalidRequest)
	}
	if source.Verified {
		return source, nil
	}

	merchant, err := s.loadMerchant(ctx, source.MerchantAccountID)
	if err != nil {
		return nil, err
	}
	g, err := s.gateways.Resolve(merchant)
	if err != nil {
		return nil, err
	}
	verifier, err := gateway.Lookup[gateway.BankAccountVerifier](g, gateway.CapBankVerification)
	if err != nil {
		return nil, err
	}

	currency := merchantCurrency(merchant)
	amounts := make([]money.Money, 0, len(req.GetAmountsMinor()))
	for _, minor := range req.GetAmountsMinor() {
		amounts = append(amounts, money.New(minor, currency))
	}

	verified, err := verifier.VerifyMicroDeposits(ctx, merchant, source, amounts)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.sourceRepo.MarkVerified(ctx, source.ID, verified.Chargeable, now); err != nil {
		if errors.Is(err, repository.ErrPaymentSourceNotFound) {
			return nil, ErrSourceNotFound
		}
		return nil, err
	}
	source.Verified = true
	source.Chargeable = verified.Chargeable
	source.UpdatedAt = now
	return source, nil
}

// Refund returns money for a captured charge. A zero amount refunds what is left. A full
// refund is voided when possible and credited otherwise.
func (s *GatewayService) Refund(ctx context.Context, req refundChargeRequest) (*RefundOutput, error) {
	charge, merchant, g, err := s.chargeContext(ctx, req.GetChargeId())
	if err != nil {
		return nil, err
	}

	charged := money.New(charge.AmountMinor, money.Currency(charge.Currency))
	refunded, err := s.refundRepo.TotalRefunded(ctx, charge.ID)
	if err != nil {
		return nil, err
	}
	remaining := charge.AmountMinor - refunded
	amountMinor := req.GetAmountMinor()
	if amountMinor == 0 {
		amountMinor = remaining
	}
	if remaining <= 0 || amountMinor > remaining {
		return nil, ErrRefundExceedsRemaining
	}
	amount := money.New(amountMinor, charged.Currency())

	outcome, err := gateway.RefundWithVoidFallback(ctx, g, merchant, chargeRef(charge, charged), amount)
	if err != nil {
		s.recordFailedRefund(ctx, charge, g.ID(), amount, outcome, err)
		return nil, err
	}

	refund := refundFromResult(charge, outcome.Result)
	if err := s.refundRepo.Create(ctx, refund); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"charge_id": charge.ID,
		"refund_id": refund.ID,
		"method":    refund.Method,
		"states":    outcome.States,
	}).Info("Charge refunded")

	return &RefundOutput{Refund: refund, States: outcome.States}, nil
}

// Void cancels an unsettled charge. A settled charge fails with a VoidAlreadySettled
// error; use Refund to fall back to a credit.
func (s *GatewayService) Void(ctx context.Context, chargeID uint64) (*entity.Refund, error) {
	charge, merchant, g, err := s.chargeContext(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	refunded, err := s.refundRepo.TotalRefunded(ctx, charge.ID)
	if err != nil {
		return nil, err
	}
	if refunded > 0 {
		return nil, fmt.Errorf("%w: charge already has refunds", ErrInvalidRequest)
	}

	voider, err := gateway.Lookup[gateway.Voider](g, gateway.CapVoid)
	if err != nil {
		return nil, err
	}
	voidID, err := voider.Void(ctx, merchant, *charge.ProcessorTransactionID)
	if err != nil {
		return nil, err
	}

	refund := refundFromResult(charge, &gateway.RefundResult{
		Amount:            money.New(charge.AmountMinor, money.Currency(charge.Currency)),
		Gateway:           g.ID(),
		ProcessorRefundID: voidID,
		Method:            entity.RefundMethodVoid,
		Status:            gateway.RefundSucceeded,
	})
	if err := s.refundRepo.Create(ctx, refund); err != nil {
		return nil, err
	}
	return refund, nil
}

// GetTransactionStatus polls the processor and appends a charge event when the status moved.
func (s *GatewayService) GetTransactionStatus(ctx context.Context, chargeID uint64) (*StatusOutput, error) {
	charge, merchant, g, err := s.chargeContext(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	return s.pollCharge(ctx, charge, merchant, g, time.Now().UTC())
}

func (s *GatewayService) TestCredentials(ctx context.Context, merchantAccountID uint64) error {
	merchant, err := s.loadMerchant(ctx, merchantAccountID)
	if err != nil {
		return err
	}
	g, err := s.gateways.Resolve(merchant)
	if err != nil {
		return err
	}
	tester, err := gateway.Lookup[gateway.CredentialTester](g, gateway.CapTestCredentials)
	if err != nil {
		return err
	}
	return tester.TestCredentials(ctx, merchant)
}

// Capabilities reports what the merchant's gateway currently exposes, flags included.
func (s *GatewayService) Capabilities(ctx context.Context, merchantAccountID uint64) (string, []string, error) {
	merchant, err := s.loadMerchant(ctx, merchantAccountID)
	if err != nil {
		return "", nil, err
	}
	g, err := s.gateways.Resolve(merchant)
	if err != nil {
		return "", nil, err
	}
	return g.ID(), gateway.Capabilities(g), nil
}

func (s *GatewayService) SupportedGateways() []string {
	return s.gateways.Supported()
}

// GetCharge returns the stored charge with Status set to the newest recorded status.
func (s *GatewayService) GetCharge(ctx context.Context, id uint64) (*entity.Charge, error) {
	charge, err := s.chargeRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if charge == nil {
		return nil, ErrChargeNotFound
	}
	latest, err := s.eventRepo.LatestStatus(ctx, charge.ID)
	if err != nil {
		return nil, err
	}
	if latest != "" {
		view := *charge
		view.Status = latest
		return &view, nil
	}
	return charge, nil
}

func (s *GatewayService) GetSource(ctx context.Context, id uint64) (*entity.PaymentSource, error) {
	return s.loadSource(ctx, id)
}

func (s *GatewayService) ListSources(ctx context.Context, merchantAccountID uint64, customerID string) ([]*entity.PaymentSource, error) {
	customerID = strings.TrimSpace(customerID)
	if merchantAccountID == 0 || customerID == "" {
		return nil, ErrInvalidRequest
	}
	return s.sourceRepo.ListByCustomer(ctx, merchantAccountID, customerID)
}

func (s *GatewayService) vaultAndReconcile(
	ctx context.Context,
	g gateway.Gateway,
	merchant *entity.MerchantAccount,
	customerID string,
	params gateway.Parameters,
	key string,
) (*entity.PaymentSource, error) {
	vaulter, err := gateway.Lookup[gateway.SourceVaulter](g, gateway.CapVault)
	if err != nil {
		return nil, err
	}

	// Reuse the processor customer already on file so repeat vaulting attaches to it.
	if params.Get(gateway.ParamProcessorCustomer) == "" {
		if processorCustomer := s.processorCustomerFor(ctx, merchant.ID, customerID, g.ID()); processorCustomer != "" {
			params[gateway.ParamProcessorCustomer] = processorCustomer
		}
	}

	if existing := s.storedBankSource(ctx, merchant.ID, customerID, params); existing != nil {
		return existing, nil
	}

	candidate, err := vaulter.VaultSource(ctx, &gateway.VaultRequest{
		CustomerID:     customerID,
		Merchant:       merchant,
		Parameters:     params,
		IdempotencyKey: key,
	})
	if err != nil {
		return nil, err
	}
	candidate.CustomerID = customerID
	candidate.MerchantAccountID = merchant.ID
	if candidate.Gateway == "" {
		candidate.Gateway = g.ID()
	}

	source, err := s.reconciler.Reconcile(ctx, candidate)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"merchant_account_id": merchant.ID,
			"customer_id":         customerID,
			"gateway":             g.ID(),
		}).Error("Payment source reconciliation failed")
		return nil, err
	}
	if source.ProcessorSourceID != candidate.ProcessorSourceID {
		s.discardCandidate(ctx, g, merchant, candidate)
	}
	return source, nil
}

// storedBankSource finds the live source for raw bank parameters before anything is vaulted.
func (s *GatewayService) storedBankSource(ctx context.Context, merchantID uint64, customerID string, params gateway.Parameters) *entity.PaymentSource {
	fingerprint := vault.BankAccountDetails{
		RoutingNumber: params.Get(gateway.ParamRoutingNumber),
		AccountNumber: params.Get(gateway.ParamAccountNumber),
		AccountType:   params.Get(gateway.ParamAccountType),
	}.Fingerprint()
	if fingerprint == "" {
		return nil
	}
	existing, err := s.sourceRepo.FindByFingerprint(ctx, merchantID, customerID, fingerprint)
	if err != nil {
		s.logger.WithError(err).WithField("merchant_account_id", merchantID).Warn("Looking up stored bank source failed")
		return nil
	}
	return existing
}

// discardCandidate removes a processor instrument that reconciled onto an older source.
func (s *GatewayService) discardCandidate(ctx context.Context, g gateway.Gateway, merchant *entity.MerchantAccount, candidate *entity.PaymentSource) {
	deleter, err := gateway.Lookup[gateway.SourceDeleter](g, gateway.CapDeleteSource)
	if err != nil {
		return
	}
	if err := deleter.DeleteSource(ctx, merchant, candidate); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"merchant_account_id": merchant.ID,
			"gateway":             g.ID(),
			"processor_source_id": candidate.ProcessorSourceID,
		}).Warn("Removing duplicate processor source failed")
	}
}

func (s *GatewayService) processorCustomerFor(ctx context.Context, merchantID uint64, customerID, gatewayID string) string {
	sources, err := s.sourceRepo.ListByCustomer(ctx, merchantID, customerID)
	if err != nil {
		s.logger.WithError(err).Warn("Listing customer sources failed")
		return ""
	}
	for _, src := range sources {
		if src.Gateway == gatewayID && src.ProcessorCustomerID != nil && *src.ProcessorCustomerID != "" {
			return *src.ProcessorCustomerID
		}
	}
	return ""
}

func (s *GatewayService) chargeStoredSource(
	ctx context.Context,
	g gateway.Gateway,
	merchant *entity.MerchantAccount,
	source *entity.PaymentSource,
	requestID string,
	amount money.Money,
	params gateway.Parameters,
	description string,
	documents []string,
	l3 *level3.Data,
) (*entity.Charge, error) {
	if !source.Chargeable {
		return nil, ErrSourceNotChargeable
	}
	charger, err := gateway.Lookup[gateway.SourceCharger](g, gateway.CapChargeSource)
	if err != nil {
		return nil, err
	}
	result, chargeErr := charger.ChargeSource(ctx, &gateway.SourceChargeRequest{
		Source:         source,
		Merchant:       merchant,
		Amount:         amount,
		Parameters:     params,
		Description:    strings.TrimSpace(description),
		Documents:      documents,
		Level3:         l3,
		IdempotencyKey: idempotencyKey(merchant.ID, "charge", requestID),
	})
	return s.recordCharge(ctx, requestID, amount, result, chargeErr)
}

// replayCharge answers a repeated request id with the stored outcome. A stored decline comes
// back as the same ChargeFailure the first attempt returned.
func (s *GatewayService) replayCharge(existing *entity.Charge) (*entity.Charge, error) {
	if existing.Status != entity.ChargeStatusFailed {
		if s.cfg.AmountMismatchPolicy == config.AmountMismatchReject && existing.AmountMinor != existing.RequestedMinor {
			cur := money.Currency(existing.Currency)
			return existing, fmt.Errorf("%w: requested %s, processed %s", ErrAmountMismatch,
				money.New(existing.RequestedMinor, cur).String(), money.New(existing.AmountMinor, cur).String())
		}
		return existing, nil
	}

	reason := ""
	if existing.FailureReason != nil {
		reason = *existing.FailureReason
	}
	return existing, gateway.NewNormalizer(existing.Gateway).Decline("charge", resultFromCharge(existing), reason, gateway.ErrChargeFailure)
}

// recordCharge stores the outcome of a charge attempt. Declines are stored from the result
// attached to the error; transport failures leave nothing to store.
func (s *GatewayService) recordCharge(ctx context.Context, requestID string, requested money.Money, result *gateway.ChargeResult, chargeErr error) (*entity.Charge, error) {
	if chargeErr != nil {
		failed := gateway.FailedResult(chargeErr)
		if failed == nil {
			return nil, chargeErr
		}
		charge, err := s.storeCharge(ctx, requestID, requested, failed)
		if err != nil {
			s.logger.WithError(err).Error("Storing declined charge failed")
			return nil, chargeErr
		}
		return charge, chargeErr
	}
	if result == nil {
		return nil, &gateway.Error{Kind: gateway.KindCharge, Op: "charge", Message: "gateway returned no charge result", Err: gateway.ErrChargeFailure}
	}

	var mismatchErr error
	if result.AmountMismatch() {
		s.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"gateway":    result.Gateway,
			"requested":  requested.String(),
			"processed":  result.Amount.String(),
			"policy":     s.cfg.AmountMismatchPolicy,
		}).Warn("Processor amount differs from requested amount")
		if s.cfg.AmountMismatchPolicy == config.AmountMismatchReject {
			mismatchErr = fmt.Errorf("%w: requested %s, processed %s", ErrAmountMismatch, requested.String(), result.Amount.String())
			result.FailureReason = mismatchErr.Error()
		}
	}

	charge, err := s.storeCharge(ctx, requestID, requested, result)
	if err != nil {
		return nil, err
	}
	if mismatchErr != nil {
		return charge, mismatchErr
	}
	return charge, nil
}

func (s *GatewayService) storeCharge(ctx context.Context, requestID string, requested money.Money, result *gateway.ChargeResult) (*entity.Charge, error) {
	charge := chargeFromResult(requestID, requested, result)
	if err := s.chargeRepo.Create(ctx, charge); err != nil {
		if errors.Is(err, repository.ErrChargeAlreadyExists) {
			existing, lookupErr := s.chargeRepo.FindByMerchantRequestID(ctx, charge.MerchantAccountID, requestID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	if err := s.eventRepo.Create(ctx, &entity.ChargeEvent{
		ChargeID:  charge.ID,
		NewStatus: charge.Status,
		Message:   charge.FailureReason,
		CreatedAt: charge.CreatedAt,
	}); err != nil {
		s.logger.WithError(err).WithField("charge_id", charge.ID).Error("Storing charge creation event failed")
	}
	return charge, nil
}

func (s *GatewayService) pollCharge(ctx context.Context, charge *entity.Charge, merchant *entity.MerchantAccount, g gateway.Gateway, now time.Time) (*StatusOutput, error) {
	poller, err := gateway.Lookup[gateway.StatusPoller](g, gateway.CapStatus)
	if err != nil {
		return nil, err
	}
	st, err := poller.GetTransactionStatus(ctx, merchant, chargeRef(charge, money.New(charge.AmountMinor, money.Currency(charge.Currency))))
	if err != nil {
		return nil, err
	}

	current, err := s.eventRepo.LatestStatus(ctx, charge.ID)
	if err != nil {
		return nil, err
	}
	if current == "" {
		current = charge.Status
	}

	out := &StatusOutput{Charge: charge, Status: st}
	next := string(st.Status)
	if next == "" || next == current {
		return out, nil
	}

	var message *string
	if strings.TrimSpace(st.Message) != "" {
		m := truncate(st.Message, 1024)
		message = &m
	}
	if err := s.eventRepo.Create(ctx, &entity.ChargeEvent{
		ChargeID:  charge.ID,
		OldStatus: current,
		NewStatus: next,
		Message:   message,
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}
	out.Changed = true
	return out, nil
}

func (s *GatewayService) recordFailedRefund(ctx context.Context, charge *entity.Charge, gatewayID string, amount money.Money, outcome *gateway.RefundOutcome, refundErr error) {
	method := entity.RefundMethodCredit
	if outcome != nil && len(outcome.States) > 1 && outcome.States[len(outcome.States)-2] == gateway.RefundAttemptingVoid {
		method = entity.RefundMethodVoid
	}
	message := truncate(gateway.MessageOf(refundErr), 1024)
	if err := s.refundRepo.Create(ctx, &entity.Refund{
		ChargeID:    charge.ID,
		Gateway:     gatewayID,
		Method:      method,
		Status:      entity.RefundStatusFailed,
		AmountMinor: amount.Minor(),
		Currency:    amount.Currency().String(),
		Message:     &message,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		s.logger.WithError(err).WithField("charge_id", charge.ID).Error("Storing failed refund failed")
	}
}

// chargeContext loads a captured charge with its merchant and gateway.
func (s *GatewayService) chargeContext(ctx context.Context, chargeID uint64) (*entity.Charge, *entity.MerchantAccount, gateway.Gateway, error) {
	charge, err := s.chargeRepo.FindByID(ctx, chargeID)
	if err != nil {
		return nil, nil, nil, err
	}
	if charge == nil {
		return nil, nil, nil, ErrChargeNotFound
	}
	if charge.ProcessorTransactionID == nil || strings.TrimSpace(*charge.ProcessorTransactionID) == "" || charge.Status == entity.ChargeStatusFailed {
		return nil, nil, nil, fmt.Errorf("%w: charge has no processor transaction", ErrInvalidRequest)
	}
	merchant, err := s.loadMerchant(ctx, charge.MerchantAccountID)
	if err != nil {
		return nil, nil, nil, err
	}
	g, err := s.gateways.Resolve(merchant)
	if err != nil {
		return nil, nil, nil, err
	}
	return charge, merchant, g, nil
}

func (s *GatewayService) loadMerchant(ctx context.Context, id uint64) (*entity.MerchantAccount, error) {
	merchant, err := s.merchantRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if merchant == nil {
		return nil, ErrMerchantNotFound
	}
	return merchant, nil
}

func (s *GatewayService) loadSource(ctx context.Context, id uint64) (*entity.PaymentSource, error) {
	if id == 0 {
		return nil, ErrInvalidRequest
	}
	source, err := s.sourceRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, ErrSourceNotFound
	}
	return source, nil
}

func (s *GatewayService) batchSize() int32 {
	if s.cfg.JobBatchSize > 0 {
		return s.cfg.JobBatchSize
	}
	return defaultBatchSize
}

func chargeFromResult(requestID string, requested money.Money, result *gateway.ChargeResult) *entity.Charge {
	createdAt := result.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	amount := result.Amount
	if amount.Currency() == "" {
		amount = requested
	}

	charge := &entity.Charge{
		RequestID:              requestID,
		CustomerID:             result.CustomerID,
		MerchantAccountID:      result.MerchantAccountID,
		Gateway:                result.Gateway,
		ProcessorTransactionID: normalizeOptionalString(result.ProcessorTransactionID),
		PaymentMethod:          result.PaymentMethod,
		Status:                 string(result.Status),
		RequestedMinor:         requested.Minor(),
		AmountMinor:            amount.Minor(),
		Currency:               amount.Currency().String(),
		Description:            result.Description,
		Documents:              result.Documents,
		FailureReason:          normalizeOptionalString(truncate(result.FailureReason, 1024)),
		CreatedAt:              createdAt,
	}
	if result.Source != nil && result.Source.ID > 0 {
		id := result.Source.ID
		charge.SourceID = &id
	}
	if charge.Status == "" {
		charge.Status = entity.ChargeStatusPending
	}
	return charge
}

func resultFromCharge(charge *entity.Charge) *gateway.ChargeResult {
	cur := money.Currency(charge.Currency)
	result := &gateway.ChargeResult{
		CustomerID:        charge.CustomerID,
		MerchantAccountID: charge.MerchantAccountID,
		Gateway:           charge.Gateway,
		PaymentMethod:     charge.PaymentMethod,
		Status:            gateway.ChargeStatus(charge.Status),
		Amount:            money.New(charge.AmountMinor, cur),
		RequestedAmount:   money.New(charge.RequestedMinor, cur),
		Description:       charge.Description,
		Documents:         charge.Documents,
		CreatedAt:         charge.CreatedAt,
	}
	if charge.ProcessorTransactionID != nil {
		result.ProcessorTransactionID = *charge.ProcessorTransactionID
	}
	if charge.FailureReason != nil {
		result.FailureReason = *charge.FailureReason
	}
	return result
}

func refundFromResult(charge *entity.Charge, result *gateway.RefundResult) *entity.Refund {
	refund := &entity.Refund{
		ChargeID:          charge.ID,
		Gateway:           result.Gateway,
		ProcessorRefundID: result.ProcessorRefundID,
		Method:            result.Method,
		Status:            string(result.Status),
		AmountMinor:       result.Amount.Minor(),
		Currency:          result.Amount.Currency().String(),
		Message:           normalizeOptionalString(result.Message),
		CreatedAt:         time.Now().UTC(),
	}
	if refund.Gateway == "" {
		refund.Gateway = charge.Gateway
	}
	if refund.Status == "" {
		refund.Status = entity.RefundStatusPending
	}
	return refund
}

func chargeRef(charge *entity.Charge, amount money.Money) gateway.ChargeRef {
	return gateway.ChargeRef{
		ProcessorTransactionID: *charge.ProcessorTransactionID,
		Amount:                 amount,
		PaymentMethod:          charge.PaymentMethod,
		CreatedAt:              charge.CreatedAt,
	}
}

func parseAmount(minor int64, currency string) (money.Money, error) {
	if minor <= 0 {
		return money.Money{}, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	cur, err := money.ParseCurrency(currency)
	if err != nil {
		return money.Money{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return money.New(minor, cur), nil
}

func buildLevel3(in *types.Level3Request, customerID string, total money.Money) (*level3.Data, error) {
	if in == nil {
		return nil, nil
	}
	currency := total.Currency()
	items := make([]level3.LineItem, 0, len(in.Items))
	for _, item := range in.Items {
		items = append(items, level3.LineItem{
			ProductCode: strings.TrimSpace(item.ProductCode),
			Description: strings.TrimSpace(item.Description),
			Quantity:    item.Quantity,
			UnitPrice:   money.New(item.UnitPriceMinor, currency),
			Discount:    money.New(item.DiscountMinor, currency),
		})
	}

	var orderDate time.Time
	if raw := strings.TrimSpace(in.OrderDate); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: level3 order_date must be YYYY-MM-DD", ErrInvalidRequest)
		}
		orderDate = parsed
	}

	data, err := level3.Build(level3.Input{
		Items: items,
		Customer: level3.Customer{
			ID:         customerID,
			Reference:  strings.TrimSpace(in.CustomerReference),
			PostalCode: strings.TrimSpace(in.PostalCode),
			TaxExempt:  in.TaxExempt,
		},
		Total:     total,
		Tax:       money.New(in.TaxMinor, currency),
		Shipping:  money.New(in.ShippingMinor, currency),
		PONumber:  strings.TrimSpace(in.PoNumber),
		OrderDate: orderDate,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return &data, nil
}

func merchantCurrency(merchant *entity.MerchantAccount) money.Currency {
	if cur, err := money.ParseCurrency(merchant.Currency); err == nil {
		return cur
	}
	return money.Currency("USD")
}

func idempotencyKey(merchantID uint64, op, requestID string) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(fmt.Sprintf("%d|%s|%s", merchantID, op, requestID))).String()
}

func cloneParameters(src map[string]string) gateway.Parameters {
	dst := make(gateway.Parameters, len(src))
	for k, v := range src {
		dst[strings.TrimSpace(k)] = v
	}
	return dst
}

func normalizeOptionalString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// truncate cuts value to at most max bytes without splitting a rune.
func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
