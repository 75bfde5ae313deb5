package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vibast-solutions/ms-go-gateways/app/entity"
	"github.com/vibast-solutions/ms-go-gateways/app/gateway"
	"github.com/vibast-solutions/ms-go-gateways/app/money"
	"github.com/vibast-solutions/ms-go-gateways/app/repository"
	"github.com/vibast-solutions/ms-go-gateways/app/vault"
	"github.com/vibast-solutions/ms-go-gateways/config"
)

type fakeMerchantRepo struct {
	items map[uint64]*entity.MerchantAccount
}

func (r *fakeMerchantRepo) FindByID(_ context.Context, id uint64) (*entity.MerchantAccount, error) {
	item, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

type fakeSourceRepo struct {
	items     map[uint64]*entity.PaymentSource
	nextID    uint64
	createErr error
	// raceWith is inserted right before the next Create, which then loses the race.
	raceWith *entity.PaymentSource
	creates  int
}

func newFakeSourceRepo() *fakeSourceRepo {
	return &fakeSourceRepo{items: map[uint64]*entity.PaymentSource{}, nextID: 1}
}

func (r *fakeSourceRepo) insert(source *entity.PaymentSource) {
	id := r.nextID
	r.nextID++
	copyItem := *source
	copyItem.ID = id
	r.items[id] = &copyItem
	source.ID = id
}

func (r *fakeSourceRepo) Create(_ context.Context, source *entity.PaymentSource) error {
	r.creates++
	if r.createErr != nil {
		return r.createErr
	}
	if r.raceWith != nil {
		r.insert(r.raceWith)
		r.raceWith = nil
		return repository.ErrPaymentSourceAlreadyExists
	}
	for _, item := range r.items {
		if item.DeletedAt == nil && item.MerchantAccountID == source.MerchantAccountID && item.CustomerID == source.CustomerID && item.Fingerprint == source.Fingerprint {
			return repository.ErrPaymentSourceAlreadyExists
		}
	}
	r.insert(source)
	return nil
}

func (r *fakeSourceRepo) FindByID(_ context.Context, id uint64) (*entity.PaymentSource, error) {
	item, ok := r.items[id]
	if !ok || item.DeletedAt != nil {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

func (r *fakeSourceRepo) FindByFingerprint(_ context.Context, merchantAccountID uint64, customerID, fingerprint string) (*entity.PaymentSource, error) {
	for _, item := range r.items {
		if item.DeletedAt == nil && item.MerchantAccountID == merchantAccountID && item.CustomerID == customerID && item.Fingerprint == fingerprint {
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *fakeSourceRepo) ListByCustomer(_ context.Context, merchantAccountID uint64, customerID string) ([]*entity.PaymentSource, error) {
	items := make([]*entity.PaymentSource, 0)
	for _, item := range r.items {
		if item.DeletedAt == nil && item.MerchantAccountID == merchantAccountID && item.CustomerID == customerID {
			copyItem := *item
			items = append(items, &copyItem)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (r *fakeSourceRepo) MarkVerified(_ context.Context, id uint64, chargeable bool, at time.Time) error {
	item, ok := r.items[id]
	if !ok || item.DeletedAt != nil {
		return repository.ErrPaymentSourceNotFound
	}
	item.Verified = true
	item.Chargeable = chargeable
	item.UpdatedAt = at
	return nil
}

func (r *fakeSourceRepo) SoftDelete(_ context.Context, id uint64, at time.Time) error {
	item, ok := r.items[id]
	if !ok || item.DeletedAt != nil {
		return repository.ErrPaymentSourceNotFound
	}
	item.DeletedAt = &at
	return nil
}

func (r *fakeSourceRepo) live() int {
	n := 0
	for _, item := range r.items {
		if item.DeletedAt == nil {
			n++
		}
	}
	return n
}

type fakeChargeRepo struct {
	items  map[uint64]*entity.Charge
	nextID uint64
	events *fakeEventRepo
}

func newFakeChargeRepo(events *fakeEventRepo) *fakeChargeRepo {
	return &fakeChargeRepo{items: map[uint64]*entity.Charge{}, nextID: 1, events: events}
}

func (r *fakeChargeRepo) Create(_ context.Context, charge *entity.Charge) error {
	for _, item := range r.items {
		if item.MerchantAccountID == charge.MerchantAccountID && item.RequestID == charge.RequestID {
			return repository.ErrChargeAlreadyExists
		}
	}
	id := r.nextID
	r.nextID++
	copyItem := *charge
	copyItem.ID = id
	r.items[id] = &copyItem
	charge.ID = id
	return nil
}

func (r *fakeChargeRepo) FindByID(_ context.Context, id uint64) (*entity.Charge, error) {
	item, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

func (r *fakeChargeRepo) FindByMerchantRequestID(_ context.Context, merchantAccountID uint64, requestID string) (*entity.Charge, error) {
	for _, item := range r.items {
		if item.MerchantAccountID == merchantAccountID && item.RequestID == requestID {
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *fakeChargeRepo) FindByProcessorTransactionID(_ context.Context, gatewayID, transactionID string) (*entity.Charge, error) {
	for _, item := range r.items {
		if item.Gateway == gatewayID && item.ProcessorTransactionID != nil && *item.ProcessorTransactionID == transactionID {
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *fakeChargeRepo) ListPendingForReconcile(_ context.Context, before time.Time, limit int32) ([]*entity.Charge, error) {
	items := make([]*entity.Charge, 0)
	for _, item := range r.items {
		if item.Status != entity.ChargeStatusPending && item.Status != entity.ChargeStatusAuthorized {
			continue
		}
		if item.ProcessorTransactionID == nil || item.CreatedAt.After(before) {
			continue
		}
		if r.events != nil && r.events.terminal(item.ID) {
			continue
		}
		copyItem := *item
		items = append(items, &copyItem)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	if limit > 0 && int(limit) < len(items) {
		items = items[:limit]
	}
	return items, nil
}

type fakeEventRepo struct {
	events []*entity.ChargeEvent
	// failNext makes the next Create return it, once.
	failNext error
}

func (r *fakeEventRepo) Create(_ context.Context, event *entity.ChargeEvent) error {
	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		return err
	}
	copyItem := *event
	copyItem.ID = uint64(len(r.events) + 1)
	r.events = append(r.events, &copyItem)
	event.ID = copyItem.ID
	return nil
}

func (r *fakeEventRepo) LatestStatus(_ context.Context, chargeID uint64) (string, error) {
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].ChargeID == chargeID {
			return r.events[i].NewStatus, nil
		}
	}
	return "", nil
}

func (r *fakeEventRepo) terminal(chargeID uint64) bool {
	for _, e := range r.events {
		if e.ChargeID == chargeID && (e.NewStatus == entity.ChargeStatusSucceeded || e.NewStatus == entity.ChargeStatusFailed) {
			return true
		}
	}
	return false
}

func (r *fakeEventRepo) forCharge(chargeID uint64) []*entity.ChargeEvent {
	out := make([]*entity.ChargeEvent, 0)
	for _, e := range r.events {
		if e.ChargeID == chargeID {
			out = append(out, e)
		}
	}
	return out
}

type fakeRefundRepo struct {
	refunds   []*entity.Refund
	createErr error
}

func (r *fakeRefundRepo) Create(_ context.Context, refund *entity.Refund) error {
	if r.createErr != nil {
		return r.createErr
	}
	copyItem := *refund
	copyItem.ID = uint64(len(r.refunds) + 1)
	r.refunds = append(r.refunds, &copyItem)
	refund.ID = copyItem.ID
	return nil
}

func (r *fakeRefundRepo) TotalRefunded(_ context.Context, chargeID uint64) (int64, error) {
	var total int64
	for _, refund := range r.refunds {
		if refund.ChargeID == chargeID && refund.Status != entity.RefundStatusFailed {
			total += refund.AmountMinor
		}
	}
	return total, nil
}

type fakeWebhookRepo struct {
	items     []*entity.WebhookEvent
	createErr error
}

func (r *fakeWebhookRepo) MarkFailed(_ context.Context, id uint64, eventID, reason string) error {
	for _, item := range r.items {
		if item.ID == id {
			item.EventID = eventID
			item.Status = entity.WebhookStatusFailed
			item.Error = &reason
			return nil
		}
	}
	return repository.ErrWebhookEventNotFound
}

func (r *fakeWebhookRepo) withEventID(eventID string) *entity.WebhookEvent {
	for _, item := range r.items {
		if item.EventID == eventID {
			return item
		}
	}
	return nil
}

func (r *fakeWebhookRepo) Create(_ context.Context, event *entity.WebhookEvent) error {
	if r.createErr != nil {
		return r.createErr
	}
	for _, item := range r.items {
		if item.Gateway == event.Gateway && item.EventID == event.EventID {
			return repository.ErrWebhookEventAlreadyExists
		}
	}
	copyItem := *event
	copyItem.ID = uint64(len(r.items) + 1)
	r.items = append(r.items, &copyItem)
	event.ID = copyItem.ID
	return nil
}

// fakeGateway implements every capability; behavior is configured per test.
type fakeGateway struct {
	chargeStatus  gateway.ChargeStatus
	settledMinor  int64
	chargeErr     error
	createdAt     time.Time
	vaultErr      error
	vaultKind     string
	voidErr       error
	refundErr     error
	refundStatus  gateway.RefundStatus
	status        *gateway.TransactionStatus
	statusErr     error
	webhookEvent  *gateway.WebhookEvent
	webhookErr    error
	testErr       error
	verifyErr     error
	deleteErr     error
	calls         []string
	charges       []*gateway.ChargeRequest
	sourceCharges []*gateway.SourceChargeRequest
	vaults        []*gateway.VaultRequest
	refundAmounts []money.Money
	txCounter     int
}

func (g *fakeGateway) ID() string { return "fake" }

func (g *fakeGateway) result(customerID string, merchantID uint64, amount money.Money, source *entity.PaymentSource, description string, documents []string) *gateway.ChargeResult {
	g.txCounter++
	settled := amount
	if g.settledMinor > 0 {
		settled = money.New(g.settledMinor, amount.Currency())
	}
	status := g.chargeStatus
	if status == "" {
		status = gateway.ChargeSucceeded
	}
	createdAt := g.createdAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return &gateway.ChargeResult{
		CustomerID:             customerID,
		MerchantAccountID:      merchantID,
		Gateway:                "fake",
		ProcessorTransactionID: fmt.Sprintf("tx_%d", g.txCounter),
		PaymentMethod:          gateway.MethodCard,
		Status:                 status,
		Amount:                 settled,
		RequestedAmount:        amount,
		Source:                 source,
		Description:            description,
		Documents:              documents,
		CreatedAt:              createdAt,
	}
}

func (g *fakeGateway) Charge(_ context.Context, req *gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	g.calls = append(g.calls, "charge")
	g.charges = append(g.charges, req)
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	return g.result(req.CustomerID, req.Merchant.ID, req.Amount, nil, req.Description, req.Documents), nil
}

func (g *fakeGateway) ChargeSource(_ context.Context, req *gateway.SourceChargeRequest) (*gateway.ChargeResult, error) {
	g.calls = append(g.calls, "charge_source")
	g.sourceCharges = append(g.sourceCharges, req)
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	return g.result(req.Source.CustomerID, req.Merchant.ID, req.Amount, req.Source, req.Description, req.Documents), nil
}

func (g *fakeGateway) VaultSource(_ context.Context, req *gateway.VaultRequest) (*entity.PaymentSource, error) {
	g.calls = append(g.calls, "vault")
	g.vaults = append(g.vaults, req)
	if g.vaultErr != nil {
		return nil, g.vaultErr
	}
	processorCustomer := req.Parameters.Get(gateway.ParamProcessorCustomer)
	if processorCustomer == "" {
		processorCustomer = fmt.Sprintf("pcus_%d", len(g.vaults))
	}
	if g.vaultKind == entity.SourceKindBankAccount {
		routing := req.Parameters.Get(gateway.ParamRoutingNumber)
		accountType := "checking"
		return &entity.PaymentSource{
			Kind:              entity.SourceKindBankAccount,
			Gateway:           "fake",
			ProcessorSourceID: fmt.Sprintf("ba_%d", len(g.vaults)),
			Last4:             vault.Last4(req.Parameters.Get(gateway.ParamAccountNumber)),
			RoutingNumber:     &routing,
			AccountType:       &accountType,
			Chargeable:        false,
		}, nil
	}
	return &entity.PaymentSource{
		Kind:                entity.SourceKindCard,
		Gateway:             "fake",
		ProcessorSourceID:   req.Parameters.Get(gateway.ParamPaymentMethod),
		ProcessorCustomerID: &processorCustomer,
		Chargeable:          true,
		Verified:            true,
		Last4:               "4242",
		Brand:               "visa",
	}, nil
}

func (g *fakeGateway) DeleteSource(context.Context, *entity.MerchantAccount, *entity.PaymentSource) error {
	g.calls = append(g.calls, "delete")
	return g.deleteErr
}

func (g *fakeGateway) Void(context.Context, *entity.MerchantAccount, string) (string, error) {
	g.calls = append(g.calls, "void")
	if g.voidErr != nil {
		return "", g.voidErr
	}
	return "void_1", nil
}

func (g *fakeGateway) Refund(_ context.Context, _ *entity.MerchantAccount, _ string, amount money.Money) (*gateway.RefundResult, error) {
	g.calls = append(g.calls, "refund")
	g.refundAmounts = append(g.refundAmounts, amount)
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	status := g.refundStatus
	if status == "" {
		status = gateway.RefundPending
	}
	return &gateway.RefundResult{Amount: amount, ProcessorRefundID: "re_1", Status: status}, nil
}

func (g *fakeGateway) GetTransactionStatus(context.Context, *entity.MerchantAccount, gateway.ChargeRef) (*gateway.TransactionStatus, error) {
	g.calls = append(g.calls, "status")
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	return g.status, nil
}

func (g *fakeGateway) TestCredentials(context.Context, *entity.MerchantAccount) error {
	g.calls = append(g.calls, "test")
	return g.testErr
}

func (g *fakeGateway) VerifyMicroDeposits(_ context.Context, _ *entity.MerchantAccount, source *entity.PaymentSource, _ []money.Money) (*entity.PaymentSource, error) {
	g.calls = append(g.calls, "verify")
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	verified := *source
	verified.Verified = true
	verified.Chargeable = true
	return &verified, nil
}

func (g *fakeGateway) ParseWebhook(context.Context, *entity.MerchantAccount, []byte, string) (*gateway.WebhookEvent, error) {
	g.calls = append(g.calls, "webhook")
	if g.webhookErr != nil {
		return nil, g.webhookErr
	}
	return g.webhookEvent, nil
}

func (g *fakeGateway) count(call string) int {
	n := 0
	for _, c := range g.calls {
		if c == call {
			n++
		}
	}
	return n
}

type serviceFixture struct {
	svc       *GatewayService
	gw        *fakeGateway
	merchants *fakeMerchantRepo
	sources   *fakeSourceRepo
	charges   *fakeChargeRepo
	events    *fakeEventRepo
	refunds   *fakeRefundRepo
	webhooks  *fakeWebhookRepo
}

func newServiceFixture(cfg config.GatewaysConfig) *serviceFixture {
	gw := &fakeGateway{}
	registry := gateway.NewRegistry()
	registry.Register("fake", func(*entity.MerchantAccount) (gateway.Gateway, error) { return gw, nil })
	return newServiceFixtureWithRegistry(cfg, registry, gw)
}

func newServiceFixtureWithRegistry(cfg config.GatewaysConfig, registry *gateway.Registry, gw *fakeGateway) *serviceFixture {
	events := &fakeEventRepo{}
	f := &serviceFixture{
		gw: gw,
		merchants: &fakeMerchantRepo{items: map[uint64]*entity.MerchantAccount{
			1: {ID: 1, Name: "acme", Gateway: "fake", Currency: "USD"},
		}},
		sources:  newFakeSourceRepo(),
		charges:  newFakeChargeRepo(events),
		events:   events,
		refunds:  &fakeRefundRepo{},
		webhooks: &fakeWebhookRepo{},
	}
	f.svc = NewGatewayService(Repositories{
		Merchants:    f.merchants,
		Sources:      f.sources,
		Charges:      f.charges,
		ChargeEvents: f.events,
		Refunds:      f.refunds,
		Webhooks:     f.webhooks,
	}, registry, cfg)
	return f
}

func settledVoidError() error {
	return &gateway.Error{Kind: gateway.KindVoidAlreadySettled, Op: "void", Gateway: "fake", Message: "transaction already settled", Err: gateway.ErrVoidAlreadySettled}
}

var errBoom = errors.New("boom")
