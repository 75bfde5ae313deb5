package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/vibast-solutions/ms-go-gateways/app/entity"
	"github.com/vibast-solutions/ms-go-gateways/app/money"
)

type fakeRefundGateway struct {
	voidErr     error
	refundErr   error
	voidCalls   int
	refundCalls int
	refunded    []money.Money
}

func (g *fakeRefundGateway) ID() string { return "fake" }

func (g *fakeRefundGateway) Void(_ context.Context, _ *entity.MerchantAccount, chargeID string) (string, error) {
	g.voidCalls++
	if g.voidErr != nil {
		return "", g.voidErr
	}
	return "void_" + chargeID, nil
}

func (g *fakeRefundGateway) Refund(_ context.Context, _ *entity.MerchantAccount, chargeID string, amount money.Money) (*RefundResult, error) {
	g.refundCalls++
	g.refunded = append(g.refunded, amount)
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return &RefundResult{Amount: amount, ProcessorRefundID: "re_" + chargeID, Status: RefundSucceeded}, nil
}

type creditOnlyGateway struct {
	calls int
}

func (g *creditOnlyGateway) ID() string { return "credit-only" }

func (g *creditOnlyGateway) Refund(_ context.Context, _ *entity.MerchantAccount, _ string, amount money.Money) (*RefundResult, error) {
	g.calls++
	return &RefundResult{Amount: amount, Status: RefundPending}, nil
}

func usd(minor int64) money.Money {
	return money.New(minor, "USD")
}

func fiftyDollarCharge() ChargeRef {
	return ChargeRef{ProcessorTransactionID: "ch_1", Amount: usd(5000), PaymentMethod: MethodCard}
}

func TestRefundVoidSucceedsWithoutCredit(t *testing.T) {
	g := &fakeRefundGateway{}
	outcome, err := RefundWithVoidFallback(context.Background(), g, &entity.MerchantAccount{}, fiftyDollarCharge(), usd(5000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.voidCalls != 1 || g.refundCalls != 0 {
		t.Fatalf("expected one void and no credit, got void=%d credit=%d", g.voidCalls, g.refundCalls)
	}
	if outcome.Result.Status != RefundSucceeded || !outcome.Result.Amount.Equal(usd(5000)) {
		t.Fatalf("unexpected result: %+v", outcome.Result)
	}
	if outcome.Result.Method != entity.RefundMethodVoid || outcome.Result.ProcessorRefundID != "void_ch_1" {
		t.Fatalf("unexpected void result: %+v", outcome.Result)
	}
	if outcome.Final() != RefundVoided {
		t.Fatalf("unexpected final state: %s", outcome.Final())
	}
}

func TestRefundAlreadySettledCreditsOnce(t *testing.T) {
	g := &fakeRefundGateway{voidErr: &Error{Kind: KindVoidAlreadySettled, Message: "settled"}}
	outcome, err := RefundWithVoidFallback(context.Background(), g, &entity.MerchantAccount{}, fiftyDollarCharge(), usd(5000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.refundCalls != 1 || !g.refunded[0].Equal(usd(5000)) {
		t.Fatalf("expected a single 50.00 credit, got %v", g.refunded)
	}
	if outcome.Result.Method != entity.RefundMethodCredit || outcome.Result.Status != RefundSucceeded {
		t.Fatalf("unexpected result: %+v", outcome.Result)
	}
	want := []RefundState{RefundAttemptingVoid, RefundAlreadySettled, RefundAttemptingCredit, RefundCredited}
	if len(outcome.States) != len(want) {
		t.Fatalf("unexpected states: %v", outcome.States)
	}
	for i := range want {
		if outcome.States[i] != want[i] {
			t.Fatalf("unexpected states: %v", outcome.States)
		}
	}
}

func TestRefundOtherVoidFailurePropagates(t *testing.T) {
	voidErr := &Error{Kind: KindVoid, Message: "processor rejected void"}
	g := &fakeRefundGateway{voidErr: voidErr}
	outcome, err := RefundWithVoidFallback(context.Background(), g, &entity.MerchantAccount{}, fiftyDollarCharge(), usd(5000))
	if !errors.Is(err, ErrVoidFailure) || errors.Is(err, ErrVoidAlreadySettled) {
		t.Fatalf("expected plain void failure, got %v", err)
	}
	if g.refundCalls != 0 {
		t.Fatal("credit must not run after a generic void failure")
	}
	if outcome.Final() != RefundStateFailed {
		t.Fatalf("unexpected final state: %s", outcome.Final())
	}
}

func TestRefundPartialSkipsVoid(t *testing.T) {
	g := &fakeRefundGateway{}
	outcome, err := RefundWithVoidFallback(context.Background(), g, &entity.MerchantAccount{}, fiftyDollarCharge(), usd(2000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.voidCalls != 0 || g.refundCalls != 1 || !g.refunded[0].Equal(usd(2000)) {
		t.Fatalf("expected partial credit only, got void=%d credits=%v", g.voidCalls, g.refunded)
	}
	if !outcome.Result.Amount.Equal(usd(2000)) {
		t.Fatalf("unexpected amount: %s", outcome.Result.Amount)
	}
}

func TestRefundWithoutVoidGoesStraightToCredit(t *testing.T) {
	g := &creditOnlyGateway{}
	outcome, err := RefundWithVoidFallback(context.Background(), g, &entity.MerchantAccount{}, fiftyDollarCharge(), usd(5000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.calls != 1 || outcome.Result.Status != RefundPending || outcome.Result.Gateway != "credit-only" {
		t.Fatalf("unexpected outcome: %+v", outcome.Result)
	}
}

func TestRefundVoidDisabledByFeatureFlag(t *testing.T) {
	inner := &fakeRefundGateway{}
	g := NewFeatureGate(inner, map[string]bool{CapVoid: false})
	if _, err := RefundWithVoidFallback(context.Background(), g, &entity.MerchantAccount{}, fiftyDollarCharge(), usd(5000)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.voidCalls != 0 || inner.refundCalls != 1 {
		t.Fatalf("expected credit only, got void=%d credit=%d", inner.voidCalls, inner.refundCalls)
	}
}

func TestRefundRejectsInvalidAmounts(t *testing.T) {
	g := &fakeRefundGateway{}
	for _, amount := range []money.Money{usd(0), usd(6000), money.New(5000, "EUR")} {
		_, err := RefundWithVoidFallback(context.Background(), g, &entity.MerchantAccount{}, fiftyDollarCharge(), amount)
		if !errors.Is(err, ErrRefundFailure) {
			t.Fatalf("%s: expected refund failure, got %v", amount, err)
		}
	}
	if g.voidCalls != 0 || g.refundCalls != 0 {
		t.Fatal("invalid amounts must not reach the gateway")
	}
}

func TestRefundUnsupportedGateway(t *testing.T) {
	_, err := RefundWithVoidFallback(context.Background(), namedGateway("bare"), &entity.MerchantAccount{}, fiftyDollarCharge(), usd(5000))
	if !errors.Is(err, ErrCapabilityNotSupported) {
		t.Fatalf("expected capability not supported, got %v", err)
	}
}
