package service

import (
	"context"
	"errors"
	"testing"

	"github.com/vibast-solutions/ms-go-gateways/app/entity"
	"github.com/vibast-solutions/ms-go-gateways/app/gateway"
	"github.com/vibast-solutions/ms-go-gateways/app/vault"
)

func bankCandidate(processorID string) *entity.PaymentSource {
	routing := "110000000"
	accountType := "checking"
	return &entity.PaymentSource{
		CustomerID:        "cust-1",
		MerchantAccountID: 1,
		Kind:              entity.SourceKindBankAccount,
		Gateway:           "fake",
		ProcessorSourceID: processorID,
		Last4:             "6789",
		RoutingNumber:     &routing,
		AccountType:       &accountType,
	}
}

func TestReconcileStoresNewCandidate(t *testing.T) {
	repo := newFakeSourceRepo()
	r := NewSourceReconciler(repo)

	source, err := r.Reconcile(context.Background(), bankCandidate("ba_1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source.ID == 0 || source.Fingerprint != vault.BankFingerprint("110000000", "6789", "checking") {
		t.Fatalf("unexpected stored source: %+v", source)
	}
}

func TestReconcileReturnsExistingAndKeepsVerification(t *testing.T) {
	repo := newFakeSourceRepo()
	r := NewSourceReconciler(repo)
	first, err := r.Reconcile(context.Background(), bankCandidate("ba_1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	repo.items[first.ID].Verified = true

	second, err := r.Reconcile(context.Background(), bankCandidate("ba_2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ID != first.ID || !second.Verified || second.ProcessorSourceID != "ba_1" {
		t.Fatalf("expected canonical source, got %+v", second)
	}
	if repo.creates != 1 {
		t.Fatalf("expected a single insert, got %d", repo.creates)
	}
}

func TestReconcileSeparatesAccountTypes(t *testing.T) {
	repo := newFakeSourceRepo()
	r := NewSourceReconciler(repo)
	checking, _ := r.Reconcile(context.Background(), bankCandidate("ba_1"))

	savings := bankCandidate("ba_2")
	accountType := "savings"
	savings.AccountType = &accountType
	other, err := r.Reconcile(context.Background(), savings)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if other.ID == checking.ID {
		t.Fatal("expected savings account to be a distinct source")
	}
}

func TestReconcileLosingInsertRaceReturnsWinner(t *testing.T) {
	repo := newFakeSourceRepo()
	winner := bankCandidate("ba_winner")
	winner.Fingerprint = vault.BankFingerprint("110000000", "6789", "checking")
	repo.raceWith = winner
	r := NewSourceReconciler(repo)

	source, err := r.Reconcile(context.Background(), bankCandidate("ba_loser"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source.ProcessorSourceID != "ba_winner" || repo.live() != 1 {
		t.Fatalf("expected race winner, got %+v", source)
	}
}

func TestReconcileStoreFailureIsReconciliationError(t *testing.T) {
	repo := newFakeSourceRepo()
	repo.createErr = errBoom
	r := NewSourceReconciler(repo)

	_, err := r.Reconcile(context.Background(), bankCandidate("ba_1"))
	if !errors.Is(err, gateway.ErrReconciliation) || !errors.Is(err, errBoom) {
		t.Fatalf("expected wrapped reconciliation error, got %v", err)
	}
	if gateway.KindOf(err) != gateway.KindReconciliation {
		t.Fatalf("unexpected kind: %v", gateway.KindOf(err))
	}
}

func TestFingerprintForCardsUsesProcessorInstrument(t *testing.T) {
	card := &entity.PaymentSource{Kind: entity.SourceKindCard, ProcessorSourceID: " pm_1 "}
	if got := Fingerprint(card); got != "card|pm_1" {
		t.Fatalf("unexpected fingerprint: %q", got)
	}
	if got := Fingerprint(&entity.PaymentSource{Kind: entity.SourceKindCard}); got != "" {
		t.Fatalf("expected empty fingerprint, got %q", got)
	}
}
