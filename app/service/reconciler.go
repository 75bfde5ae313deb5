package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-gateways/app/entity"
	"github.com/vibast-solutions/ms-go-gateways/app/gateway"
	"github.com/vibast-solutions/ms-go-gateways/app/repository"
	"github.com/vibast-solutions/ms-go-gateways/app/vault"
)

type paymentSourceRepository interface {
	Create(ctx context.Context, source *entity.PaymentSource) error
	FindByID(ctx context.Context, id uint64) (*entity.PaymentSource, error)
	FindByFingerprint(ctx context.Context, merchantAccountID uint64, customerID, fingerprint string) (*entity.PaymentSource, error)
	ListByCustomer(ctx context.Context, merchantAccountID uint64, customerID string) ([]*entity.PaymentSource, error)
	MarkVerified(ctx context.Context, id uint64, chargeable bool, at time.Time) error
	SoftDelete(ctx context.Context, id uint64, at time.Time) error
}

// SourceReconciler returns the canonical stored source for a freshly vaulted candidate.
type SourceReconciler struct {
	sourceRepo paymentSourceRepository
}

func NewSourceReconciler(sourceRepo paymentSourceRepository) *SourceReconciler {
	return &SourceReconciler{sourceRepo: sourceRepo}
}

// Reconcile returns the live source with the candidate's fingerprint, keeping its
// verification state, or stores the candidate. Every failure is a reconciliation error.
func (r *SourceReconciler) Reconcile(ctx context.Context, candidate *entity.PaymentSource) (*entity.PaymentSource, error) {
	if candidate == nil {
		return nil, reconciliationError("payment source candidate is required", nil)
	}
	fingerprint := Fingerprint(candidate)
	if fingerprint == "" {
		return nil, reconciliationError("payment source has no fingerprint", nil)
	}
	candidate.Fingerprint = fingerprint

	existing, err := r.sourceRepo.FindByFingerprint(ctx, candidate.MerchantAccountID, candidate.CustomerID, fingerprint)
	if err != nil {
		return nil, reconciliationError("payment source lookup failed", err)
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now().UTC()
	candidate.ID = 0
	candidate.DeletedAt = nil
	candidate.CreatedAt = now
	candidate.UpdatedAt = now
	err = r.sourceRepo.Create(ctx, candidate)
	if err == nil {
		return candidate, nil
	}
	if !errors.Is(err, repository.ErrPaymentSourceAlreadyExists) {
		return nil, reconciliationError("payment source could not be stored", err)
	}

	// Lost an insert race; the winner is the canonical record.
	existing, lookupErr := r.sourceRepo.FindByFingerprint(ctx, candidate.MerchantAccountID, candidate.CustomerID, fingerprint)
	if lookupErr != nil {
		return nil, reconciliationError("payment source lookup failed", lookupErr)
	}
	if existing == nil {
		return nil, reconciliationError("payment source could not be stored", err)
	}
	return existing, nil
}

// Fingerprint is routing number, last 4 and account type for bank accounts, and the
// processor instrument id for cards.
func Fingerprint(source *entity.PaymentSource) string {
	if source == nil {
		return ""
	}
	if source.IsBankAccount() {
		routing := derefString(source.RoutingNumber)
		accountType := derefString(source.AccountType)
		if routing == "" || source.Last4 == "" {
			return strings.TrimSpace(source.Fingerprint)
		}
		if accountType == "" {
			accountType = vault.AccountTypeChecking
		}
		return vault.BankFingerprint(routing, source.Last4, accountType)
	}
	if strings.TrimSpace(source.ProcessorSourceID) == "" {
		return strings.TrimSpace(source.Fingerprint)
	}
	return vault.CardFingerprint(source.ProcessorSourceID)
}

func reconciliationError(message string, err error) error {
	if err == nil {
		err = gateway.ErrReconciliation
	}
	return &gateway.Error{
		Kind:    gateway.KindReconciliation,
		Op:      "reconcile source",
		Message: message,
		Err:     err,
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}
