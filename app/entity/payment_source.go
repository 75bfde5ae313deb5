package entity

import "time"

const (
	SourceKindCard        = "card"
	SourceKindBankAccount = "bank_account"
)

type PaymentSource struct {
	ID uint64

	CustomerID        string
	MerchantAccountID uint64

	Kind    string
	Gateway string

	ProcessorSourceID   string
	ProcessorCustomerID *string

	Fingerprint string

	Chargeable bool
	Verified   bool

	Last4         string
	Brand         string
	BankName      *string
	RoutingNumber *string
	AccountType   *string

	DeletedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *PaymentSource) IsBankAccount() bool {
	return s != nil && s.Kind == SourceKindBankAccount
}
