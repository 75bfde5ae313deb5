// Package vault holds the tokenization helpers shared by gateway adapters and the source
// reconciler: bank account validation, masking and instrument fingerprints.
package vault

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	AccountTypeChecking = "checking"
	AccountTypeSavings  = "savings"

	UnknownBankName = "Unknown"
)

var (
	ErrInvalidBankAccount    = errors.New("invalid bank account")
	ErrRoutingNumberNotFound = errors.New("routing number not found")
)

type RoutingDirectory interface {
	BankName(ctx context.Context, routingNumber string) (string, error)
}

type BankAccountDetails struct {
	RoutingNumber string
	AccountNumber string
	AccountType   string
	HolderName    string
}

// BankAccountToken is the masked view of a bank account that may be stored and logged.
type BankAccountToken struct {
	RoutingNumber string
	Last4         string
	AccountType   string
	BankName      string
	Fingerprint   string
}

type Tokenizer struct {
	directory RoutingDirectory
	logger    logrus.FieldLogger
}

func NewTokenizer(directory RoutingDirectory, logger logrus.FieldLogger) *Tokenizer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Tokenizer{directory: directory, logger: logger}
}

// BankAccount validates raw bank details and returns their masked token. An unknown routing
// number is not an error; the bank name falls back to "Unknown".
func (t *Tokenizer) BankAccount(ctx context.Context, details BankAccountDetails) (*BankAccountToken, error) {
	routing := digitsOnly(details.RoutingNumber)
	account := digitsOnly(details.AccountNumber)
	accountType := strings.ToLower(strings.TrimSpace(details.AccountType))
	if accountType == "" {
		accountType = AccountTypeChecking
	}

	if err := ValidateRoutingNumber(routing); err != nil {
		return nil, err
	}
	if len(account) < 4 || len(account) > 17 {
		return nil, fmt.Errorf("%w: account number must have 4 to 17 digits", ErrInvalidBankAccount)
	}
	if accountType != AccountTypeChecking && accountType != AccountTypeSavings {
		return nil, fmt.Errorf("%w: account type must be checking or savings", ErrInvalidBankAccount)
	}

	last4 := Last4(account)
	return &BankAccountToken{
		RoutingNumber: routing,
		Last4:         last4,
		AccountType:   accountType,
		BankName:      t.Describe(ctx, routing),
		Fingerprint:   BankFingerprint(routing, last4, accountType),
	}, nil
}

// Fingerprint is the fingerprint BankAccount would assign, without validating the details.
func (d BankAccountDetails) Fingerprint() string {
	routing := digitsOnly(d.RoutingNumber)
	last4 := Last4(d.AccountNumber)
	if routing == "" || last4 == "" {
		return ""
	}
	accountType := strings.ToLower(strings.TrimSpace(d.AccountType))
	if accountType == "" {
		accountType = AccountTypeChecking
	}
	return BankFingerprint(routing, last4, accountType)
}

func (t *Tokenizer) Describe(ctx context.Context, routingNumber string) string {
	if t.directory == nil {
		return UnknownBankName
	}
	name, err := t.directory.BankName(ctx, routingNumber)
	if err != nil {
		if !errors.Is(err, ErrRoutingNumberNotFound) {
			t.logger.WithError(err).WithField("routing_number", routingNumber).Warn("Routing number lookup failed")
		}
		return UnknownBankName
	}
	if strings.TrimSpace(name) == "" {
		return UnknownBankName
	}
	return name
}

// ValidateRoutingNumber checks the nine-digit ABA format and its checksum.
func ValidateRoutingNumber(routing string) error {
	if len(routing) != 9 {
		return fmt.Errorf("%w: routing number must have 9 digits", ErrInvalidBankAccount)
	}
	d := make([]int, 9)
	for i, r := range routing {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: routing number must be numeric", ErrInvalidBankAccount)
		}
		d[i] = int(r - '0')
	}
	sum := 3*(d[0]+d[3]+d[6]) + 7*(d[1]+d[4]+d[7]) + (d[2] + d[5] + d[8])
	if sum%10 != 0 {
		return fmt.Errorf("%w: routing number checksum mismatch", ErrInvalidBankAccount)
	}
	return nil
}

func BankFingerprint(routingNumber, last4, accountType string) string {
	sum := sha256.Sum256([]byte("bank|" + routingNumber + "|" + last4 + "|" + strings.ToLower(accountType)))
	return hex.EncodeToString(sum[:])
}

// CardFingerprint is the processor instrument id; card numbers never reach this service.
func CardFingerprint(processorInstrumentID string) string {
	return "card|" + strings.TrimSpace(processorInstrumentID)
}

func Last4(number string) string {
	number = digitsOnly(number)
	if len(number) <= 4 {
		return number
	}
	return number[len(number)-4:]
}

func digitsOnly(v string) string {
	var b strings.Builder
	for _, r := range v {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// StaticDirectory is an in-memory routing directory.
type StaticDirectory map[string]string

func (d StaticDirectory) BankName(_ context.Context, routingNumber string) (string, error) {
	name, ok := d[routingNumber]
	if !ok {
		return "", ErrRoutingNumberNotFound
	}
	return name, nil
}

// ChainDirectory asks each directory in order and returns the first hit.
type ChainDirectory []RoutingDirectory

func (c ChainDirectory) BankName(ctx context.Context, routingNumber string) (string, error) {
	var firstErr error
	for _, d := range c {
		name, err := d.BankName(ctx, routingNumber)
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, ErrRoutingNumberNotFound) && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return "", firstErr
	}
	return "", ErrRoutingNumberNotFound
}
