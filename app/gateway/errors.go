package gateway

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Kind int

const (
	KindConfiguration Kind = iota + 1
	KindCredentialTest
	KindCharge
	KindPaymentSource
	KindRefund
	KindVoid
	KindVoidAlreadySettled
	KindTransactionStatus
	KindReconciliation
	KindInvalidBankAccount
)

var (
	ErrConfiguration          = errors.New("gateway configuration error")
	ErrCredentialTest         = errors.New("gateway credential test failed")
	ErrChargeFailure          = errors.New("charge failed")
	ErrPaymentSourceFailure   = errors.New("payment source operation failed")
	ErrRefundFailure          = errors.New("refund failed")
	ErrVoidFailure            = errors.New("void failed")
	ErrVoidAlreadySettled     = errors.New("transaction already settled")
	ErrTransactionStatus      = errors.New("transaction status lookup failed")
	ErrReconciliation         = errors.New("payment source reconciliation failed")
	ErrInvalidBankAccount     = errors.New("invalid bank account")
	ErrCapabilityNotSupported = errors.New("capability not supported by gateway")
	ErrGatewayNotSupported    = errors.New("gateway is not supported")
)

var kindSentinels = map[Kind]error{
	KindConfiguration:      ErrConfiguration,
	KindCredentialTest:     ErrCredentialTest,
	KindCharge:             ErrChargeFailure,
	KindPaymentSource:      ErrPaymentSourceFailure,
	KindRefund:             ErrRefundFailure,
	KindVoid:               ErrVoidFailure,
	KindVoidAlreadySettled: ErrVoidAlreadySettled,
	KindTransactionStatus:  ErrTransactionStatus,
	KindReconciliation:     ErrReconciliation,
	KindInvalidBankAccount: ErrInvalidBankAccount,
}

func (k Kind) String() string {
	if sentinel, ok := kindSentinels[k]; ok {
		return sentinel.Error()
	}
	return "unknown gateway error"
}

// Error is the only error type adapters let escape. Match kinds with errors.Is against the
// Err* sentinels; VoidAlreadySettled also matches ErrVoidFailure.
type Error struct {
	Kind      Kind
	Op        string
	Gateway   string
	Message   string
	Retryable bool
	Missing   []string
	Result    *ChargeResult
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil && !errors.Is(e.Err, kindSentinels[e.Kind]) {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	if target == kindSentinels[e.Kind] {
		return true
	}
	return e.Kind == KindVoidAlreadySettled && target == ErrVoidFailure
}

func KindOf(err error) Kind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return 0
}

func IsRetryable(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Retryable
}

// FailedResult returns the failed ChargeResult attached to a charge error, if any.
func FailedResult(err error) *ChargeResult {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Result
	}
	return nil
}

// MessageOf returns the human-readable message of a gateway error, or err.Error().
func MessageOf(err error) string {
	var gwErr *Error
	if errors.As(err, &gwErr) && gwErr.Message != "" {
		return gwErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// MissingFields returns a configuration error naming every required credential that is empty.
func MissingFields(gatewayID string, required []string, credentials map[string]string) error {
	missing := make([]string, 0)
	for _, field := range required {
		if strings.TrimSpace(credentials[field]) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return &Error{
		Kind:    KindConfiguration,
		Op:      "validate configuration",
		Gateway: gatewayID,
		Message: fmt.Sprintf("%s configuration is missing required fields: %s", gatewayID, strings.Join(missing, ", ")),
		Missing: missing,
		Err:     ErrConfiguration,
	}
}

func notSupported(gatewayID, capability string) error {
	name := gatewayID
	if name == "" {
		name = "gateway"
	}
	return &Error{
		Kind:    KindConfiguration,
		Op:      capability,
		Gateway: gatewayID,
		Message: fmt.Sprintf("%s does not support %s", name, capability),
		Err:     ErrCapabilityNotSupported,
	}
}
