package gateway

import (
	"fmt"
	"strings"
)

// Normalizer builds taxonomy errors for one adapter. Adapters call it at their boundary so
// no processor-specific error type escapes.
type Normalizer struct {
	Gateway string
}

func NewNormalizer(gatewayID string) Normalizer {
	return Normalizer{Gateway: gatewayID}
}

// Transport wraps a connectivity failure or malformed response. The caller may retry it.
func (n Normalizer) Transport(kind Kind, op string, err error) error {
	return &Error{
		Kind:      kind,
		Op:        op,
		Gateway:   n.Gateway,
		Message:   fmt.Sprintf("communication error while %s with %s", op, n.Gateway),
		Retryable: true,
		Err:       err,
	}
}

// Business wraps a failure the processor reported itself. An empty message falls back to one
// naming the operation and the processor.
func (n Normalizer) Business(kind Kind, op, message string, err error) error {
	message = strings.TrimSpace(message)
	if message == "" {
		message = n.fallback(op)
	}
	return &Error{
		Kind:    kind,
		Op:      op,
		Gateway: n.Gateway,
		Message: message,
		Err:     err,
	}
}

// Decline returns a charge failure carrying result marked failed with a non-empty reason.
func (n Normalizer) Decline(op string, result *ChargeResult, reason string, err error) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = n.fallback(op)
	}
	if result != nil {
		result.Status = ChargeFailed
		result.FailureReason = reason
		if result.Gateway == "" {
			result.Gateway = n.Gateway
		}
	}
	return &Error{
		Kind:    KindCharge,
		Op:      op,
		Gateway: n.Gateway,
		Message: reason,
		Result:  result,
		Err:     err,
	}
}

func (n Normalizer) Configuration(message string, err error) error {
	return n.Business(KindConfiguration, "validate configuration", message, err)
}

func (n Normalizer) fallback(op string) string {
	return fmt.Sprintf("%s failed at %s", op, n.Gateway)
}
