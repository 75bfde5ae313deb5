// Package redact masks sensitive request fields before they reach the logs.
package redact

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

const mask = "[REDACTED]"

var secretKeys = map[string]bool{
	"api_key":        true,
	"secret_key":     true,
	"password":       true,
	"authorization":  true,
	"cvv":            true,
	"cvc":            true,
	"card_cvc":       true,
	"security_code":  true,
	"token_secret":   true,
	"webhook_secret": true,
}

var numberKeys = map[string]bool{
	"card_number":    true,
	"number":         true,
	"account_number": true,
	"pan":            true,
}

// Value masks v according to the key it is stored under.
func Value(key string, v interface{}) interface{} {
	k := strings.ToLower(strings.TrimSpace(key))
	switch {
	case secretKeys[k] || strings.HasSuffix(k, "_secret") || strings.HasSuffix(k, "_password"):
		return mask
	case numberKeys[k] || strings.HasSuffix(k, "_account_number") || strings.HasSuffix(k, "_card_number"):
		return maskNumber(fmt.Sprint(v))
	default:
		return v
	}
}

// Fields returns a masked copy; nested string maps are masked recursively.
func Fields(in map[string]interface{}) logrus.Fields {
	out := make(logrus.Fields, len(in))
	for k, v := range in {
		switch nested := v.(type) {
		case map[string]interface{}:
			out[k] = map[string]interface{}(Fields(nested))
		case map[string]string:
			out[k] = Strings(nested)
		default:
			out[k] = Value(k, v)
		}
	}
	return out
}

func Strings(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = fmt.Sprint(Value(k, v))
	}
	return out
}

// LogRequest writes one debug entry for an outbound processor request, masked.
func LogRequest(logger logrus.FieldLogger, gateway, operation string, fields map[string]interface{}) {
	if logger == nil {
		return
	}
	logger.WithFields(logrus.Fields{
		"gateway":   gateway,
		"operation": operation,
		"request":   map[string]interface{}(Fields(fields)),
	}).Debug("gateway_request")
}

func maskNumber(number string) string {
	digits := make([]rune, 0, len(number))
	for _, r := range number {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) <= 4 {
		return strings.Repeat("*", len(digits))
	}
	return strings.Repeat("*", len(digits)-4) + string(digits[len(digits)-4:])
}
