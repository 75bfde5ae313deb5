// Package provider holds the processor adapters. Each adapter implements only the gateway
// capabilities its processor supports and is built per merchant account.
package provider

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-gateways/app/vault"
)

type Config struct {
	HTTPTimeout time.Duration

	StripeAPIURL string

	ACHPrimaryURL   string
	ACHSecondaryURL string
}

type Deps struct {
	Tokenizer *vault.Tokenizer
	Logger    logrus.FieldLogger
}
