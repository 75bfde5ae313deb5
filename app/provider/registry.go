package provider

import (
	"github.com/vibast-solutions/ms-go-gateways/app/gateway"
)

// NewRegistry registers every shipped adapter under its processor id.
func NewRegistry(cfg Config, deps Deps) *gateway.Registry {
	registry := gateway.NewRegistry()
	registry.Register(StripeID, NewStripeFactory(StripeConfig{
		APIURL:      cfg.StripeAPIURL,
		HTTPTimeout: cfg.HTTPTimeout,
	}, deps.Logger))
	registry.Register(ACHDirectID, NewACHFactory(ACHConfig{
		DefaultPrimaryURL:   cfg.ACHPrimaryURL,
		DefaultSecondaryURL: cfg.ACHSecondaryURL,
		HTTPTimeout:         cfg.HTTPTimeout,
	}, deps.Tokenizer, deps.Logger))
	return registry
}
