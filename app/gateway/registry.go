package gateway

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/vibast-solutions/ms-go-gateways/app/entity"
)

// Factory builds an adapter scoped to one merchant account.
type Factory func(merchant *entity.MerchantAccount) (Gateway, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(id string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalizeID(id)] = factory
}

// Resolve builds the adapter configured for merchant. An unknown gateway id is a configuration
// error; there is no default gateway.
func (r *Registry) Resolve(merchant *entity.MerchantAccount) (Gateway, error) {
	if merchant == nil {
		return nil, &Error{Kind: KindConfiguration, Op: "resolve", Message: "merchant account is required", Err: ErrConfiguration}
	}
	id := normalizeID(merchant.Gateway)

	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &Error{
			Kind:    KindConfiguration,
			Op:      "resolve",
			Gateway: id,
			Message: fmt.Sprintf("gateway %q is not supported", merchant.Gateway),
			Err:     ErrGatewayNotSupported,
		}
	}

	g, err := factory(merchant)
	if err != nil {
		return nil, err
	}
	if validator, ok := g.(ConfigValidator); ok {
		if err := validator.ValidateConfiguration(merchant); err != nil {
			return nil, err
		}
	}
	return NewFeatureGate(g, merchant.Features), nil
}

func (r *Registry) Supported() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) IsSupported(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[normalizeID(id)]
	return ok
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
