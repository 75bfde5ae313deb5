package gateway

// FeatureGate hides capabilities a merchant account has switched off. Flags are keyed by
// capability name; a missing flag leaves the capability enabled.
type FeatureGate struct {
	inner    Gateway
	features map[string]bool
}

// NewFeatureGate returns inner unchanged when there is nothing to gate.
func NewFeatureGate(inner Gateway, features map[string]bool) Gateway {
	if inner == nil || len(features) == 0 {
		return inner
	}
	copied := make(map[string]bool, len(features))
	for k, v := range features {
		copied[k] = v
	}
	return &FeatureGate{inner: inner, features: copied}
}

func (g *FeatureGate) ID() string {
	return g.inner.ID()
}

func (g *FeatureGate) Unwrap() Gateway {
	return g.inner
}

func (g *FeatureGate) Allows(capability string) bool {
	enabled, ok := g.features[capability]
	return !ok || enabled
}
