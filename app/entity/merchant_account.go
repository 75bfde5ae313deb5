package entity

import "time"

type MerchantAccount struct {
	ID uint64

	Name    string
	Gateway string

	Credentials map[string]string
	Features    map[string]bool

	Currency string
	Country  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// FeatureEnabled reports whether the merchant flag is on. Missing flags default to enabled.
func (m *MerchantAccount) FeatureEnabled(name string) bool {
	if m == nil || m.Features == nil {
		return true
	}
	enabled, ok := m.Features[name]
	return !ok || enabled
}

func (m *MerchantAccount) Credential(key string) string {
	if m == nil || m.Credentials == nil {
		return ""
	}
	return m.Credentials[key]
}
