package money

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidCurrency = errors.New("invalid currency")
	ErrInvalidAmount   = errors.New("invalid amount")
)

// Currency is an upper-case ISO 4217 code.
type Currency string

var zeroDecimal = map[Currency]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "ISK": true, "JPY": true,
	"KMF": true, "KRW": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

var threeDecimal = map[Currency]bool{
	"BHD": true, "IQD": true, "JOD": true, "KWD": true, "LYD": true, "OMR": true, "TND": true,
}

func ParseCurrency(code string) (Currency, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
		}
	}
	return Currency(code), nil
}

// Exponent is the number of minor-unit digits of the currency.
func (c Currency) Exponent() int32 {
	switch {
	case zeroDecimal[c]:
		return 0
	case threeDecimal[c]:
		return 3
	default:
		return 2
	}
}

func (c Currency) String() string {
	return string(c)
}

// Money is an immutable amount in integer minor units.
type Money struct {
	currency Currency
	minor    int64
}

func New(minor int64, currency Currency) Money {
	return Money{currency: currency, minor: minor}
}

func Zero(currency Currency) Money {
	return Money{currency: currency}
}

// FromMajor converts a major-unit decimal (12.34 USD) into minor units. Values with more
// fractional digits than the currency allows are rejected rather than rounded.
func FromMajor(amount decimal.Decimal, currency Currency) (Money, error) {
	shifted := amount.Shift(currency.Exponent())
	if !shifted.Equal(shifted.Truncate(0)) {
		return Money{}, fmt.Errorf("%w: %s has more than %d decimals for %s", ErrInvalidAmount, amount.String(), currency.Exponent(), currency)
	}
	if !shifted.BigInt().IsInt64() {
		return Money{}, fmt.Errorf("%w: %s overflows", ErrInvalidAmount, amount.String())
	}
	return Money{currency: currency, minor: shifted.IntPart()}, nil
}

func ParseMajor(amount string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return FromMajor(d, currency)
}

func (m Money) Currency() Currency { return m.currency }

func (m Money) Minor() int64 { return m.minor }

func (m Money) Major() decimal.Decimal {
	return decimal.New(m.minor, -m.currency.Exponent())
}

func (m Money) IsZero() bool { return m.minor == 0 }

func (m Money) IsNegative() bool { return m.minor < 0 }

func (m Money) IsPositive() bool { return m.minor > 0 }

func (m Money) Neg() Money {
	return Money{currency: m.currency, minor: -m.minor}
}

func (m Money) SameCurrency(other Money) bool {
	return m.currency == other.currency
}

// MustSameCurrency panics when the two amounts are in different currencies.
func (m Money) MustSameCurrency(other Money) {
	if m.currency != other.currency {
		panic(fmt.Sprintf("money: currency mismatch %s vs %s", m.currency, other.currency))
	}
}

func (m Money) Add(other Money) Money {
	m.MustSameCurrency(other)
	return Money{currency: m.currency, minor: m.minor + other.minor}
}

func (m Money) Subtract(other Money) Money {
	m.MustSameCurrency(other)
	return Money{currency: m.currency, minor: m.minor - other.minor}
}

// Cmp returns -1, 0 or 1.
func (m Money) Cmp(other Money) int {
	m.MustSameCurrency(other)
	switch {
	case m.minor < other.minor:
		return -1
	case m.minor > other.minor:
		return 1
	default:
		return 0
	}
}

func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.minor == other.minor
}

func (m Money) String() string {
	return m.Major().StringFixed(m.currency.Exponent()) + " " + string(m.currency)
}

// Allocate splits m proportionally to weights using the largest-remainder rule, so the parts
// always sum to m. Zero total weight yields zero parts.
func (m Money) Allocate(weights []int64) []Money {
	parts := make([]Money, len(weights))
	for i := range parts {
		parts[i] = Zero(m.currency)
	}

	total := new(big.Int)
	for _, w := range weights {
		if w < 0 {
			panic("money: negative allocation weight")
		}
		total.Add(total, big.NewInt(w))
	}
	if total.Sign() == 0 || m.minor == 0 {
		return parts
	}

	amount := m.minor
	sign := int64(1)
	if amount < 0 {
		sign = -1
		amount = -amount
	}

	type remainder struct {
		index int
		value *big.Int
	}
	remainders := make([]remainder, 0, len(weights))
	allocated := int64(0)
	for i, w := range weights {
		product := new(big.Int).Mul(big.NewInt(amount), big.NewInt(w))
		q, r := new(big.Int).QuoRem(product, total, new(big.Int))
		parts[i] = New(q.Int64(), m.currency)
		allocated += q.Int64()
		remainders = append(remainders, remainder{index: i, value: r})
	}

	sort.SliceStable(remainders, func(i, j int) bool {
		return remainders[i].value.Cmp(remainders[j].value) > 0
	})
	for left, k := amount-allocated, 0; left > 0; left, k = left-1, k+1 {
		idx := remainders[k%len(remainders)].index
		parts[idx] = New(parts[idx].minor+1, m.currency)
	}

	if sign < 0 {
		for i := range parts {
			parts[i] = parts[i].Neg()
		}
	}
	return parts
}

// Sum adds amounts of the given currency; an empty list is zero.
func Sum(currency Currency, amounts ...Money) Money {
	total := Zero(currency)
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
