// Package level3 builds enhanced commercial-card data for charges that qualify for reduced
// interchange. The computed line items always reconcile exactly with the charge total.
package level3

import (
	"errors"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-gateways/app/money"
)

const AdjustmentDescription = "Adjustment"

var ErrCurrencyMismatch = errors.New("level3: line item currency does not match charge")

type LineItem struct {
	ProductCode string
	Description string
	Quantity    int64
	UnitPrice   money.Money
	Discount    money.Money
}

// Subtotal is quantity * unit price minus discount.
func (l LineItem) Subtotal() money.Money {
	gross := money.New(l.UnitPrice.Minor()*l.Quantity, l.UnitPrice.Currency())
	if l.Discount.Currency() == "" {
		return gross
	}
	return gross.Subtract(l.Discount)
}

type Line struct {
	ProductCode string
	Description string
	Quantity    int64
	UnitPrice   money.Money
	Discount    money.Money
	Tax         money.Money
	Total       money.Money
	Adjustment  bool
}

type Customer struct {
	ID         string
	Reference  string
	PostalCode string
	TaxExempt  bool
}

type Input struct {
	Items     []LineItem
	Customer  Customer
	Total     money.Money
	Tax       money.Money
	Shipping  money.Money
	PONumber  string
	OrderDate time.Time
}

type Data struct {
	Lines     []Line
	Shipping  money.Money
	Tax       money.Money
	PONumber  string
	OrderDate time.Time
	Customer  Customer
	Total     money.Money
}

// LinesTotal sums every line total including the adjustment line.
func (d Data) LinesTotal() money.Money {
	sum := money.Zero(d.Total.Currency())
	for _, l := range d.Lines {
		sum = sum.Add(l.Total)
	}
	return sum
}

type Level2 struct {
	Tax       money.Money
	TaxExempt bool
	PONumber  string
}

func BuildLevel2(in Input) Level2 {
	tax := orZero(in.Tax, in.Total.Currency())
	return Level2{
		Tax:       tax,
		TaxExempt: in.Customer.TaxExempt || tax.IsZero(),
		PONumber:  poNumber(in),
	}
}

// Build prorates tax across line items by subtotal share and appends an Adjustment line so
// that the line totals plus shipping equal the charge total. Line totals carry their tax share,
// so the tax is not counted twice.
func Build(in Input) (Data, error) {
	currency := in.Total.Currency()
	tax := orZero(in.Tax, currency)
	shipping := orZero(in.Shipping, currency)
	if !tax.SameCurrency(in.Total) || !shipping.SameCurrency(in.Total) {
		return Data{}, ErrCurrencyMismatch
	}

	subtotals := make([]money.Money, len(in.Items))
	weights := make([]int64, len(in.Items))
	for i, item := range in.Items {
		if item.UnitPrice.Currency() != currency {
			return Data{}, ErrCurrencyMismatch
		}
		if item.Discount.Currency() != "" && item.Discount.Currency() != currency {
			return Data{}, ErrCurrencyMismatch
		}
		subtotals[i] = item.Subtotal()
		if subtotals[i].IsPositive() {
			weights[i] = subtotals[i].Minor()
		}
	}

	taxShares := tax.Allocate(weights)
	lines := make([]Line, 0, len(in.Items)+1)
	sum := money.Zero(currency)
	for i, item := range in.Items {
		line := Line{
			ProductCode: item.ProductCode,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Discount:    orZero(item.Discount, currency),
			Tax:         taxShares[i],
			Total:       subtotals[i].Add(taxShares[i]),
		}
		sum = sum.Add(line.Total)
		lines = append(lines, line)
	}

	residual := in.Total.Subtract(shipping).Subtract(sum)
	if !residual.IsZero() {
		lines = append(lines, Line{
			Description: AdjustmentDescription,
			Quantity:    1,
			UnitPrice:   residual,
			Discount:    money.Zero(currency),
			Tax:         money.Zero(currency),
			Total:       residual,
			Adjustment:  true,
		})
	}

	return Data{
		Lines:     lines,
		Shipping:  shipping,
		Tax:       tax,
		PONumber:  poNumber(in),
		OrderDate: in.OrderDate,
		Customer:  in.Customer,
		Total:     in.Total,
	}, nil
}

func orZero(m money.Money, currency money.Currency) money.Money {
	if m.Currency() == "" {
		return money.Zero(currency)
	}
	return m
}

func poNumber(in Input) string {
	if po := strings.TrimSpace(in.PONumber); po != "" {
		return po
	}
	if ref := strings.TrimSpace(in.Customer.Reference); ref != "" {
		return ref
	}
	return strings.TrimSpace(in.Customer.ID)
}
