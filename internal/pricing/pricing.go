// Package pricing decides between retail and wholesale prices for a cart.
//
// The decision is all-or-nothing per order: once the retail subtotal reaches
// the configured threshold every line is repriced at its wholesale price.
package pricing

import (
	"mostrador/backend/internal/domain"
)

// Rule is the wholesale threshold business rule.
type Rule struct {
	ThresholdCents int64
	Active         bool
}

// RuleFrom converts a stored business rule, falling back when none exists.
func RuleFrom(rule *domain.BusinessRule, fallback Rule) Rule {
	if rule == nil {
		return fallback
	}
	return Rule{ThresholdCents: rule.ValueCents, Active: rule.Active}
}

type Line struct {
	ProductID      string
	SKU            string
	Name           string
	Quantity       int
	RetailCents    int64
	WholesaleCents int64
}

type PricedLine struct {
	Line
	UnitPriceCents int64
	LineTotalCents int64
}

type Result struct {
	Lines         []PricedLine
	SubtotalCents int64
	TotalCents    int64
	IsWholesale   bool
}

func (r Result) OrderType() string {
	if r.IsWholesale {
		return domain.OrderTypeWholesale
	}
	return domain.OrderTypeRetail
}

// Quote prices lines under rule. SubtotalCents is always the retail sum.
// A line without a wholesale price keeps its retail price in a wholesale order.
func Quote(lines []Line, rule Rule) Result {
	result := Result{Lines: make([]PricedLine, 0, len(lines))}
	for _, line := range lines {
		result.SubtotalCents += line.RetailCents * int64(line.Quantity)
	}

	result.IsWholesale = len(lines) > 0 && rule.Active && result.SubtotalCents >= rule.ThresholdCents

	for _, line := range lines {
		unit := line.RetailCents
		if result.IsWholesale && line.WholesaleCents > 0 {
			unit = line.WholesaleCents
		}
		priced := PricedLine{
			Line:           line,
			UnitPriceCents: unit,
			LineTotalCents: unit * int64(line.Quantity),
		}
		result.TotalCents += priced.LineTotalCents
		result.Lines = append(result.Lines, priced)
	}

	return result
}

// FromProduct builds a pricing line from the current catalog record.
func FromProduct(product domain.Product, quantity int) Line {
	return Line{
		ProductID:      product.ID,
		SKU:            product.SKU,
		Name:           product.Name,
		Quantity:       quantity,
		RetailCents:    product.RetailPriceCents,
		WholesaleCents: product.WholesalePriceCents,
	}
}
