package connector

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SymbolFilters holds the exchangeInfo filters relevant to order precision,
// the Go equivalent of execution_service.go's SymbolProfile, extended with
// min_notional per spec.md §4.1.
type SymbolFilters struct {
	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinNotional decimal.Decimal
}

// decimalsOf returns the number of fractional digits implied by a step
// value like 0.001 or 0.01, matching Binance's filter convention.
func decimalsOf(step decimal.Decimal) int32 {
	if step.IsZero() {
		return 0
	}
	return -step.Exponent()
}

// PriceToPrecision rounds HALF-UP to tick_size per spec.md §4.1, returning
// a fixed-decimal string with precision equal to tick_size's decimals.
func PriceToPrecision(price decimal.Decimal, tickSize decimal.Decimal) string {
	if tickSize.IsZero() {
		return price.String()
	}
	steps := price.Div(tickSize).Round(0)
	rounded := steps.Mul(tickSize)
	return rounded.StringFixed(decimalsOf(tickSize))
}

// AmountToPrecision floors to step_size per spec.md §4.1, returning a
// fixed-decimal string. Returns an error if the floored amount is zero,
// per the "amounts that floor to zero MUST be rejected" invariant.
func AmountToPrecision(amount decimal.Decimal, stepSize decimal.Decimal) (string, error) {
	if stepSize.IsZero() {
		return amount.String(), nil
	}
	steps := amount.Div(stepSize).Floor()
	floored := steps.Mul(stepSize)
	if floored.IsZero() {
		return "", fmt.Errorf("amount %s floors to zero at step size %s", amount, stepSize)
	}
	return floored.StringFixed(decimalsOf(stepSize)), nil
}
