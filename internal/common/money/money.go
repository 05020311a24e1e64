package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency represents an ISO 4217 currency code
type Currency string

const (
	COP Currency = "COP"
	USD Currency = "USD"
	EUR Currency = "EUR"
)

// CurrencyInfo contains metadata about a currency
type CurrencyInfo struct {
	Code        Currency
	MinorUnits  int32 // Number of decimal places
	Symbol      string
	SymbolFirst bool
	// WholeUnitsOnly is set when the gateway only settles whole major units,
	// so amounts must be multiples of 10^MinorUnits minor units.
	WholeUnitsOnly bool
}

var currencies = map[Currency]CurrencyInfo{
	COP: {Code: COP, MinorUnits: 2, Symbol: "$", SymbolFirst: true, WholeUnitsOnly: true},
	USD: {Code: USD, MinorUnits: 2, Symbol: "$", SymbolFirst: true},
	EUR: {Code: EUR, MinorUnits: 2, Symbol: "€", SymbolFirst: true},
}

// Money represents a monetary amount in minor units (cents)
type Money struct {
	AmountMinor int64    `json:"amount_minor"`
	Currency    Currency `json:"currency"`
}

// New creates a new Money value from minor units
func New(amountMinor int64, currency Currency) Money {
	return Money{
		AmountMinor: amountMinor,
		Currency:    currency,
	}
}

// IsPositive returns true if the amount is positive
func (m Money) IsPositive() bool {
	return m.AmountMinor > 0
}

// String returns a human-readable representation
func (m Money) String() string {
	info, ok := currencies[m.Currency]
	if !ok {
		return fmt.Sprintf("%d %s (minor)", m.AmountMinor, m.Currency)
	}
	major := decimal.New(m.AmountMinor, -info.MinorUnits).StringFixed(info.MinorUnits)
	if info.SymbolFirst {
		return info.Symbol + major
	}
	return major + info.Symbol
}
