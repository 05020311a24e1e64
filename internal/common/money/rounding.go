package money

import (
	"github.com/shopspring/decimal"
)

// FloorMinor truncates a possibly fractional minor-unit amount toward zero.
func FloorMinor(amount decimal.Decimal) int64 {
	return amount.Truncate(0).IntPart()
}

// PercentOf returns floor(amount * pct / 100) for non-negative inputs.
// The split into quotient and remainder keeps large amounts from overflowing.
func PercentOf(amount, pct int64) int64 {
	return (amount/100)*pct + (amount%100)*pct/100
}

// NormalizeForGateway converts an amount into the minor units the gateway
// accepts for the currency. The amount is always floored first. Currencies
// settled in whole units are then rounded to the nearest whole unit, with
// the halfway point rounding up.
func NormalizeForGateway(amount decimal.Decimal, c Currency) int64 {
	return NormalizeMinor(FloorMinor(amount), c)
}

// NormalizeMinor is NormalizeForGateway for an amount already in integer minor units.
func NormalizeMinor(amountMinor int64, c Currency) int64 {
	info, ok := currencies[c]
	if !ok || !info.WholeUnitsOnly {
		return amountMinor
	}

	step := wholeUnitStep(info)
	rem := amountMinor % step
	if rem < 0 {
		rem += step
	}
	base := amountMinor - rem
	if rem*2 >= step {
		return base + step
	}
	return base
}

func wholeUnitStep(info CurrencyInfo) int64 {
	step := int64(1)
	for i := int32(0); i < info.MinorUnits; i++ {
		step *= 10
	}
	return step
}
