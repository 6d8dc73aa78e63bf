// Package money holds the rounding policy for ledger amounts.
package money

import "github.com/shopspring/decimal"

const (
	// BTCPlaces is the precision of every stored BTC amount.
	BTCPlaces int32 = 8
	// USDPlaces is the precision of every stored USD amount.
	USDPlaces int32 = 6
	// USDDisplayPlaces is the precision USD amounts are shown with.
	USDDisplayPlaces int32 = 2
)

var hundred = decimal.NewFromInt(100)

// BTC rounds d half away from zero to BTCPlaces.
func BTC(d decimal.Decimal) decimal.Decimal {
	return d.Round(BTCPlaces)
}

// USD rounds d half away from zero to USDPlaces.
func USD(d decimal.Decimal) decimal.Decimal {
	return d.Round(USDPlaces)
}

// DisplayUSD formats d with two decimals.
func DisplayUSD(d decimal.Decimal) string {
	return d.StringFixed(USDDisplayPlaces)
}

// Percent returns pct percent of d, unrounded.
func Percent(d, pct decimal.Decimal) decimal.Decimal {
	return d.Mul(pct).Div(hundred)
}

// NetOfFee returns d reduced by feePct percent, unrounded.
func NetOfFee(d, feePct decimal.Decimal) decimal.Decimal {
	return d.Mul(hundred.Sub(feePct)).Div(hundred)
}
