package models

import (
	"github.com/shopspring/decimal"
)

// CurrencyScale is the number of decimal places carried by every monetary
// amount. All supported currencies (GEL, USD, EUR) use two.
const CurrencyScale = 2

var hundred = decimal.NewFromInt(100)

// RevenueSplit is the three-way division of a gross payment amount between
// the primary distributor, its parent (sub) distributor and the platform
// admin account. It is computed at settlement time and embedded into the
// audit trail; it is never persisted as its own table.
type RevenueSplit struct {
	Gross decimal.Decimal `json:"gross"`

	DistributorPercent    decimal.Decimal `json:"distributorPercent"`
	SubDistributorPercent decimal.Decimal `json:"subDistributorPercent"`
	AdminPercent          decimal.Decimal `json:"adminPercent"`

	DistributorAmount    decimal.Decimal `json:"distributorAmount"`
	SubDistributorAmount decimal.Decimal `json:"subDistributorAmount"`
	AdminAmount          decimal.Decimal `json:"adminAmount"`
}

// ComputeRevenueSplit divides gross between distributor, sub-distributor and
// admin. The distributor amounts are rounded to currency scale; the admin
// amount is the exact remainder, so the three always sum to gross to the
// cent. AdminPercent is floored at zero.
func ComputeRevenueSplit(gross, distributorPct, subDistributorPct decimal.Decimal) RevenueSplit {
	adminPct := hundred.Sub(distributorPct).Sub(subDistributorPct)
	if adminPct.IsNegative() {
		adminPct = decimal.Zero
	}

	distAmount := gross.Mul(distributorPct).Div(hundred).Round(CurrencyScale)
	subAmount := gross.Mul(subDistributorPct).Div(hundred).Round(CurrencyScale)
	adminAmount := gross.Sub(distAmount).Sub(subAmount)

	return RevenueSplit{
		Gross:                 gross,
		DistributorPercent:    distributorPct,
		SubDistributorPercent: subDistributorPct,
		AdminPercent:          adminPct,
		DistributorAmount:     distAmount,
		SubDistributorAmount:  subAmount,
		AdminAmount:           adminAmount,
	}
}

// MinorUnits converts an amount to integer minor units (cents/tetri) for
// gateways that transmit amounts that way.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits is the inverse of MinorUnits.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(hundred)
}
