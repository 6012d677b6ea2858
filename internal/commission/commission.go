// Package commission computes the fee split for an order total.
//
// Order totals are carved into three parts at hold-creation time:
// payment-gateway fee, platform commission, and seller payout. Tiers are
// evaluated by ascending threshold, first match wins. The top tier also
// disallows pay-on-delivery, which checkout enforces before an order is
// accepted.
package commission

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/kasuwahq/settlement/internal/money"
)

var ErrInvalidTotal = errors.New("order total must be positive")

// Breakdown is the fee split for one order total.
type Breakdown struct {
	Total              decimal.Decimal `json:"total"`
	GatewayFee         decimal.Decimal `json:"gatewayFee"`
	PlatformCommission decimal.Decimal `json:"platformCommission"`
	SellerPayout       decimal.Decimal `json:"sellerPayout"`
	PODEligible        bool            `json:"podEligible"`
}

// tier is one commission bracket. upTo is exclusive; a zero upTo marks
// the open-ended top bracket.
type tier struct {
	upTo        decimal.Decimal
	gatewayPct  decimal.Decimal
	platformPct decimal.Decimal
	podEligible bool
}

var tiers = []tier{
	{
		upTo:        decimal.NewFromInt(20_000),
		gatewayPct:  decimal.NewFromFloat(1.5),
		platformPct: decimal.NewFromFloat(0.5),
		podEligible: true,
	},
	{
		upTo:        decimal.NewFromInt(35_000),
		gatewayPct:  decimal.NewFromFloat(1.5),
		platformPct: decimal.NewFromFloat(3.5),
		podEligible: true,
	},
	{
		gatewayPct:  decimal.NewFromFloat(1.5),
		platformPct: decimal.NewFromFloat(3.5),
		podEligible: false,
	},
}

// Calculate returns the fee split for the given order total.
//
// The gateway fee and platform commission are each rounded to kobo; the
// seller payout absorbs the rounding remainder so that
// GatewayFee + PlatformCommission + SellerPayout == Total exactly.
func Calculate(total decimal.Decimal) (Breakdown, error) {
	if !total.IsPositive() {
		return Breakdown{}, ErrInvalidTotal
	}
	total = total.Round(money.Decimals)

	t := tierFor(total)
	gatewayFee := money.Percent(total, t.gatewayPct)
	platform := money.Percent(total, t.platformPct)
	payout := total.Sub(gatewayFee).Sub(platform)

	return Breakdown{
		Total:              total,
		GatewayFee:         gatewayFee,
		PlatformCommission: platform,
		SellerPayout:       payout,
		PODEligible:        t.podEligible,
	}, nil
}

// Quote parses a total from its wire form and returns the fee split.
// Checkout uses it to show the carve before an order is placed.
func Quote(total string) (Breakdown, error) {
	d, err := money.Parse(total)
	if err != nil {
		return Breakdown{}, ErrInvalidTotal
	}
	return Calculate(d)
}

// PODEligible reports whether pay-on-delivery is allowed for the total.
func PODEligible(total decimal.Decimal) bool {
	return tierFor(total.Round(money.Decimals)).podEligible
}

func tierFor(total decimal.Decimal) tier {
	for _, t := range tiers {
		if t.upTo.IsZero() || total.LessThan(t.upTo) {
			return t
		}
	}
	return tiers[len(tiers)-1]
}
