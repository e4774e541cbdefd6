package pricing

import (
	"github.com/shopspring/decimal"
)

var (
	half     = decimal.NewFromFloat(0.5)
	volSpan  = decimal.NewFromInt(5)
	volFloor = decimal.NewFromInt(2)
	two      = decimal.NewFromInt(2)
)

const pricePlaces int32 = 2

// Draw is one pair of random walk inputs.
// Direction lies in [-0.5, 0.5) and Volatility in [2, 7) percentage points.
type Draw struct {
	Direction  decimal.Decimal
	Volatility decimal.Decimal
}

// DrawFrom takes two uniform samples from src: direction first, then volatility.
func DrawFrom(src RandomSource) Draw {
	u1 := decimal.NewFromFloat(src.Float64())
	u2 := decimal.NewFromFloat(src.Float64())
	return Draw{
		Direction:  u1.Sub(half),
		Volatility: u2.Mul(volSpan).Add(volFloor),
	}
}

// NextPrice moves oldPrice one random walk step inside the rule's corridor.
func NextPrice(oldPrice decimal.Decimal, rule PriceRule, src RandomSource) decimal.Decimal {
	return Step(oldPrice, rule, DrawFrom(src))
}

// Step applies a given draw to oldPrice and rounds to two places, half away from zero.
func Step(oldPrice decimal.Decimal, rule PriceRule, d Draw) decimal.Decimal {
	changePercent := d.Volatility.Mul(d.Direction)
	changeAmount := oldPrice.Mul(changePercent).Shift(-2)
	newPrice := oldPrice.Add(changeAmount)
	return nudge(newPrice, changeAmount, rule).Round(pricePlaces)
}

// nudge pushes a price that left the corridor back by twice the step size. It is a single
// correction, not a clamp: an extreme step can still land outside [min, max].
func nudge(newPrice, changeAmount decimal.Decimal, rule PriceRule) decimal.Decimal {
	correction := changeAmount.Abs().Mul(two)
	switch {
	case newPrice.LessThan(rule.MinPrice):
		return newPrice.Add(correction)
	case newPrice.GreaterThan(rule.MaxPrice):
		return newPrice.Sub(correction)
	default:
		return newPrice
	}
}
