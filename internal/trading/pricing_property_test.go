package trading

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"tradehook/internal/models"
)

// Property: a SELL level rests at or above the open price and a BUY level at
// or below it whenever the opening multiple exceeds 100%, and both levels
// are positive.
func TestLimitPriceBracketsOpenPrice(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("SELL >= open >= BUY for multiples above 100", prop.ForAll(
		func(open float64, pct float64) bool {
			openPrice := decimal.NewFromFloat(open).Round(2)
			multiple := decimal.NewFromFloat(pct).Round(2)

			sell, err := LimitPrice(models.DirectionSell, openPrice, multiple)
			if err != nil {
				return false
			}
			buy, err := LimitPrice(models.DirectionBuy, openPrice, multiple)
			if err != nil {
				return false
			}
			return sell.GreaterThanOrEqual(openPrice) &&
				buy.LessThanOrEqual(openPrice) &&
				buy.Sign() > 0
		},
		gen.Float64Range(1.0, 10000.0),
		gen.Float64Range(101.0, 150.0),
	))

	properties.TestingRun(t)
}

// Property: the two directions scale the open price reciprocally, so the
// product of the BUY and SELL levels recovers the squared open price up to
// rounding of each level.
func TestLimitPriceDirectionsAreReciprocal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("sell*buy ~= open^2", prop.ForAll(
		func(open float64, pct float64) bool {
			openPrice := decimal.NewFromFloat(open).Round(2)
			multiple := decimal.NewFromFloat(pct).Round(2)

			sell, err := LimitPrice(models.DirectionSell, openPrice, multiple)
			if err != nil {
				return false
			}
			buy, err := LimitPrice(models.DirectionBuy, openPrice, multiple)
			if err != nil {
				return false
			}

			product := sell.Mul(buy)
			square := openPrice.Mul(openPrice)
			// Each level was rounded by at most half a cent, which perturbs
			// the product by at most ~0.005*(sell+buy).
			tolerance := sell.Add(buy).Mul(decimal.NewFromFloat(0.006))
			return product.Sub(square).Abs().LessThanOrEqual(tolerance)
		},
		gen.Float64Range(1.0, 10000.0),
		gen.Float64Range(101.0, 150.0),
	))

	properties.TestingRun(t)
}

// Property: bet size is never below one and never exceeds the budget divided
// by the level by more than the rounding step.
func TestBetSizeBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("size >= 1 and close to budget/level", prop.ForAll(
		func(budget float64, level float64) bool {
			maxPos := decimal.NewFromFloat(budget).Round(2)
			limitPrice := decimal.NewFromFloat(level).Round(2)
			if limitPrice.Sign() <= 0 {
				return true
			}

			size, err := BetSize(maxPos, limitPrice)
			if err != nil {
				return false
			}
			if size.LessThan(decimal.NewFromInt(1)) {
				return false
			}
			exact := maxPos.Div(limitPrice)
			diff := size.Sub(exact).Abs()
			// Either the floor kicked in, or rounding moved at most half a
			// step.
			return exact.LessThan(decimal.NewFromInt(1)) || diff.LessThanOrEqual(decimal.NewFromFloat(0.005))
		},
		gen.Float64Range(1.0, 100000.0),
		gen.Float64Range(0.01, 5000.0),
	))

	properties.TestingRun(t)
}

// Property: half-down rounding is idempotent and never moves a value by more
// than half the final decimal place.
func TestRoundHalfDownProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("idempotent and within half a step", prop.ForAll(
		func(v float64) bool {
			d := decimal.NewFromFloat(v)
			once := roundHalfDown(d, pricePlaces)
			twice := roundHalfDown(once, pricePlaces)
			if !once.Equal(twice) {
				return false
			}
			return d.Sub(once).Abs().LessThanOrEqual(decimal.NewFromFloat(0.005))
		},
		gen.Float64Range(-100000.0, 100000.0),
	))

	properties.TestingRun(t)
}
