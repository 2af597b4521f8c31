package trading

import (
	"github.com/shopspring/decimal"

	apperrors "tradehook/internal/errors"
	"tradehook/internal/models"
)

var (
	one        = decimal.NewFromInt(1)
	oneHundred = decimal.NewFromInt(100)
)

// pricePlaces is the scale every derived price and size is rounded to.
const pricePlaces = 2

// OrderParameters holds the derived values an order submission needs. All
// fields are rounded half-down to two decimal places.
type OrderParameters struct {
	LimitPrice           decimal.Decimal
	Size                 decimal.Decimal
	StopLossDistance     decimal.Decimal
	ProfitTargetDistance decimal.Decimal
}

// roundHalfDown rounds to the given scale with exact halves going toward
// zero: 0.125 -> 0.12, -0.125 -> -0.12.
func roundHalfDown(d decimal.Decimal, places int32) decimal.Decimal {
	half := decimal.New(5, -1)
	shifted := d.Shift(places)
	var n decimal.Decimal
	if shifted.Sign() >= 0 {
		n = shifted.Sub(half).Ceil()
	} else {
		n = shifted.Add(half).Floor()
	}
	return n.Shift(-places)
}

// LimitPrice derives the resting order level from the signal's open price.
// The configured multiple is a percentage: a SELL rests above the open by
// the multiple, a BUY rests below it by the same factor, so the two levels
// are reciprocal around the open price.
func LimitPrice(direction models.Direction, openPrice, openingMultiplePct decimal.Decimal) (decimal.Decimal, error) {
	factor := openingMultiplePct.Div(oneHundred)
	if factor.Sign() <= 0 {
		return decimal.Zero, apperrors.NewCalculationError("opening_price_multiple_pct", "must be positive")
	}
	var price decimal.Decimal
	if direction == models.DirectionSell {
		price = openPrice.Mul(factor)
	} else {
		price = openPrice.Div(factor)
	}
	return roundHalfDown(price, pricePlaces), nil
}

// BetSize converts the per-instrument position budget into a deal size at
// the given limit price, with a floor of one.
func BetSize(maxPositionSize, limitPrice decimal.Decimal) (decimal.Decimal, error) {
	if limitPrice.Sign() <= 0 {
		return decimal.Zero, apperrors.NewCalculationError("limit_price", "must be positive")
	}
	size := roundHalfDown(maxPositionSize.Div(limitPrice), pricePlaces)
	if size.LessThan(one) {
		size = one
	}
	return size, nil
}

// atrDistance reads the ATR for a lookback period (1-based, newest last is
// period 10) and scales it by a percentage multiple.
func atrDistance(field string, atrs []decimal.Decimal, period int, multiplePct decimal.Decimal) (decimal.Decimal, error) {
	if period < 1 || period > len(atrs) {
		return decimal.Zero, apperrors.NewCalculationError(field, "period outside available ATR range")
	}
	distance := atrs[period-1].Mul(multiplePct.Div(oneHundred))
	return roundHalfDown(distance, pricePlaces), nil
}

// StopLossDistance derives the stop distance from the instrument's ATR
// period and multiple.
func StopLossDistance(atrs []decimal.Decimal, period int, multiplePct decimal.Decimal) (decimal.Decimal, error) {
	return atrDistance("atr_stop_loss_period", atrs, period, multiplePct)
}

// ProfitTargetDistance derives the limit distance from the instrument's ATR
// period and multiple.
func ProfitTargetDistance(atrs []decimal.Decimal, period int, multiplePct decimal.Decimal) (decimal.Decimal, error) {
	return atrDistance("atr_profit_target_period", atrs, period, multiplePct)
}

// CalculateOrderParameters derives every order value from a normalized alert
// and its instrument configuration. Explicit overrides on the alert take
// precedence over the derived stop, limit, and size.
func CalculateOrderParameters(alert *models.Alert, instrument *models.Instrument) (*OrderParameters, error) {
	limitPrice, err := LimitPrice(alert.Direction, alert.OpenPrice, instrument.OpeningPriceMultiplePct)
	if err != nil {
		return nil, err
	}
	size, err := BetSize(instrument.MaxPositionSize, limitPrice)
	if err != nil {
		return nil, err
	}
	stop, err := StopLossDistance(alert.ATRs, instrument.ATRStopLossPeriod, instrument.ATRStopLossMultiplePct)
	if err != nil {
		return nil, err
	}
	target, err := ProfitTargetDistance(alert.ATRs, instrument.ATRProfitTargetPeriod, instrument.ATRProfitTargetMultiplePct)
	if err != nil {
		return nil, err
	}

	if alert.Stop != nil {
		stop = *alert.Stop
	}
	if alert.Limit != nil {
		target = *alert.Limit
	}
	if alert.Size != nil {
		size = *alert.Size
	}

	return &OrderParameters{
		LimitPrice:           limitPrice,
		Size:                 size,
		StopLossDistance:     stop,
		ProfitTargetDistance: target,
	}, nil
}
