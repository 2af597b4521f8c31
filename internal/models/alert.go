package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertATRCount is the number of average-true-range values every alert
// carries, oldest first.
const AlertATRCount = 10

// Alert is one parsed trading signal from the webhook source. It is a value
// object: produced by parsing a single inbound payload, never mutated, and
// discarded once the pipeline has processed it.
type Alert struct {
	Market    string
	Symbol    string
	Direction Direction
	Message   string
	Secret    string
	Timestamp time.Time
	OpenPrice decimal.Decimal
	ATRs      []decimal.Decimal

	// Optional per-alert overrides. When set they take precedence over the
	// calculated values for the corresponding order parameter.
	Stop  *decimal.Decimal
	Limit *decimal.Decimal
	Size  *decimal.Decimal
}

// MarketAndSymbol returns the instrument lookup key, e.g. "LSE:IFX".
func (a Alert) MarketAndSymbol() string {
	return a.Market + ":" + a.Symbol
}

// Normalized returns a copy of the alert with the open price and ATRs scaled
// by the instrument's price multiplier. Signal sources quote some instruments
// in different units than the broker (pence vs. pounds); the multiplier
// brings them into broker units before any calculation runs.
func (a Alert) Normalized(multiplier decimal.Decimal) Alert {
	out := a
	out.OpenPrice = a.OpenPrice.Mul(multiplier)
	out.ATRs = make([]decimal.Decimal, len(a.ATRs))
	for i, atr := range a.ATRs {
		out.ATRs[i] = atr.Mul(multiplier)
	}
	return out
}
