package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Instrument is a user's per-instrument trading configuration. The core only
// reads it; CSV import and the CRUD surface own mutation, except for the
// dividend-date refresh job which updates NextDividendDate.
type Instrument struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	MarketAndSymbol string
	Epic            string // broker instrument key
	YahooSymbol     string // market-data lookup key, may be empty

	ATRStopLossPeriod          int
	ATRStopLossMultiplePct     decimal.Decimal
	ATRProfitTargetPeriod      int
	ATRProfitTargetMultiplePct decimal.Decimal

	MaxPositionSize         decimal.Decimal
	OpeningPriceMultiplePct decimal.Decimal
	PriceMultiplier         decimal.Decimal

	NextDividendDate *time.Time
	LastAlertAt      *time.Time

	CreatedAt time.Time
}
