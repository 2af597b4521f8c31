// Package models defines the domain types shared across the pipeline.
package models

// Direction is the side of a trade.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Mode selects which set of broker credentials and webhook secrets apply.
type Mode string

const (
	ModeDemo Mode = "DEMO"
	ModeLive Mode = "LIVE"
)

// OrderType is the user's order placement preference.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// DealStatus is the broker's verdict on a submitted deal.
type DealStatus string

const (
	DealStatusAccepted DealStatus = "ACCEPTED"
	DealStatusRejected DealStatus = "REJECTED"
)
