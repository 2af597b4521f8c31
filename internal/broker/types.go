// Package broker provides the typed gateway to the broker's REST API.
package broker

import (
	"github.com/shopspring/decimal"

	"tradehook/internal/models"
)

func init() {
	// The broker API exchanges prices and sizes as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// Token is one authenticated broker session.
type Token struct {
	AccessToken string
	AccountID   string
}

type sessionRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type oauthToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
	ExpiresIn    string `json:"expires_in"`
}

type sessionResponse struct {
	ClientID   string     `json:"clientId"`
	AccountID  string     `json:"accountId"`
	OauthToken oauthToken `json:"oauthToken"`
}

type apiErrorResponse struct {
	ErrorCode string `json:"errorCode"`
}

// Position is a filled, currently open trade on the broker.
type Position struct {
	DealID        string
	DealReference string
	Epic          string
	Direction     models.Direction
	Size          decimal.Decimal
	Level         decimal.Decimal
}

type positionBody struct {
	DealID        string           `json:"dealId"`
	DealReference string           `json:"dealReference"`
	Direction     models.Direction `json:"direction"`
	Size          decimal.Decimal  `json:"size"`
	Level         decimal.Decimal  `json:"level"`
}

type marketBody struct {
	Epic string `json:"epic"`
}

type positionEnvelope struct {
	Position positionBody `json:"position"`
	Market   marketBody   `json:"market"`
}

func (e positionEnvelope) flatten() Position {
	return Position{
		DealID:        e.Position.DealID,
		DealReference: e.Position.DealReference,
		Epic:          e.Market.Epic,
		Direction:     e.Position.Direction,
		Size:          e.Position.Size,
		Level:         e.Position.Level,
	}
}

type positionsResponse struct {
	Positions []positionEnvelope `json:"positions"`
}

// WorkingOrder is a resting order on the broker, not yet filled.
type WorkingOrder struct {
	DealID    string
	Epic      string
	Direction models.Direction
	OrderType string
	Size      decimal.Decimal
	Level     decimal.Decimal
}

type workingOrderBody struct {
	DealID    string           `json:"dealId"`
	Epic      string           `json:"epic"`
	Direction models.Direction `json:"direction"`
	OrderType string           `json:"orderType"`
	OrderSize decimal.Decimal  `json:"orderSize"`
	Level     decimal.Decimal  `json:"orderLevel"`
}

type workingOrderEnvelope struct {
	WorkingOrderData workingOrderBody `json:"workingOrderData"`
}

func (e workingOrderEnvelope) flatten() WorkingOrder {
	return WorkingOrder{
		DealID:    e.WorkingOrderData.DealID,
		Epic:      e.WorkingOrderData.Epic,
		Direction: e.WorkingOrderData.Direction,
		OrderType: e.WorkingOrderData.OrderType,
		Size:      e.WorkingOrderData.OrderSize,
		Level:     e.WorkingOrderData.Level,
	}
}

type workingOrdersResponse struct {
	WorkingOrders []workingOrderEnvelope `json:"workingOrders"`
}

// CreateWorkingOrderRequest creates a resting limit order.
type CreateWorkingOrderRequest struct {
	CurrencyCode   string           `json:"currencyCode"`
	DealReference  string           `json:"dealReference"`
	Direction      models.Direction `json:"direction"`
	Epic           string           `json:"epic"`
	Expiry         string           `json:"expiry"`
	ForceOpen      bool             `json:"forceOpen"`
	GoodTillDate   *string          `json:"goodTillDate,omitempty"`
	GuaranteedStop bool             `json:"guaranteedStop"`
	Level          decimal.Decimal  `json:"level"`
	LimitDistance  decimal.Decimal  `json:"limitDistance"`
	Size           decimal.Decimal  `json:"size"`
	StopDistance   decimal.Decimal  `json:"stopDistance"`
	TimeInForce    string           `json:"timeInForce"`
	Type           string           `json:"type"`
}

// CreatePositionRequest opens a position at market.
type CreatePositionRequest struct {
	CurrencyCode   string           `json:"currencyCode"`
	DealReference  string           `json:"dealReference"`
	Direction      models.Direction `json:"direction"`
	Epic           string           `json:"epic"`
	Expiry         string           `json:"expiry"`
	ForceOpen      bool             `json:"forceOpen"`
	GuaranteedStop bool             `json:"guaranteedStop"`
	Level          *decimal.Decimal `json:"level,omitempty"`
	LimitDistance  decimal.Decimal  `json:"limitDistance"`
	OrderType      string           `json:"orderType"`
	Size           decimal.Decimal  `json:"size"`
	StopDistance   decimal.Decimal  `json:"stopDistance"`
}

type createDealResponse struct {
	DealReference string `json:"dealReference"`
}

// DealConfirmation is the broker's report on a submitted deal reference.
// Consumed once to decide a local order's fate; never persisted.
type DealConfirmation struct {
	DealID        string            `json:"dealId"`
	DealReference string            `json:"dealReference"`
	Status        models.DealStatus `json:"dealStatus"`
	Direction     models.Direction  `json:"direction"`
	Epic          string            `json:"epic"`
	Level         decimal.Decimal   `json:"level"`
	Size          decimal.Decimal   `json:"size"`
	Profit        decimal.Decimal   `json:"profit"`
	Reason        string            `json:"reason"`
}
