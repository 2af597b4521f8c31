// Package trading implements the signal-to-order pipeline: payload parsing,
// validation, price calculation, and order execution.
package trading

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "tradehook/internal/errors"
	"tradehook/internal/models"
)

// WebhookPayload is the raw inbound webhook body. The message field carries
// the full signal as a space-separated string; the other fields duplicate
// parts of it plus optional overrides.
type WebhookPayload struct {
	Symbol    string           `json:"symbol"`
	Direction string           `json:"direction"`
	Message   string           `json:"message"`
	Secret    string           `json:"secret"`
	Timestamp time.Time        `json:"timestamp"`
	Price     *decimal.Decimal `json:"price"`
	Stop      *decimal.Decimal `json:"stop"`
	Limit     *decimal.Decimal `json:"limit"`
	Size      *decimal.Decimal `json:"size"`
}

// messageFieldCount is the minimum number of space-separated parts in a
// signal message: market:symbol, direction, open price, and ten ATRs.
const messageFieldCount = 13

// ParseWebhookBody decodes a JSON webhook body and parses the embedded
// signal message into an Alert. Malformed payloads fail with
// PayloadFormatError before any validation runs.
func ParseWebhookBody(body []byte) (*models.Alert, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperrors.NewPayloadFormatError("invalid JSON", err)
	}
	return ParseAlert(payload)
}

// ParseAlert converts a webhook payload into an immutable Alert value.
func ParseAlert(payload WebhookPayload) (*models.Alert, error) {
	parts := strings.Fields(payload.Message)
	if len(parts) < messageFieldCount {
		return nil, apperrors.NewPayloadFormatError("message requires at least 13 parts", nil)
	}

	marketAndSymbol := strings.ToUpper(strings.TrimSpace(parts[0]))
	market, symbol, ok := strings.Cut(marketAndSymbol, ":")
	if !ok || market == "" || symbol == "" {
		return nil, apperrors.NewPayloadFormatError("first part must be MARKET:SYMBOL", nil)
	}

	// Signals report the movement of the price, not the trade side: an UP
	// move is faded with a SELL, a DOWN move with a BUY.
	var direction models.Direction
	switch strings.ToUpper(strings.TrimSpace(parts[1])) {
	case "UP":
		direction = models.DirectionSell
	default:
		direction = models.DirectionBuy
	}

	openPrice, err := decimal.NewFromString(strings.TrimSpace(parts[2]))
	if err != nil {
		return nil, apperrors.NewPayloadFormatError("unparsable open price", err)
	}

	atrParts := parts[len(parts)-models.AlertATRCount:]
	atrs := make([]decimal.Decimal, 0, models.AlertATRCount)
	for _, raw := range atrParts {
		atr, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, apperrors.NewPayloadFormatError("unparsable ATR value", err)
		}
		atrs = append(atrs, atr)
	}

	timestamp := payload.Timestamp
	if timestamp.IsZero() {
		return nil, apperrors.NewPayloadFormatError("missing timestamp", nil)
	}

	return &models.Alert{
		Market:    market,
		Symbol:    symbol,
		Direction: direction,
		Message:   payload.Message,
		Secret:    payload.Secret,
		Timestamp: timestamp,
		OpenPrice: openPrice,
		ATRs:      atrs,
		Stop:      payload.Stop,
		Limit:     payload.Limit,
		Size:      payload.Size,
	}, nil
}
