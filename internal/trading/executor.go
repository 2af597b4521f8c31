package trading

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"tradehook/internal/broker"
	"tradehook/internal/logging"
	"tradehook/internal/models"
	"tradehook/internal/store"
)

const (
	// dailyFundedBetExpiry is the instrument expiry the broker expects for
	// DFB epics.
	dailyFundedBetExpiry = "DEC-27"

	timeInForceGoodTillCancelled = "GOOD_TILL_CANCELLED"
	orderTypeLimit               = "LIMIT"
	orderTypeMarket              = "MARKET"
)

// Executor submits orders to the broker. The local order row is written
// before the broker call so there is never a broker order without a local
// record; a failed submission rolls the row back.
type Executor struct {
	repo         store.Repository
	audit        store.AuditSink
	gateways     GatewayProvider
	logger       zerolog.Logger
	currencyCode string
}

// NewExecutor creates an executor. currencyCode is the account currency for
// deal requests, e.g. "GBP".
func NewExecutor(repo store.Repository, audit store.AuditSink, gateways GatewayProvider, currencyCode string, logger zerolog.Logger) *Executor {
	return &Executor{
		repo:         repo,
		audit:        audit,
		gateways:     gateways,
		logger:       logger.With().Str("component", "executor").Logger(),
		currencyCode: currencyCode,
	}
}

// Execute places one order for a validated alert. The order type comes from
// the user's settings: LIMIT places a resting working order at the derived
// level, MARKET opens a position immediately. Returns the persisted local
// order; a rejected confirmation deletes the row before returning.
func (e *Executor) Execute(ctx context.Context, user *models.User, instrument *models.Instrument, alert *models.Alert, params *OrderParameters) (*models.LocalOrder, error) {
	gateway, err := e.gateways.ForUser(user)
	if err != nil {
		return nil, err
	}

	order := models.NewLocalOrder(user.ID, instrument.ID)
	if err := e.repo.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	logger := e.logger.With().
		Str("user_id", user.ID.String()).
		Str("epic", instrument.Epic).
		Str("deal_reference", order.DealReference).
		Logger()

	if err := e.submit(ctx, gateway, user.Settings.OrderType, instrument, alert, params, order.DealReference); err != nil {
		// Roll back so the reconciler never chases a deal the broker
		// refused to take.
		if delErr := e.repo.DeleteOrder(ctx, order.ID); delErr != nil {
			logger.Error().Err(delErr).Msg("failed to roll back local order after submission failure")
		}
		e.audit.Record(ctx, store.AuditEntry{
			Message:     "Order submission failed",
			Description: err.Error(),
			Category:    store.CategoryError,
			UserID:      user.ID,
			Extra: map[string]any{
				"deal_reference":    order.DealReference,
				"market_and_symbol": instrument.MarketAndSymbol,
			},
		})
		return nil, err
	}

	logging.LogOrderSubmitted(logger, instrument.Epic, order.DealReference, string(user.Settings.OrderType))
	e.audit.Record(ctx, store.AuditEntry{
		Message:     "Order submitted",
		Description: string(alert.Direction) + " " + instrument.MarketAndSymbol,
		Category:    store.CategoryOrder,
		UserID:      user.ID,
		Extra: map[string]any{
			"deal_reference": order.DealReference,
			"direction":      string(alert.Direction),
			"size":           params.Size.String(),
			"level":          params.LimitPrice.String(),
			"order_type":     string(user.Settings.OrderType),
		},
	})

	e.confirm(ctx, gateway, user, instrument, order)
	return order, nil
}

func (e *Executor) submit(ctx context.Context, gateway broker.Gateway, orderType models.OrderType, instrument *models.Instrument, alert *models.Alert, params *OrderParameters, dealReference string) error {
	if orderType == models.OrderTypeMarket {
		return gateway.CreatePosition(ctx, broker.CreatePositionRequest{
			CurrencyCode:  e.currencyCode,
			DealReference: dealReference,
			Direction:     alert.Direction,
			Epic:          instrument.Epic,
			Expiry:        dailyFundedBetExpiry,
			ForceOpen:     true,
			LimitDistance: params.ProfitTargetDistance,
			OrderType:     orderTypeMarket,
			Size:          params.Size,
			StopDistance:  params.StopLossDistance,
		})
	}
	return gateway.CreateWorkingOrder(ctx, broker.CreateWorkingOrderRequest{
		CurrencyCode:  e.currencyCode,
		DealReference: dealReference,
		Direction:     alert.Direction,
		Epic:          instrument.Epic,
		Expiry:        dailyFundedBetExpiry,
		ForceOpen:     true,
		Level:         params.LimitPrice,
		LimitDistance: params.ProfitTargetDistance,
		Size:          params.Size,
		StopDistance:  params.StopLossDistance,
		TimeInForce:   timeInForceGoodTillCancelled,
		Type:          orderTypeLimit,
	})
}

// confirm makes one confirmation round-trip after submission. An unanswered
// or failed confirmation leaves the row open for the reconciler; this is
// best-effort, not a settlement guarantee.
func (e *Executor) confirm(ctx context.Context, gateway broker.Gateway, user *models.User, instrument *models.Instrument, order *models.LocalOrder) {
	// Give the broker a moment to process before asking.
	select {
	case <-ctx.Done():
		return
	case <-time.After(500 * time.Millisecond):
	}

	confirmation, err := gateway.ConfirmDeal(ctx, order.DealReference)
	if err != nil || confirmation == nil {
		e.logger.Warn().Err(err).
			Str("deal_reference", order.DealReference).
			Msg("order confirmation unavailable, leaving for reconciliation")
		return
	}

	logging.LogDealConfirmation(e.logger, order.DealReference, confirmation.DealID, string(confirmation.Status), confirmation.Reason)

	switch confirmation.Status {
	case models.DealStatusRejected:
		if err := e.repo.DeleteOrder(ctx, order.ID); err != nil {
			e.logger.Error().Err(err).Str("deal_reference", order.DealReference).Msg("failed to delete rejected order")
			return
		}
		e.audit.Record(ctx, store.AuditEntry{
			Message:     "Order rejected by broker",
			Description: confirmation.Reason,
			Category:    store.CategoryOrder,
			UserID:      user.ID,
			Extra: map[string]any{
				"deal_reference":    order.DealReference,
				"reason":            confirmation.Reason,
				"market_and_symbol": instrument.MarketAndSymbol,
			},
		})
	case models.DealStatusAccepted:
		if confirmation.DealID == "" {
			return
		}
		if err := e.repo.SetOrderDealID(ctx, order.ID, confirmation.DealID); err != nil {
			e.logger.Error().Err(err).Str("deal_reference", order.DealReference).Msg("failed to record deal id")
			return
		}
		order.DealID = confirmation.DealID
		e.audit.Record(ctx, store.AuditEntry{
			Message:     "Order accepted by broker",
			Description: string(confirmation.Direction) + " " + instrument.MarketAndSymbol,
			Category:    store.CategoryOrder,
			UserID:      user.ID,
			Extra: map[string]any{
				"deal_reference": order.DealReference,
				"deal_id":        confirmation.DealID,
			},
		})
	}
}
