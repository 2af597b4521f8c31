package trading

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tradehook/internal/broker"
	"tradehook/internal/models"
	"tradehook/internal/store"
)

// Rejection codes, in the order the checks run. The first failing check
// wins; later checks never execute.
const (
	CodeInvalidSecret       = "INVALID_OR_MISMATCHED_SECRET"
	CodeMaxAlertAgeExceeded = "MAX_ALERT_AGE_EXCEEDED"
	CodeInstrumentNotFound  = "INSTRUMENT_NOT_FOUND"
	CodeMaxOpenOrders       = "MAXIMUM_PENDING_ORDERS_EXCEEDED"
	CodeOrderTooSoon        = "ORDER_CREATION_TOO_SOON"
	CodePositionExists      = "POSITION_ALREADY_EXISTS"
	CodeWorkingOrderExists  = "WORKING_ORDER_ALREADY_EXISTS"
	CodeAlertOnDividendDate = "ALERT_ON_DIVIDEND_DATE"
)

// GatewayProvider hands out the broker gateway for a user. Satisfied by
// broker.Factory.
type GatewayProvider interface {
	ForUser(user *models.User) (broker.Gateway, error)
}

// ValidationResult carries the outcome of the check chain. When OK is false,
// Code names the first failing check and User/Instrument hold whatever had
// been resolved by that point.
type ValidationResult struct {
	OK         bool
	Code       string
	User       *models.User
	Instrument *models.Instrument
}

// Validator runs the ordered admission checks on a parsed alert. A rejection
// is not an error: errors are reserved for infrastructure failures
// (repository calls) that prevent a verdict.
type Validator struct {
	repo     store.Repository
	audit    store.AuditSink
	gateways GatewayProvider
	logger   zerolog.Logger
	now      func() time.Time
}

// NewValidator creates a validator. The gateway provider may be nil, which
// disables the broker-state checks.
func NewValidator(repo store.Repository, audit store.AuditSink, gateways GatewayProvider, logger zerolog.Logger) *Validator {
	return &Validator{
		repo:     repo,
		audit:    audit,
		gateways: gateways,
		logger:   logger.With().Str("component", "validator").Logger(),
		now:      time.Now,
	}
}

// Validate runs every check in order and returns the first rejection, or an
// OK result with the resolved user and instrument.
func (v *Validator) Validate(ctx context.Context, alert *models.Alert) (ValidationResult, error) {
	// Secret resolution doubles as authentication: an unknown secret and a
	// mismatched one are indistinguishable to the caller.
	user, err := v.repo.UserByWebhookSecret(ctx, alert.Secret)
	if err != nil {
		return ValidationResult{}, err
	}
	if user == nil {
		v.reject(ctx, nil, alert, CodeInvalidSecret, "alert secret did not match any user")
		return ValidationResult{Code: CodeInvalidSecret}, nil
	}

	result := ValidationResult{User: user}

	if user.Settings.EnforceMaxAlertAge {
		age := v.now().Sub(alert.Timestamp)
		if age > user.Settings.MaxAlertAge {
			v.reject(ctx, user, alert, CodeMaxAlertAgeExceeded, "alert arrived too long after its timestamp")
			result.Code = CodeMaxAlertAgeExceeded
			return result, nil
		}
	}

	instrument, err := v.repo.InstrumentByMarketAndSymbol(ctx, user.ID, alert.MarketAndSymbol())
	if err != nil {
		return result, err
	}
	if instrument == nil {
		v.reject(ctx, user, alert, CodeInstrumentNotFound, "no instrument configured for "+alert.MarketAndSymbol())
		result.Code = CodeInstrumentNotFound
		return result, nil
	}
	result.Instrument = instrument

	if user.Settings.EnforceMaxOpenOrders {
		open, err := v.repo.OpenOrdersForUser(ctx, user.ID)
		if err != nil {
			return result, err
		}
		if len(open) >= user.Settings.MaxOpenOrders {
			v.reject(ctx, user, alert, CodeMaxOpenOrders, "open order count at configured maximum")
			result.Code = CodeMaxOpenOrders
			return result, nil
		}
	}

	if user.Settings.CooldownPeriod > 0 {
		tooSoon, err := v.withinCooldown(ctx, instrument, user.Settings.CooldownPeriod)
		if err != nil {
			return result, err
		}
		if tooSoon {
			v.reject(ctx, user, alert, CodeOrderTooSoon, "previous order for instrument is inside the cooldown window")
			result.Code = CodeOrderTooSoon
			return result, nil
		}
	}

	if code := v.brokerStateCheck(ctx, user, instrument); code != "" {
		v.reject(ctx, user, alert, code, "broker already holds exposure for "+instrument.Epic)
		result.Code = code
		return result, nil
	}

	if user.Settings.AvoidDividendDates && instrument.NextDividendDate != nil {
		if sameDay(v.now().UTC(), instrument.NextDividendDate.UTC()) {
			v.reject(ctx, user, alert, CodeAlertOnDividendDate, "instrument pays a dividend today")
			result.Code = CodeAlertOnDividendDate
			return result, nil
		}
	}

	result.OK = true
	return result, nil
}

// withinCooldown reports whether the most recent local order for the
// instrument is newer than the cooldown window.
func (v *Validator) withinCooldown(ctx context.Context, instrument *models.Instrument, cooldown time.Duration) (bool, error) {
	recent, err := v.repo.MostRecentOrderForInstrument(ctx, instrument.ID)
	if err != nil {
		return false, err
	}
	if recent == nil {
		return false, nil
	}
	return v.now().Sub(recent.CreatedAt) < cooldown, nil
}

// brokerStateCheck rejects when the broker already holds a position or a
// working order on the instrument's epic. The check fails open: if the
// broker cannot answer, the alert proceeds and the submission path deals
// with any duplicate.
func (v *Validator) brokerStateCheck(ctx context.Context, user *models.User, instrument *models.Instrument) string {
	if v.gateways == nil || instrument.Epic == "" {
		return ""
	}
	gateway, err := v.gateways.ForUser(user)
	if err != nil {
		v.logger.Warn().Err(err).Str("user_id", user.ID.String()).Msg("skipping broker state check, no gateway")
		return ""
	}

	positions, err := gateway.GetPositions(ctx)
	if err != nil {
		v.logger.Warn().Err(err).Str("epic", instrument.Epic).Msg("position check failed, proceeding")
	} else {
		for _, p := range positions {
			if strings.EqualFold(p.Epic, instrument.Epic) {
				return CodePositionExists
			}
		}
	}

	orders, err := gateway.GetWorkingOrders(ctx)
	if err != nil {
		v.logger.Warn().Err(err).Str("epic", instrument.Epic).Msg("working order check failed, proceeding")
		return ""
	}
	for _, o := range orders {
		if strings.EqualFold(o.Epic, instrument.Epic) {
			return CodeWorkingOrderExists
		}
	}
	return ""
}

func (v *Validator) reject(ctx context.Context, user *models.User, alert *models.Alert, code, description string) {
	event := v.logger.Info().
		Str("code", code).
		Str("market_and_symbol", alert.MarketAndSymbol()).
		Str("direction", string(alert.Direction))
	if user != nil {
		event = event.Str("user_id", user.ID.String())
	}
	event.Msg("alert rejected")

	entry := store.AuditEntry{
		Message:     "Alert rejected",
		Description: description,
		Category:    store.CategoryAlert,
		Extra: map[string]any{
			"code":              code,
			"market_and_symbol": alert.MarketAndSymbol(),
			"direction":         string(alert.Direction),
		},
	}
	if user != nil {
		entry.UserID = user.ID
	}
	v.audit.Record(ctx, entry)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
