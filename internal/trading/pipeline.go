package trading

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "tradehook/internal/errors"
	"tradehook/internal/models"
	"tradehook/internal/store"
)

// Pipeline ties the alert stages together: parse, validate, normalize,
// price, execute. One instance serves all webhook requests.
type Pipeline struct {
	validator *Validator
	executor  *Executor
	repo      store.Repository
	audit     store.AuditSink
	logger    zerolog.Logger

	// Alerts for the same instrument are serialized so two near-simultaneous
	// signals cannot both pass the cooldown check.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPipeline creates the alert pipeline.
func NewPipeline(validator *Validator, executor *Executor, repo store.Repository, audit store.AuditSink, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		validator: validator,
		executor:  executor,
		repo:      repo,
		audit:     audit,
		logger:    logger.With().Str("component", "pipeline").Logger(),
		locks:     make(map[string]*sync.Mutex),
	}
}

// HandleBody processes one raw webhook body end to end. A parse failure or a
// validation rejection is a handled drop, not an error; errors are reserved
// for infrastructure failures.
func (p *Pipeline) HandleBody(ctx context.Context, body []byte) error {
	alert, err := ParseWebhookBody(body)
	if err != nil {
		p.logger.Warn().Err(err).Msg("dropping malformed webhook payload")
		return nil
	}
	return p.HandleAlert(ctx, alert)
}

// HandleAlert runs a parsed alert through validation, pricing, and
// execution.
func (p *Pipeline) HandleAlert(ctx context.Context, alert *models.Alert) error {
	result, err := p.validator.Validate(ctx, alert)
	if err != nil {
		return err
	}
	if !result.OK {
		return nil
	}
	user, instrument := result.User, result.Instrument

	unlock := p.lockInstrument(instrument.ID.String())
	defer unlock()

	// Re-check the cooldown under the lock: another alert for the same
	// instrument may have created an order while this one was validating.
	if user.Settings.CooldownPeriod > 0 {
		tooSoon, err := p.validator.withinCooldown(ctx, instrument, user.Settings.CooldownPeriod)
		if err != nil {
			return err
		}
		if tooSoon {
			p.logger.Info().
				Str("instrument", instrument.MarketAndSymbol).
				Msg("alert lost cooldown race, dropping")
			return nil
		}
	}

	normalized := alert.Normalized(instrument.PriceMultiplier)
	params, err := CalculateOrderParameters(&normalized, instrument)
	if err != nil {
		var calcErr *apperrors.CalculationError
		if apperrors.As(err, &calcErr) {
			p.audit.Record(ctx, store.AuditEntry{
				Message:     "Order calculation failed",
				Description: calcErr.Error(),
				Category:    store.CategoryError,
				UserID:      user.ID,
				Extra: map[string]any{
					"market_and_symbol": instrument.MarketAndSymbol,
					"field":             calcErr.Field,
				},
			})
			p.logger.Error().Err(err).
				Str("instrument", instrument.MarketAndSymbol).
				Msg("dropping alert, instrument misconfigured")
			return nil
		}
		return err
	}

	start := time.Now()
	order, err := p.executor.Execute(ctx, user, instrument, &normalized, params)
	if err != nil {
		return err
	}

	p.logger.Info().
		Str("instrument", instrument.MarketAndSymbol).
		Str("deal_reference", order.DealReference).
		Dur("execute_duration", time.Since(start)).
		Msg("alert executed")
	return nil
}

// lockInstrument acquires the per-instrument mutex, creating it on first
// use, and returns the unlock func.
func (p *Pipeline) lockInstrument(key string) func() {
	p.mu.Lock()
	lock, ok := p.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[key] = lock
	}
	p.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
