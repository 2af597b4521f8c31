package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tradehook/internal/store"
)

// DividendSource answers when an instrument next pays a dividend. (nil, nil)
// means the source lists no upcoming dividend.
type DividendSource interface {
	NextDividendDate(ctx context.Context, symbol string) (*time.Time, error)
}

// DividendRefresh keeps each instrument's next dividend date current so the
// dividend-date validation check works from fresh data.
type DividendRefresh struct {
	repo     store.Repository
	audit    store.AuditSink
	source   DividendSource
	logger   zerolog.Logger
	interval time.Duration
}

// NewDividendRefresh creates the dividend refresh job.
func NewDividendRefresh(repo store.Repository, audit store.AuditSink, source DividendSource, interval time.Duration, logger zerolog.Logger) *DividendRefresh {
	return &DividendRefresh{
		repo:     repo,
		audit:    audit,
		source:   source,
		logger:   logger.With().Str("job", "dividends").Logger(),
		interval: interval,
	}
}

func (d *DividendRefresh) Name() string            { return "dividends" }
func (d *DividendRefresh) Interval() time.Duration { return d.interval }

// Run refreshes the dividend date of every instrument that has a market-data
// symbol. Lookup failures skip the instrument and keep its previous date.
func (d *DividendRefresh) Run(ctx context.Context) error {
	instruments, err := d.repo.InstrumentsWithYahooSymbol(ctx)
	if err != nil {
		return err
	}

	updated := make(map[uuid.UUID]int)
	for i := range instruments {
		instrument := &instruments[i]
		if ctx.Err() != nil {
			return ctx.Err()
		}

		date, err := d.source.NextDividendDate(ctx, instrument.YahooSymbol)
		if err != nil {
			d.logger.Warn().Err(err).
				Str("symbol", instrument.YahooSymbol).
				Msg("dividend lookup failed, keeping previous date")
			continue
		}
		if !dateChanged(instrument.NextDividendDate, date) {
			continue
		}
		if err := d.repo.UpdateNextDividendDate(ctx, instrument.ID, date); err != nil {
			d.logger.Error().Err(err).
				Str("symbol", instrument.YahooSymbol).
				Msg("failed to store dividend date")
			continue
		}
		updated[instrument.UserID]++
	}

	// One audit entry per user per run, not one per instrument.
	for userID, count := range updated {
		d.audit.Record(ctx, store.AuditEntry{
			Message:     "Dividend dates refreshed",
			Description: "updated upcoming dividend dates from market data",
			Category:    store.CategoryJob,
			UserID:      userID,
			Extra:       map[string]any{"instruments_updated": count},
		})
	}
	return nil
}

func dateChanged(prev, next *time.Time) bool {
	if prev == nil && next == nil {
		return false
	}
	if prev == nil || next == nil {
		return true
	}
	return !prev.Equal(*next)
}
