// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tradehook/internal/models"
)

// Repository is the persistence contract the core depends on. Lookups that
// find nothing return (nil, nil); every failure is a RepositoryError.
type Repository interface {
	// Users
	CreateUser(ctx context.Context, user *models.User) error
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UserByWebhookSecret(ctx context.Context, secret string) (*models.User, error)
	Users(ctx context.Context) ([]models.User, error)

	// Instruments
	CreateInstrument(ctx context.Context, instrument *models.Instrument) error
	InstrumentByMarketAndSymbol(ctx context.Context, userID uuid.UUID, marketAndSymbol string) (*models.Instrument, error)
	InstrumentsWithYahooSymbol(ctx context.Context) ([]models.Instrument, error)
	UpdateNextDividendDate(ctx context.Context, instrumentID uuid.UUID, date *time.Time) error

	// Local orders
	CreateOrder(ctx context.Context, order *models.LocalOrder) error
	MostRecentOrderForInstrument(ctx context.Context, instrumentID uuid.UUID) (*models.LocalOrder, error)
	OpenOrdersForUser(ctx context.Context, userID uuid.UUID) ([]models.LocalOrder, error)
	Orders(ctx context.Context) ([]models.LocalOrder, error)
	SetOrderDealID(ctx context.Context, orderID uuid.UUID, dealID string) error
	DeleteOrder(ctx context.Context, orderID uuid.UUID) error
	DeleteOrdersOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Lifecycle
	Close() error
}

// AuditEntry is one append-only audit record. Extra carries machine-readable
// context (deal ids, references, error codes) for the per-user log surface.
type AuditEntry struct {
	Message     string
	Description string
	Category    string
	UserID      uuid.UUID
	Extra       map[string]any
}

// AuditSink records audit entries. Calls are fire-and-forget from the
// pipeline's perspective: implementations swallow their own failures so a
// broken log surface never blocks trading logic.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry)
}

// Audit categories.
const (
	CategoryAlert = "alert"
	CategoryOrder = "order"
	CategoryError = "error"
	CategoryJob   = "job"
)
