package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tradehook/internal/broker"
	"tradehook/internal/models"
	"tradehook/internal/store"
)

// GatewayProvider hands out the broker gateway for a user. Satisfied by
// broker.Factory.
type GatewayProvider interface {
	ForUser(user *models.User) (broker.Gateway, error)
}

// Reconciler resolves open local orders against broker state: it adopts deal
// ids for orders confirmed since submission, removes rows for rejected and
// converted orders, and expires orders older than the user's maximum order
// age. Each run is idempotent; a row is only touched when broker state says
// its lifecycle moved on.
type Reconciler struct {
	repo     store.Repository
	audit    store.AuditSink
	gateways GatewayProvider
	logger   zerolog.Logger
	interval time.Duration
	workers  int
	now      func() time.Time
}

// NewReconciler creates the reconciliation job. workers bounds how many
// users are reconciled concurrently.
func NewReconciler(repo store.Repository, audit store.AuditSink, gateways GatewayProvider, interval time.Duration, workers int, logger zerolog.Logger) *Reconciler {
	if workers < 1 {
		workers = 1
	}
	return &Reconciler{
		repo:     repo,
		audit:    audit,
		gateways: gateways,
		logger:   logger.With().Str("job", "reconcile").Logger(),
		interval: interval,
		workers:  workers,
		now:      time.Now,
	}
}

func (r *Reconciler) Name() string            { return "reconcile" }
func (r *Reconciler) Interval() time.Duration { return r.interval }

// Run reconciles every user's open orders.
func (r *Reconciler) Run(ctx context.Context) error {
	users, err := r.repo.Users(ctx)
	if err != nil {
		return err
	}

	sem := make(chan struct{}, r.workers)
	var wg sync.WaitGroup
	for i := range users {
		user := &users[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			r.reconcileUser(ctx, user)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// reconcileUser handles one user's open orders. Per-user failures are logged
// and skipped so one broken account never stalls the rest.
func (r *Reconciler) reconcileUser(ctx context.Context, user *models.User) {
	orders, err := r.repo.OpenOrdersForUser(ctx, user.ID)
	if err != nil {
		r.logger.Error().Err(err).Str("user_id", user.ID.String()).Msg("failed to list open orders")
		return
	}
	if len(orders) == 0 {
		return
	}

	gateway, err := r.gateways.ForUser(user)
	if err != nil {
		r.logger.Warn().Err(err).Str("user_id", user.ID.String()).Msg("no gateway for user, skipping reconciliation")
		return
	}

	working, err := gateway.GetWorkingOrders(ctx)
	if err != nil {
		// Without a trustworthy view of resting orders, any conversion
		// verdict would be a guess. Try again next tick.
		r.logger.Warn().Err(err).Str("user_id", user.ID.String()).Msg("failed to fetch working orders, skipping user")
		return
	}
	resting := make(map[string]bool, len(working))
	for _, w := range working {
		resting[w.DealID] = true
	}

	for i := range orders {
		order := &orders[i]
		if r.expireIfStale(ctx, user, gateway, order, resting) {
			continue
		}
		if order.DealID == "" {
			if !r.adoptDealID(ctx, user, gateway, order) {
				continue
			}
		}
		if !resting[order.DealID] {
			r.resolveDeparted(ctx, user, gateway, order)
		}
	}
}

// expireIfStale removes an order that outlived the user's maximum order age.
// The broker-side delete is best effort; the local row goes regardless.
func (r *Reconciler) expireIfStale(ctx context.Context, user *models.User, gateway broker.Gateway, order *models.LocalOrder, resting map[string]bool) bool {
	maxAge := user.Settings.MaxOrderAge
	if maxAge <= 0 || r.now().Sub(order.CreatedAt) <= maxAge {
		return false
	}

	if order.DealID != "" && resting[order.DealID] {
		if err := gateway.DeleteWorkingOrder(ctx, order.DealID); err != nil {
			r.logger.Warn().Err(err).
				Str("deal_id", order.DealID).
				Msg("failed to delete expired working order at broker")
		}
	}
	if err := r.repo.DeleteOrder(ctx, order.ID); err != nil {
		r.logger.Error().Err(err).Str("deal_reference", order.DealReference).Msg("failed to delete expired order")
		return true
	}
	r.audit.Record(ctx, store.AuditEntry{
		Message:     "Order expired",
		Description: "order exceeded the maximum order age without filling",
		Category:    store.CategoryJob,
		UserID:      user.ID,
		Extra: map[string]any{
			"deal_reference": order.DealReference,
			"deal_id":        order.DealID,
			"age":            r.now().Sub(order.CreatedAt).String(),
		},
	})
	return true
}

// adoptDealID resolves an order that was never confirmed at submission time.
// Returns true when the order now has a deal id and should continue through
// conversion checks.
func (r *Reconciler) adoptDealID(ctx context.Context, user *models.User, gateway broker.Gateway, order *models.LocalOrder) bool {
	confirmation, err := gateway.ConfirmDeal(ctx, order.DealReference)
	if err != nil {
		r.logger.Warn().Err(err).Str("deal_reference", order.DealReference).Msg("confirmation lookup failed")
		return false
	}
	if confirmation == nil {
		// Broker has no verdict yet. Leave the row; expiry will collect it
		// if the broker never answers.
		return false
	}

	switch confirmation.Status {
	case models.DealStatusRejected:
		if err := r.repo.DeleteOrder(ctx, order.ID); err != nil {
			r.logger.Error().Err(err).Str("deal_reference", order.DealReference).Msg("failed to delete rejected order")
			return false
		}
		r.audit.Record(ctx, store.AuditEntry{
			Message:     "Order rejected by broker",
			Description: confirmation.Reason,
			Category:    store.CategoryJob,
			UserID:      user.ID,
			Extra: map[string]any{
				"deal_reference": order.DealReference,
				"reason":         confirmation.Reason,
			},
		})
		return false
	case models.DealStatusAccepted:
		if confirmation.DealID == "" {
			return false
		}
		if err := r.repo.SetOrderDealID(ctx, order.ID, confirmation.DealID); err != nil {
			r.logger.Error().Err(err).Str("deal_reference", order.DealReference).Msg("failed to record deal id")
			return false
		}
		order.DealID = confirmation.DealID
		return true
	default:
		return false
	}
}

// resolveDeparted handles an order whose deal id no longer appears among the
// broker's resting orders: it either filled into a position or was cancelled
// broker-side. Either way the local row's job is done.
func (r *Reconciler) resolveDeparted(ctx context.Context, user *models.User, gateway broker.Gateway, order *models.LocalOrder) {
	position, err := gateway.PositionByDealID(ctx, order.DealID)
	if err != nil {
		r.logger.Warn().Err(err).Str("deal_id", order.DealID).Msg("position lookup failed, retrying next run")
		return
	}

	if err := r.repo.DeleteOrder(ctx, order.ID); err != nil {
		r.logger.Error().Err(err).Str("deal_reference", order.DealReference).Msg("failed to delete reconciled order")
		return
	}

	entry := store.AuditEntry{
		Category: store.CategoryJob,
		UserID:   user.ID,
		Extra: map[string]any{
			"deal_reference": order.DealReference,
			"deal_id":        order.DealID,
		},
	}
	if position != nil {
		entry.Message = "Order converted to position"
		entry.Description = string(position.Direction) + " " + position.Epic + " @ " + position.Level.String()
	} else {
		entry.Message = "Order cancelled at broker"
		entry.Description = "working order left the book without filling"
	}
	r.audit.Record(ctx, entry)
}
