package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradehook/internal/broker"
	"tradehook/internal/models"
	"tradehook/internal/store"
)

type fakeRepo struct {
	mu          sync.Mutex
	users       []*models.User
	instruments []*models.Instrument
	orders      map[uuid.UUID]*models.LocalOrder
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{orders: make(map[uuid.UUID]*models.LocalOrder)}
}

func (r *fakeRepo) CreateUser(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, user)
	return nil
}

func (r *fakeRepo) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return nil, nil
}

func (r *fakeRepo) UserByWebhookSecret(ctx context.Context, secret string) (*models.User, error) {
	return nil, nil
}

func (r *fakeRepo) Users(ctx context.Context) ([]models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.User, len(r.users))
	for i, u := range r.users {
		out[i] = *u
	}
	return out, nil
}

func (r *fakeRepo) CreateInstrument(ctx context.Context, instrument *models.Instrument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instruments = append(r.instruments, instrument)
	return nil
}

func (r *fakeRepo) InstrumentByMarketAndSymbol(ctx context.Context, userID uuid.UUID, marketAndSymbol string) (*models.Instrument, error) {
	return nil, nil
}

func (r *fakeRepo) InstrumentsWithYahooSymbol(ctx context.Context) ([]models.Instrument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Instrument
	for _, inst := range r.instruments {
		if inst.YahooSymbol != "" {
			out = append(out, *inst)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpdateNextDividendDate(ctx context.Context, instrumentID uuid.UUID, date *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inst := range r.instruments {
		if inst.ID == instrumentID {
			inst.NextDividendDate = date
		}
	}
	return nil
}

func (r *fakeRepo) CreateOrder(ctx context.Context, order *models.LocalOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *order
	r.orders[order.ID] = &copied
	return nil
}

func (r *fakeRepo) MostRecentOrderForInstrument(ctx context.Context, instrumentID uuid.UUID) (*models.LocalOrder, error) {
	return nil, nil
}

func (r *fakeRepo) OpenOrdersForUser(ctx context.Context, userID uuid.UUID) ([]models.LocalOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.LocalOrder
	for _, o := range r.orders {
		if o.UserID == userID && o.IsOpen {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (r *fakeRepo) Orders(ctx context.Context) ([]models.LocalOrder, error) {
	return nil, nil
}

func (r *fakeRepo) SetOrderDealID(ctx context.Context, orderID uuid.UUID, dealID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[orderID]; ok {
		o.DealID = dealID
	}
	return nil
}

func (r *fakeRepo) DeleteOrder(ctx context.Context, orderID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.orders, orderID)
	return nil
}

func (r *fakeRepo) DeleteOrdersOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for id, o := range r.orders {
		if o.CreatedAt.Before(cutoff) {
			delete(r.orders, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *fakeRepo) Close() error { return nil }

func (r *fakeRepo) order(id uuid.UUID) *models.LocalOrder {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[id]; ok {
		copied := *o
		return &copied
	}
	return nil
}

func (r *fakeRepo) orderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

var _ store.Repository = (*fakeRepo)(nil)

type fakeAudit struct {
	mu      sync.Mutex
	entries []store.AuditEntry
}

func (a *fakeAudit) Record(ctx context.Context, entry store.AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *fakeAudit) messages() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Message
	}
	return out
}

var _ store.AuditSink = (*fakeAudit)(nil)

type fakeGateway struct {
	mu sync.Mutex

	positions     []broker.Position
	workingOrders []broker.WorkingOrder
	workingErr    error
	confirmations map[string]*broker.DealConfirmation

	deletedWorking []string
}

func (g *fakeGateway) GetPositions(ctx context.Context) ([]broker.Position, error) {
	return g.positions, nil
}

func (g *fakeGateway) GetWorkingOrders(ctx context.Context) ([]broker.WorkingOrder, error) {
	return g.workingOrders, g.workingErr
}

func (g *fakeGateway) CreatePosition(ctx context.Context, req broker.CreatePositionRequest) error {
	return nil
}

func (g *fakeGateway) CreateWorkingOrder(ctx context.Context, req broker.CreateWorkingOrderRequest) error {
	return nil
}

func (g *fakeGateway) DeleteWorkingOrder(ctx context.Context, dealID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deletedWorking = append(g.deletedWorking, dealID)
	return nil
}

func (g *fakeGateway) ConfirmDeal(ctx context.Context, dealReference string) (*broker.DealConfirmation, error) {
	return g.confirmations[dealReference], nil
}

func (g *fakeGateway) PositionByDealID(ctx context.Context, dealID string) (*broker.Position, error) {
	for i := range g.positions {
		if g.positions[i].DealID == dealID {
			return &g.positions[i], nil
		}
	}
	return nil, nil
}

func (g *fakeGateway) Close() {}

var _ broker.Gateway = (*fakeGateway)(nil)

type fakeProvider struct {
	gateway broker.Gateway
	err     error
}

func (p *fakeProvider) ForUser(user *models.User) (broker.Gateway, error) {
	return p.gateway, p.err
}

type fakeDividendSource struct {
	dates map[string]*time.Time
	err   error
}

func (s *fakeDividendSource) NextDividendDate(ctx context.Context, symbol string) (*time.Time, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.dates[symbol], nil
}
