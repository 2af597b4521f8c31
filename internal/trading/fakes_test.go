package trading

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradehook/internal/broker"
	"tradehook/internal/models"
	"tradehook/internal/store"
)

// fakeRepo is an in-memory store.Repository for pipeline tests.
type fakeRepo struct {
	mu          sync.Mutex
	users       []*models.User
	instruments []*models.Instrument
	orders      map[uuid.UUID]*models.LocalOrder

	createOrderErr error
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
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) UserByWebhookSecret(ctx context.Context, secret string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if secret != "" && u.Settings.WebhookSecret() == secret {
			return u, nil
		}
	}
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
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inst := range r.instruments {
		if inst.UserID == userID && inst.MarketAndSymbol == marketAndSymbol {
			return inst, nil
		}
	}
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
	if r.createOrderErr != nil {
		return r.createOrderErr
	}
	copied := *order
	r.orders[order.ID] = &copied
	return nil
}

func (r *fakeRepo) MostRecentOrderForInstrument(ctx context.Context, instrumentID uuid.UUID) (*models.LocalOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var recent *models.LocalOrder
	for _, o := range r.orders {
		if o.InstrumentID != instrumentID {
			continue
		}
		if recent == nil || o.CreatedAt.After(recent.CreatedAt) {
			recent = o
		}
	}
	if recent == nil {
		return nil, nil
	}
	copied := *recent
	return &copied, nil
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
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.LocalOrder
	for _, o := range r.orders {
		out = append(out, *o)
	}
	return out, nil
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

func (r *fakeRepo) orderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

var _ store.Repository = (*fakeRepo)(nil)

// fakeAudit records audit entries for assertions.
type fakeAudit struct {
	mu      sync.Mutex
	entries []store.AuditEntry
}

func (a *fakeAudit) Record(ctx context.Context, entry store.AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *fakeAudit) lastMessage() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.entries) == 0 {
		return ""
	}
	return a.entries[len(a.entries)-1].Message
}

func (a *fakeAudit) lastCode() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.entries) == 0 {
		return ""
	}
	code, _ := a.entries[len(a.entries)-1].Extra["code"].(string)
	return code
}

var _ store.AuditSink = (*fakeAudit)(nil)

// fakeGateway is a canned broker.Gateway.
type fakeGateway struct {
	mu sync.Mutex

	positions     []broker.Position
	positionsErr  error
	workingOrders []broker.WorkingOrder
	workingErr    error

	createPositionErr error
	createWorkingErr  error
	confirmation      *broker.DealConfirmation
	confirmErr        error

	createdPositions []broker.CreatePositionRequest
	createdWorking   []broker.CreateWorkingOrderRequest
	deletedWorking   []string
}

func (g *fakeGateway) GetPositions(ctx context.Context) ([]broker.Position, error) {
	return g.positions, g.positionsErr
}

func (g *fakeGateway) GetWorkingOrders(ctx context.Context) ([]broker.WorkingOrder, error) {
	return g.workingOrders, g.workingErr
}

func (g *fakeGateway) CreatePosition(ctx context.Context, req broker.CreatePositionRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createPositionErr != nil {
		return g.createPositionErr
	}
	g.createdPositions = append(g.createdPositions, req)
	return nil
}

func (g *fakeGateway) CreateWorkingOrder(ctx context.Context, req broker.CreateWorkingOrderRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createWorkingErr != nil {
		return g.createWorkingErr
	}
	g.createdWorking = append(g.createdWorking, req)
	return nil
}

func (g *fakeGateway) DeleteWorkingOrder(ctx context.Context, dealID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deletedWorking = append(g.deletedWorking, dealID)
	return nil
}

func (g *fakeGateway) ConfirmDeal(ctx context.Context, dealReference string) (*broker.DealConfirmation, error) {
	if g.confirmErr != nil {
		return nil, g.confirmErr
	}
	return g.confirmation, nil
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

// fakeProvider returns the same gateway for every user.
type fakeProvider struct {
	gateway broker.Gateway
	err     error
}

func (p *fakeProvider) ForUser(user *models.User) (broker.Gateway, error) {
	return p.gateway, p.err
}
