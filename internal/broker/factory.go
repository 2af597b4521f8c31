package broker

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tradehook/internal/models"
)

type clientKey struct {
	userID uuid.UUID
	mode   models.Mode
}

// Factory hands out one gateway per (user, mode). Reuse matters: the
// per-account rate limiter and session token live on the client, so the
// executor and the reconciler must share an instance to share the budget.
type Factory struct {
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[clientKey]*Client
}

// NewFactory creates a gateway factory.
func NewFactory(cfg Config, logger zerolog.Logger) *Factory {
	return &Factory{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[clientKey]*Client),
	}
}

// ForUser returns the cached gateway for the user's current mode, creating
// one on first use.
func (f *Factory) ForUser(user *models.User) (Gateway, error) {
	key := clientKey{userID: user.ID, mode: user.Settings.Mode}

	f.mu.Lock()
	defer f.mu.Unlock()

	if client, ok := f.clients[key]; ok {
		return client, nil
	}

	client, err := NewClientForUser(user, f.cfg, f.logger)
	if err != nil {
		return nil, err
	}
	f.clients[key] = client
	return client, nil
}

// Invalidate drops the cached gateway for a user, e.g. after a credential
// change.
func (f *Factory) Invalidate(userID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, client := range f.clients {
		if key.userID == userID {
			client.Close()
			delete(f.clients, key)
		}
	}
}

// Close releases every cached gateway.
func (f *Factory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, client := range f.clients {
		client.Close()
		delete(f.clients, key)
	}
}
