package models

import (
	"time"

	"github.com/google/uuid"
)

// BrokerCredentials is one mode's set of broker API credentials.
type BrokerCredentials struct {
	APIKey    string
	Username  string
	Password  string
	AccountID string
}

// Complete reports whether every field needed to open a session is present.
func (c BrokerCredentials) Complete() bool {
	return c.APIKey != "" && c.Username != "" && c.Password != "" && c.AccountID != ""
}

// TradingSettings is a user's risk and execution configuration. Read-only to
// the core; the admin surface owns updates.
type TradingSettings struct {
	Mode Mode

	DemoWebhookSecret string
	LiveWebhookSecret string
	Demo              BrokerCredentials
	Live              BrokerCredentials

	OrderType OrderType

	CooldownPeriod time.Duration

	EnforceMaxAlertAge bool
	MaxAlertAge        time.Duration

	AvoidDividendDates bool

	EnforceMaxOpenOrders bool
	MaxOpenOrders        int

	MaxOrderAge time.Duration
}

// WebhookSecret returns the secret for the user's current mode.
func (s TradingSettings) WebhookSecret() string {
	if s.Mode == ModeLive {
		return s.LiveWebhookSecret
	}
	return s.DemoWebhookSecret
}

// Credentials returns the broker credentials for the user's current mode.
func (s TradingSettings) Credentials() BrokerCredentials {
	if s.Mode == ModeLive {
		return s.Live
	}
	return s.Demo
}

// User owns instruments and settings; alerts resolve to a user via the
// mode-specific webhook secret.
type User struct {
	ID       uuid.UUID
	Email    string
	Settings TradingSettings
}
