package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "tradehook/internal/errors"
	"tradehook/internal/models"
)

// SQLiteStore implements Repository and AuditSink using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore creates a new SQLite-backed store.
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, apperrors.NewRepositoryError("open", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStore{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, apperrors.NewRepositoryError("init schema", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		mode TEXT NOT NULL DEFAULT 'DEMO',
		demo_webhook_secret TEXT NOT NULL DEFAULT '',
		live_webhook_secret TEXT NOT NULL DEFAULT '',
		demo_api_key TEXT NOT NULL DEFAULT '',
		demo_username TEXT NOT NULL DEFAULT '',
		demo_password TEXT NOT NULL DEFAULT '',
		demo_account_id TEXT NOT NULL DEFAULT '',
		live_api_key TEXT NOT NULL DEFAULT '',
		live_username TEXT NOT NULL DEFAULT '',
		live_password TEXT NOT NULL DEFAULT '',
		live_account_id TEXT NOT NULL DEFAULT '',
		order_type TEXT NOT NULL DEFAULT 'LIMIT',
		cooldown_seconds INTEGER NOT NULL DEFAULT 0,
		enforce_max_alert_age INTEGER NOT NULL DEFAULT 0,
		max_alert_age_seconds INTEGER NOT NULL DEFAULT 0,
		avoid_dividend_dates INTEGER NOT NULL DEFAULT 0,
		enforce_max_open_orders INTEGER NOT NULL DEFAULT 0,
		max_open_orders INTEGER NOT NULL DEFAULT 0,
		max_order_age_seconds INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS instruments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		market_and_symbol TEXT NOT NULL,
		epic TEXT NOT NULL DEFAULT '',
		yahoo_symbol TEXT NOT NULL DEFAULT '',
		atr_stop_loss_period INTEGER NOT NULL DEFAULT 1,
		atr_stop_loss_multiple_pct TEXT NOT NULL DEFAULT '100',
		atr_profit_target_period INTEGER NOT NULL DEFAULT 1,
		atr_profit_target_multiple_pct TEXT NOT NULL DEFAULT '100',
		max_position_size TEXT NOT NULL DEFAULT '0',
		opening_price_multiple_pct TEXT NOT NULL DEFAULT '100',
		price_multiplier TEXT NOT NULL DEFAULT '1',
		next_dividend_date DATETIME,
		last_alert_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, market_and_symbol),
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		instrument_id TEXT NOT NULL,
		deal_reference TEXT NOT NULL UNIQUE,
		deal_id TEXT NOT NULL DEFAULT '',
		is_open INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id),
		FOREIGN KEY (instrument_id) REFERENCES instruments(id)
	);
	CREATE INDEX IF NOT EXISTS idx_orders_instrument ON orders(instrument_id, created_at);

	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		message TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		extra TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_log(user_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateUser inserts a user with settings.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *models.User) error {
	set := user.Settings
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (
			id, email, mode, demo_webhook_secret, live_webhook_secret,
			demo_api_key, demo_username, demo_password, demo_account_id,
			live_api_key, live_username, live_password, live_account_id,
			order_type, cooldown_seconds, enforce_max_alert_age,
			max_alert_age_seconds, avoid_dividend_dates,
			enforce_max_open_orders, max_open_orders, max_order_age_seconds
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID.String(), user.Email, string(set.Mode),
		set.DemoWebhookSecret, set.LiveWebhookSecret,
		set.Demo.APIKey, set.Demo.Username, set.Demo.Password, set.Demo.AccountID,
		set.Live.APIKey, set.Live.Username, set.Live.Password, set.Live.AccountID,
		string(set.OrderType), int64(set.CooldownPeriod.Seconds()),
		boolToInt(set.EnforceMaxAlertAge), int64(set.MaxAlertAge.Seconds()),
		boolToInt(set.AvoidDividendDates),
		boolToInt(set.EnforceMaxOpenOrders), set.MaxOpenOrders,
		int64(set.MaxOrderAge.Seconds()),
	)
	if err != nil {
		return apperrors.NewRepositoryError("create user", err)
	}
	return nil
}

const userColumns = `
	id, email, mode, demo_webhook_secret, live_webhook_secret,
	demo_api_key, demo_username, demo_password, demo_account_id,
	live_api_key, live_username, live_password, live_account_id,
	order_type, cooldown_seconds, enforce_max_alert_age,
	max_alert_age_seconds, avoid_dividend_dates,
	enforce_max_open_orders, max_open_orders, max_order_age_seconds`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	var id, mode, orderType string
	var cooldown, maxAlertAge, maxOrderAge int64
	var enforceAge, avoidDiv, enforceMax int

	err := row.Scan(
		&id, &u.Email, &mode,
		&u.Settings.DemoWebhookSecret, &u.Settings.LiveWebhookSecret,
		&u.Settings.Demo.APIKey, &u.Settings.Demo.Username,
		&u.Settings.Demo.Password, &u.Settings.Demo.AccountID,
		&u.Settings.Live.APIKey, &u.Settings.Live.Username,
		&u.Settings.Live.Password, &u.Settings.Live.AccountID,
		&orderType, &cooldown, &enforceAge,
		&maxAlertAge, &avoidDiv,
		&enforceMax, &u.Settings.MaxOpenOrders, &maxOrderAge,
	)
	if err != nil {
		return nil, err
	}

	u.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	u.Settings.Mode = models.Mode(mode)
	u.Settings.OrderType = models.OrderType(orderType)
	u.Settings.CooldownPeriod = time.Duration(cooldown) * time.Second
	u.Settings.EnforceMaxAlertAge = enforceAge != 0
	u.Settings.MaxAlertAge = time.Duration(maxAlertAge) * time.Second
	u.Settings.AvoidDividendDates = avoidDiv != 0
	u.Settings.EnforceMaxOpenOrders = enforceMax != 0
	u.Settings.MaxOrderAge = time.Duration(maxOrderAge) * time.Second
	return &u, nil
}

// UserByID retrieves one user, or (nil, nil) when absent.
func (s *SQLiteStore) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id.String())
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewRepositoryError("user by id", err)
	}
	return user, nil
}

// UserByWebhookSecret resolves a user whose mode-specific secret matches.
func (s *SQLiteStore) UserByWebhookSecret(ctx context.Context, secret string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE (mode = 'DEMO' AND demo_webhook_secret = ?)
		   OR (mode = 'LIVE' AND live_webhook_secret = ?)
		LIMIT 1`, secret, secret)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewRepositoryError("user by webhook secret", err)
	}
	return user, nil
}

// Users lists every user.
func (s *SQLiteStore) Users(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY email`)
	if err != nil {
		return nil, apperrors.NewRepositoryError("list users", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, apperrors.NewRepositoryError("scan user", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewRepositoryError("list users", err)
	}
	return users, nil
}

// CreateInstrument inserts an instrument configuration.
func (s *SQLiteStore) CreateInstrument(ctx context.Context, inst *models.Instrument) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instruments (
			id, user_id, market_and_symbol, epic, yahoo_symbol,
			atr_stop_loss_period, atr_stop_loss_multiple_pct,
			atr_profit_target_period, atr_profit_target_multiple_pct,
			max_position_size, opening_price_multiple_pct, price_multiplier,
			next_dividend_date, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID.String(), inst.UserID.String(), inst.MarketAndSymbol,
		inst.Epic, inst.YahooSymbol,
		inst.ATRStopLossPeriod, inst.ATRStopLossMultiplePct.String(),
		inst.ATRProfitTargetPeriod, inst.ATRProfitTargetMultiplePct.String(),
		inst.MaxPositionSize.String(), inst.OpeningPriceMultiplePct.String(),
		inst.PriceMultiplier.String(),
		inst.NextDividendDate, inst.CreatedAt,
	)
	if err != nil {
		return apperrors.NewRepositoryError("create instrument", err)
	}
	return nil
}

const instrumentColumns = `
	id, user_id, market_and_symbol, epic, yahoo_symbol,
	atr_stop_loss_period, atr_stop_loss_multiple_pct,
	atr_profit_target_period, atr_profit_target_multiple_pct,
	max_position_size, opening_price_multiple_pct, price_multiplier,
	next_dividend_date, last_alert_at, created_at`

func scanInstrument(row interface{ Scan(...any) error }) (*models.Instrument, error) {
	var inst models.Instrument
	var id, userID string
	var stopMult, targetMult, maxSize, openMult, priceMult string
	var nextDiv, lastAlert sql.NullTime

	err := row.Scan(
		&id, &userID, &inst.MarketAndSymbol, &inst.Epic, &inst.YahooSymbol,
		&inst.ATRStopLossPeriod, &stopMult,
		&inst.ATRProfitTargetPeriod, &targetMult,
		&maxSize, &openMult, &priceMult,
		&nextDiv, &lastAlert, &inst.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if inst.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if inst.UserID, err = uuid.Parse(userID); err != nil {
		return nil, err
	}
	for _, field := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{stopMult, &inst.ATRStopLossMultiplePct},
		{targetMult, &inst.ATRProfitTargetMultiplePct},
		{maxSize, &inst.MaxPositionSize},
		{openMult, &inst.OpeningPriceMultiplePct},
		{priceMult, &inst.PriceMultiplier},
	} {
		if *field.dst, err = decimal.NewFromString(field.raw); err != nil {
			return nil, err
		}
	}
	if nextDiv.Valid {
		t := nextDiv.Time
		inst.NextDividendDate = &t
	}
	if lastAlert.Valid {
		t := lastAlert.Time
		inst.LastAlertAt = &t
	}
	return &inst, nil
}

// InstrumentByMarketAndSymbol resolves an instrument for a user, or
// (nil, nil) when not configured.
func (s *SQLiteStore) InstrumentByMarketAndSymbol(ctx context.Context, userID uuid.UUID, marketAndSymbol string) (*models.Instrument, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+instrumentColumns+` FROM instruments
		WHERE user_id = ? AND market_and_symbol = ?`,
		userID.String(), marketAndSymbol)
	inst, err := scanInstrument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewRepositoryError("instrument lookup", err)
	}
	return inst, nil
}

// InstrumentsWithYahooSymbol lists instruments eligible for dividend-date
// refresh.
func (s *SQLiteStore) InstrumentsWithYahooSymbol(ctx context.Context) ([]models.Instrument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+instrumentColumns+` FROM instruments
		WHERE yahoo_symbol != '' ORDER BY user_id`)
	if err != nil {
		return nil, apperrors.NewRepositoryError("instruments with yahoo symbol", err)
	}
	defer rows.Close()

	var instruments []models.Instrument
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, apperrors.NewRepositoryError("scan instrument", err)
		}
		instruments = append(instruments, *inst)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewRepositoryError("instruments with yahoo symbol", err)
	}
	return instruments, nil
}

// UpdateNextDividendDate sets or clears an instrument's next dividend date.
func (s *SQLiteStore) UpdateNextDividendDate(ctx context.Context, instrumentID uuid.UUID, date *time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE instruments SET next_dividend_date = ? WHERE id = ?`,
		date, instrumentID.String())
	if err != nil {
		return apperrors.NewRepositoryError("update dividend date", err)
	}
	return nil
}

// CreateOrder inserts a local order row.
func (s *SQLiteStore) CreateOrder(ctx context.Context, order *models.LocalOrder) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, instrument_id, deal_reference, deal_id, is_open, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		order.ID.String(), order.UserID.String(), order.InstrumentID.String(),
		order.DealReference, order.DealID, boolToInt(order.IsOpen), order.CreatedAt,
	)
	if err != nil {
		return apperrors.NewRepositoryError("create order", err)
	}
	return nil
}

const orderColumns = `id, user_id, instrument_id, deal_reference, deal_id, is_open, created_at`

func scanOrder(row interface{ Scan(...any) error }) (*models.LocalOrder, error) {
	var o models.LocalOrder
	var id, userID, instrumentID string
	var isOpen int

	err := row.Scan(&id, &userID, &instrumentID, &o.DealReference, &o.DealID, &isOpen, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	if o.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if o.UserID, err = uuid.Parse(userID); err != nil {
		return nil, err
	}
	if o.InstrumentID, err = uuid.Parse(instrumentID); err != nil {
		return nil, err
	}
	o.IsOpen = isOpen != 0
	return &o, nil
}

// MostRecentOrderForInstrument returns the latest order for an instrument,
// or (nil, nil) when none exists.
func (s *SQLiteStore) MostRecentOrderForInstrument(ctx context.Context, instrumentID uuid.UUID) (*models.LocalOrder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE instrument_id = ? ORDER BY created_at DESC LIMIT 1`,
		instrumentID.String())
	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewRepositoryError("most recent order", err)
	}
	return order, nil
}

// OpenOrdersForUser lists a user's open orders.
func (s *SQLiteStore) OpenOrdersForUser(ctx context.Context, userID uuid.UUID) ([]models.LocalOrder, error) {
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE user_id = ? AND is_open = 1 ORDER BY created_at`, userID.String())
}

// Orders lists every tracked order.
func (s *SQLiteStore) Orders(ctx context.Context) ([]models.LocalOrder, error) {
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at`)
}

func (s *SQLiteStore) queryOrders(ctx context.Context, query string, args ...any) ([]models.LocalOrder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewRepositoryError("list orders", err)
	}
	defer rows.Close()

	var orders []models.LocalOrder
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, apperrors.NewRepositoryError("scan order", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewRepositoryError("list orders", err)
	}
	return orders, nil
}

// SetOrderDealID backfills the broker-assigned deal id.
func (s *SQLiteStore) SetOrderDealID(ctx context.Context, orderID uuid.UUID, dealID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE orders SET deal_id = ? WHERE id = ?`, dealID, orderID.String())
	if err != nil {
		return apperrors.NewRepositoryError("set order deal id", err)
	}
	return nil
}

// DeleteOrder removes a local order row.
func (s *SQLiteStore) DeleteOrder(ctx context.Context, orderID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, orderID.String())
	if err != nil {
		return apperrors.NewRepositoryError("delete order", err)
	}
	return nil
}

// DeleteOrdersOlderThan bounds growth from orders that never reached a
// terminal state. Returns the number of rows removed.
func (s *SQLiteStore) DeleteOrdersOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM orders WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, apperrors.NewRepositoryError("delete stale orders", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.NewRepositoryError("delete stale orders", err)
	}
	return n, nil
}

// Record appends an audit entry. Failures are logged and swallowed; audit
// writes never block trading logic.
func (s *SQLiteStore) Record(ctx context.Context, entry AuditEntry) {
	var extra []byte
	if entry.Extra != nil {
		extra, _ = json.Marshal(entry.Extra)
	}
	userID := ""
	if entry.UserID != uuid.Nil {
		userID = entry.UserID.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (message, description, category, user_id, extra)
		VALUES (?, ?, ?, ?, ?)`,
		entry.Message, entry.Description, entry.Category, userID, string(extra))
	if err != nil {
		s.logger.Warn().Err(err).Str("message", entry.Message).Msg("Failed to record audit entry")
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure SQLiteStore implements both contracts
var (
	_ Repository = (*SQLiteStore)(nil)
	_ AuditSink  = (*SQLiteStore)(nil)
)
