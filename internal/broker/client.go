package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tradehook/internal/errors"
	"tradehook/internal/logging"
	"tradehook/internal/models"
	"tradehook/pkg/utils"
)

// Gateway is the typed surface the pipeline uses to talk to the broker.
type Gateway interface {
	GetPositions(ctx context.Context) ([]Position, error)
	GetWorkingOrders(ctx context.Context) ([]WorkingOrder, error)
	CreatePosition(ctx context.Context, req CreatePositionRequest) error
	CreateWorkingOrder(ctx context.Context, req CreateWorkingOrderRequest) error
	DeleteWorkingOrder(ctx context.Context, dealID string) error
	ConfirmDeal(ctx context.Context, dealReference string) (*DealConfirmation, error)
	PositionByDealID(ctx context.Context, dealID string) (*Position, error)
	Close()
}

// Config holds gateway construction parameters shared across accounts.
type Config struct {
	DemoBaseURL       string
	LiveBaseURL       string
	RequestsPerMinute int
	RequestTimeout    time.Duration
	ReadCacheTTL      time.Duration
}

// Client is the HTTP implementation of Gateway for one account. Every call
// attaches the account's session token and is retried under one policy:
// network failures and 5xx/429 retry with exponential backoff, other 4xx
// surface immediately, and a 401 triggers exactly one token refresh and one
// repeat of the request.
type Client struct {
	auth    *AuthClient
	httpc   *http.Client
	baseURL string
	apiKey  string
	account string
	limiter *rate.Limiter
	cache   *ReadCache
	breaker *utils.Breaker
	logger  zerolog.Logger
	retry   utils.RetryConfig
}

// NewClientForUser builds a gateway using the user's mode-specific
// credentials and base URL.
func NewClientForUser(user *models.User, cfg Config, logger zerolog.Logger) (*Client, error) {
	creds := user.Settings.Credentials()
	if !creds.Complete() {
		return nil, errors.Wrapf(errors.ErrMissingCredentials, "user %s mode %s", user.ID, user.Settings.Mode)
	}

	baseURL := cfg.DemoBaseURL
	if user.Settings.Mode == models.ModeLive {
		baseURL = cfg.LiveBaseURL
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpc := &http.Client{Timeout: timeout}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}

	retry := utils.DefaultRetryConfig()
	retry.ShouldRetry = errors.IsRetryable

	// Only infrastructure failures trip the breaker; auth failures and
	// deal rejections say nothing about broker availability.
	breakerCfg := utils.DefaultBreakerConfig()
	breakerCfg.IsFailure = func(err error) bool {
		return err != nil && errors.IsRetryable(err)
	}

	auth := NewAuthClient(AuthConfig{
		BaseURL:    baseURL,
		APIKey:     creds.APIKey,
		Identifier: creds.Username,
		Password:   creds.Password,
		HTTPClient: httpc,
	}, logger)

	return &Client{
		auth:    auth,
		httpc:   httpc,
		baseURL: baseURL,
		apiKey:  creds.APIKey,
		account: creds.AccountID,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		cache:   NewReadCache(cfg.ReadCacheTTL),
		breaker: utils.NewBreaker(breakerCfg),
		logger:  logger.With().Str("component", "broker_gateway").Str("account_id", creds.AccountID).Logger(),
		retry:   retry,
	}, nil
}

// Close releases idle connections held by the underlying transport.
func (c *Client) Close() {
	c.httpc.CloseIdleConnections()
}

// do performs one gateway operation: admission control, retry loop, auth
// header attachment, 401 refresh, and error classification.
func (c *Client) do(ctx context.Context, method, path, version string, body, out any) error {
	// Admission control: block until the per-account budget allows the call
	// rather than failing under burst.
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := c.breaker.Allow(); err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "failed to encode %s %s request", method, path)
		}
	}

	_, err := utils.RetryWithResult(ctx, c.retry, func() (struct{}, error) {
		return struct{}{}, c.attempt(ctx, method, path, version, payload, out)
	})
	c.breaker.Record(err)
	return err
}

func (c *Client) attempt(ctx context.Context, method, path, version string, payload []byte, out any) error {
	token, err := c.auth.Token(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.send(ctx, method, path, version, payload, token)
	logging.LogAPICall(c.logger, method, path, time.Since(start), err)
	if err != nil {
		return err
	}

	// One refresh, one repeat. A second 401 is terminal for this call.
	if resp.statusCode == http.StatusUnauthorized {
		c.auth.Invalidate(token)
		token, err = c.auth.Token(ctx)
		if err != nil {
			return err
		}
		resp, err = c.send(ctx, method, path, version, payload, token)
		if err != nil {
			return err
		}
		if resp.statusCode == http.StatusUnauthorized {
			return errors.NewAuthError(resp.errorCode(), nil)
		}
	}

	if resp.statusCode >= 400 {
		return errors.NewAPIError(resp.statusCode, resp.errorCode())
	}

	if out != nil && len(resp.body) > 0 {
		if err := json.Unmarshal(resp.body, out); err != nil {
			return errors.NewAPIError(resp.statusCode, "PARSE_ERROR")
		}
	}
	return nil
}

type response struct {
	statusCode int
	body       []byte
}

func (r response) errorCode() string {
	var apiErr apiErrorResponse
	_ = json.Unmarshal(r.body, &apiErr)
	return apiErr.ErrorCode
}

func (c *Client) send(ctx context.Context, method, path, version string, payload []byte, token Token) (response, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return response{}, errors.Wrapf(err, "failed to build %s %s request", method, path)
	}
	req.Header.Set("X-IG-API-KEY", c.apiKey)
	req.Header.Set("IG-ACCOUNT-ID", token.AccountID)
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Version", version)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return response{}, errors.NewTransportError(method+" "+path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, errors.NewTransportError(method+" "+path, err)
	}
	return response{statusCode: resp.StatusCode, body: body}, nil
}

// GetPositions retrieves open positions for the account.
func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	key := CacheKey{Operation: "positions", AccountID: c.account}
	if cached, ok := c.cache.Get(key); ok {
		return cached.([]Position), nil
	}

	var body positionsResponse
	if err := c.do(ctx, http.MethodGet, "/positions", "2", nil, &body); err != nil {
		return nil, err
	}

	positions := make([]Position, len(body.Positions))
	for i, env := range body.Positions {
		positions[i] = env.flatten()
	}
	c.cache.Set(key, positions)
	return positions, nil
}

// GetWorkingOrders retrieves resting orders for the account.
func (c *Client) GetWorkingOrders(ctx context.Context) ([]WorkingOrder, error) {
	key := CacheKey{Operation: "workingorders", AccountID: c.account}
	if cached, ok := c.cache.Get(key); ok {
		return cached.([]WorkingOrder), nil
	}

	var body workingOrdersResponse
	if err := c.do(ctx, http.MethodGet, "/workingorders", "2", nil, &body); err != nil {
		return nil, err
	}

	orders := make([]WorkingOrder, len(body.WorkingOrders))
	for i, env := range body.WorkingOrders {
		orders[i] = env.flatten()
	}
	c.cache.Set(key, orders)
	return orders, nil
}

// CreatePosition opens a market position.
func (c *Client) CreatePosition(ctx context.Context, req CreatePositionRequest) error {
	var body createDealResponse
	if err := c.do(ctx, http.MethodPost, "/positions/otc", "2", req, &body); err != nil {
		return err
	}
	c.cache.Invalidate(c.account)
	return nil
}

// CreateWorkingOrder places a resting limit order.
func (c *Client) CreateWorkingOrder(ctx context.Context, req CreateWorkingOrderRequest) error {
	var body createDealResponse
	if err := c.do(ctx, http.MethodPost, "/workingorders/otc", "2", req, &body); err != nil {
		return err
	}
	c.cache.Invalidate(c.account)
	return nil
}

// DeleteWorkingOrder removes a resting order by its broker deal id.
func (c *Client) DeleteWorkingOrder(ctx context.Context, dealID string) error {
	if err := c.do(ctx, http.MethodDelete, "/workingorders/otc/"+dealID, "2", nil, nil); err != nil {
		return err
	}
	c.cache.Invalidate(c.account)
	return nil
}

// ConfirmDeal asks the broker for the outcome of a deal reference. Returns
// (nil, nil) when the broker has not processed the reference yet.
func (c *Client) ConfirmDeal(ctx context.Context, dealReference string) (*DealConfirmation, error) {
	var confirmation DealConfirmation
	err := c.do(ctx, http.MethodGet, "/confirms/"+dealReference, "1", nil, &confirmation)
	if err != nil {
		var apiErr *errors.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &confirmation, nil
}

// PositionByDealID fetches one position, or (nil, nil) when the broker holds
// no position for the deal id.
func (c *Client) PositionByDealID(ctx context.Context, dealID string) (*Position, error) {
	var env positionEnvelope
	err := c.do(ctx, http.MethodGet, "/positions/"+dealID, "2", nil, &env)
	if err != nil {
		var apiErr *errors.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	position := env.flatten()
	return &position, nil
}

// Ensure Client implements Gateway
var _ Gateway = (*Client)(nil)
