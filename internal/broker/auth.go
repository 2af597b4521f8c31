package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"tradehook/internal/errors"
	"tradehook/pkg/utils"
)

// AuthClient maintains one broker session per account. It lazily opens the
// session on first use, caches the token, and re-fetches when a downstream
// call invalidates it. Concurrent callers coalesce on a single in-flight
// session request.
type AuthClient struct {
	baseURL    string
	apiKey     string
	identifier string
	password   string
	httpc      *http.Client
	logger     zerolog.Logger
	retry      utils.RetryConfig

	mu    sync.Mutex
	token *Token
}

// AuthConfig holds the per-account session parameters.
type AuthConfig struct {
	BaseURL    string
	APIKey     string
	Identifier string
	Password   string
	HTTPClient *http.Client
}

// NewAuthClient creates a session manager for one account. No network call
// is made until the first Token request.
func NewAuthClient(cfg AuthConfig, logger zerolog.Logger) *AuthClient {
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = http.DefaultClient
	}
	retry := utils.DefaultRetryConfig()
	retry.ShouldRetry = errors.IsRetryable
	return &AuthClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		identifier: cfg.Identifier,
		password:   cfg.Password,
		httpc:      httpc,
		logger:     logger.With().Str("component", "broker_auth").Logger(),
		retry:      retry,
	}
}

// Token returns the cached session token, opening a session if none is held.
func (a *AuthClient) Token(ctx context.Context) (Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != nil {
		return *a.token, nil
	}

	tok, err := utils.RetryWithResult(ctx, a.retry, func() (*Token, error) {
		return a.fetchSession(ctx)
	})
	if err != nil {
		return Token{}, err
	}

	a.token = tok
	a.logger.Debug().Str("account_id", tok.AccountID).Msg("Broker session opened")
	return *tok, nil
}

// Invalidate discards the cached token if it is still the one the caller
// holds. A caller that saw a 401 invalidates its token and asks for a fresh
// one exactly once; stale invalidations from racing callers are no-ops so a
// single expiry never triggers redundant refreshes.
func (a *AuthClient) Invalidate(old Token) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token != nil && a.token.AccessToken == old.AccessToken {
		a.token = nil
	}
}

// fetchSession performs one POST /session attempt. Credential rejections are
// fatal AuthErrors; network failures and 5xx map to the retryable classes.
func (a *AuthClient) fetchSession(ctx context.Context) (*Token, error) {
	body, err := json.Marshal(sessionRequest{
		Identifier: a.identifier,
		Password:   a.password,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode session request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/session", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build session request")
	}
	req.Header.Set("X-IG-API-KEY", a.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Version", "3")

	resp, err := a.httpc.Do(req)
	if err != nil {
		return nil, errors.NewTransportError("session", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		var apiErr apiErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		a.logger.Error().Str("error_code", apiErr.ErrorCode).Msg("Broker rejected credentials")
		return nil, errors.NewAuthError(apiErr.ErrorCode, nil)
	}
	if resp.StatusCode >= 400 {
		var apiErr apiErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, errors.NewAPIError(resp.StatusCode, apiErr.ErrorCode)
	}

	var session sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, errors.NewAPIError(resp.StatusCode, "PARSE_ERROR")
	}

	return &Token{
		AccessToken: session.OauthToken.AccessToken,
		AccountID:   session.AccountID,
	}, nil
}
