// Package marketdata fetches reference data from public market-data sources.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"tradehook/internal/errors"
)

const defaultYahooBaseURL = "https://query1.finance.yahoo.com"

// YahooClient looks up upcoming dividend dates via the Yahoo Finance quote
// summary endpoint.
type YahooClient struct {
	baseURL string
	httpc   *http.Client
	logger  zerolog.Logger
}

// NewYahooClient creates a Yahoo Finance client.
func NewYahooClient(logger zerolog.Logger) *YahooClient {
	return &YahooClient{
		baseURL: defaultYahooBaseURL,
		httpc:   &http.Client{Timeout: 15 * time.Second},
		logger:  logger.With().Str("component", "yahoo").Logger(),
	}
}

type quoteSummaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			CalendarEvents struct {
				DividendDate struct {
					Raw int64 `json:"raw"`
				} `json:"dividendDate"`
			} `json:"calendarEvents"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteSummary"`
}

// NextDividendDate returns the symbol's next dividend date, or (nil, nil)
// when the source lists none.
func (c *YahooClient) NextDividendDate(ctx context.Context, symbol string) (*time.Time, error) {
	endpoint := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?modules=calendarEvents", c.baseURL, url.PathEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build quote summary request")
	}
	// Yahoo rejects requests without a browser-like user agent.
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64)")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.NewTransportError("GET quoteSummary", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		return nil, errors.NewAPIError(resp.StatusCode, "YAHOO_QUOTE_SUMMARY_FAILED")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewTransportError("GET quoteSummary", err)
	}

	var summary quoteSummaryResponse
	if err := json.Unmarshal(body, &summary); err != nil {
		return nil, errors.Wrapf(err, "failed to decode quote summary for %s", symbol)
	}
	if summary.QuoteSummary.Error != nil {
		c.logger.Debug().
			Str("symbol", symbol).
			Str("code", summary.QuoteSummary.Error.Code).
			Msg("quote summary lookup returned an error")
		return nil, nil
	}
	if len(summary.QuoteSummary.Result) == 0 {
		return nil, nil
	}
	raw := summary.QuoteSummary.Result[0].CalendarEvents.DividendDate.Raw
	if raw == 0 {
		return nil, nil
	}
	date := time.Unix(raw, 0).UTC()
	return &date, nil
}
