// Package binance is a small REST client for the public spot market data endpoints.
package binance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-correlation/internal/config"
	"github.com/irfndi/celebrum-correlation/internal/models"
	"github.com/irfndi/celebrum-correlation/internal/utils"
)

// Client represents the exchange REST client
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	timeout    time.Duration
	logger     *logrus.Logger
}

// NewClient creates a new REST client instance
func NewClient(cfg *config.ExchangeConfig, logger *logrus.Logger) *Client {
	timeout := cfg.GetTimeout()
	if logger == nil {
		logger = logrus.New()
	}

	return &Client{
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		BaseURL: strings.TrimSuffix(cfg.RestURL, "/"),
		timeout: timeout,
		logger:  logger,
	}
}

// Ping checks connectivity to the REST API.
func (c *Client) Ping(ctx context.Context) error {
	return c.makeRequest(ctx, "/api/v3/ping", nil, nil)
}

// GetExchangeInfo retrieves the listed symbols.
func (c *Client) GetExchangeInfo(ctx context.Context) (*ExchangeInfo, error) {
	var response ExchangeInfo
	if err := c.makeRequest(ctx, "/api/v3/exchangeInfo", nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// GetTradingSymbols returns symbols quoted in quoteAsset that are currently trading,
// in exchange order, capped at limit when limit > 0.
func (c *Client) GetTradingSymbols(ctx context.Context, quoteAsset string, limit int) ([]string, error) {
	info, err := c.GetExchangeInfo(ctx)
	if err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != StatusTrading || !strings.EqualFold(s.QuoteAsset, quoteAsset) {
			continue
		}
		symbols = append(symbols, s.Symbol)
		if limit > 0 && len(symbols) == limit {
			break
		}
	}
	return symbols, nil
}

// GetKlines retrieves historical candles for one symbol.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var raw json.RawMessage
	if err := c.makeRequest(ctx, "/api/v3/klines", params, &raw); err != nil {
		return nil, err
	}
	return decodeKlines(raw)
}

// GetTickers24h retrieves the rolling 24h statistics for every symbol.
func (c *Client) GetTickers24h(ctx context.Context) ([]Ticker24h, error) {
	var response []Ticker24h
	if err := c.makeRequest(ctx, "/api/v3/ticker/24hr", nil, &response); err != nil {
		return nil, err
	}
	return response, nil
}

// makeRequest issues a GET and decodes the JSON body into result.
func (c *Client) makeRequest(ctx context.Context, path string, params url.Values, result interface{}) error {
	endpoint := c.BaseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Celebrum-Correlation/1.0")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %v: %w", err, utils.ErrTransient)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.WithError(err).Warn("Error closing response body")
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %v: %w", err, utils.ErrTransient)
	}

	if resp.StatusCode >= 400 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Message: string(respBody)}
		var apiErr APIError
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Msg != "" {
			statusErr.Code = apiErr.Code
			statusErr.Message = apiErr.Msg
		}
		return statusErr
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %v: %w", err, utils.ErrMalformedInput)
		}
	}

	return nil
}

// Close exists for interface compatibility; the HTTP client needs no cleanup.
func (c *Client) Close() error {
	return nil
}
