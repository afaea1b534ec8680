package binance

import (
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/irfndi/celebrum-correlation/internal/models"
	"github.com/irfndi/celebrum-correlation/internal/utils"
)

// Symbol trading status as reported by exchangeInfo.
const StatusTrading = "TRADING"

// SymbolInfo describes one listed trading pair.
type SymbolInfo struct {
	Symbol     string `json:"symbol"`
	Status     string `json:"status"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
}

// ExchangeInfo is the subset of /api/v3/exchangeInfo used for instrument discovery.
type ExchangeInfo struct {
	Timezone   string       `json:"timezone"`
	ServerTime int64        `json:"serverTime"`
	Symbols    []SymbolInfo `json:"symbols"`
}

// Ticker24h is one entry of /api/v3/ticker/24hr. Numbers arrive as strings.
type Ticker24h struct {
	Symbol             string `json:"symbol" validate:"required"`
	LastPrice          string `json:"lastPrice" validate:"required,numeric"`
	Volume             string `json:"volume" validate:"omitempty,numeric"`
	PriceChangePercent string `json:"priceChangePercent" validate:"omitempty,numeric"`
	CloseTime          int64  `json:"closeTime"`
}

// APIError is the error body returned by the exchange.
type APIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// StatusError carries the HTTP status of a failed request.
type StatusError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("binance error (%d): code=%d %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap marks rate limiting and server errors as transient.
func (e *StatusError) Unwrap() error {
	if e.Retryable() {
		return utils.ErrTransient
	}
	return nil
}

// Retryable reports whether the request may succeed when repeated.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode == 418 || e.StatusCode >= 500
}

// decodeKlines converts the klines tuple array into candles.
// Tuple layout: [openTime, open, high, low, close, volume, closeTime, ...].
func decodeKlines(body []byte) ([]models.Kline, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", utils.ErrMalformedInput)
	}

	klines := make([]models.Kline, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, utils.NewValidationErrorf("kline %d has %d fields, want at least 6", i, len(row))
		}
		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			return nil, utils.NewValidationErrorf("kline %d open time: %v", i, err)
		}
		values := make([]float64, 5)
		for j := 1; j <= 5; j++ {
			v, err := rawFloat(row[j])
			if err != nil {
				return nil, utils.NewValidationErrorf("kline %d field %d: %v", i, j, err)
			}
			values[j-1] = v
		}
		klines = append(klines, models.Kline{
			OpenTime: time.UnixMilli(openTime).UTC(),
			Open:     values[0],
			High:     values[1],
			Low:      values[2],
			Close:    values[3],
			Volume:   values[4],
		})
	}
	return klines, nil
}

// rawFloat accepts either a quoted or a bare JSON number.
func rawFloat(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return f, nil
}
