package models

import (
	"time"
)

// Observation is one timestamped price/volume sample for an instrument.
type Observation struct {
	Symbol      string    `json:"symbol"`
	Timestamp   time.Time `json:"timestamp"`
	Price       float64   `json:"price"`
	Volume      float64   `json:"volume"`
	ChangePct24 float64   `json:"change_pct_24h"`
}

// Valid reports whether the observation can enter a series.
func (o Observation) Valid() bool {
	return o.Symbol != "" && o.Price > 0 && o.Volume >= 0
}

// Kline is one historical candle as returned by the exchange klines endpoint.
type Kline struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Observation converts the candle into a close-price observation.
func (k Kline) Observation(symbol string) Observation {
	return Observation{
		Symbol:    symbol,
		Timestamp: k.OpenTime,
		Price:     k.Close,
		Volume:    k.Volume,
	}
}
