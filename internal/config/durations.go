package config

import (
	"fmt"
	"strconv"
	"time"
)

// durationOr parses value, returning fallback when it is empty or invalid.
func durationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func (c IngestConfig) GetReconnectDelay() time.Duration {
	return durationOr(c.ReconnectDelay, 5*time.Second)
}

func (c IngestConfig) GetPingPeriod() time.Duration {
	return durationOr(c.PingPeriod, 15*time.Second)
}

func (c IngestConfig) GetPollInterval() time.Duration {
	return durationOr(c.PollInterval, 30*time.Second)
}

func (c SeriesConfig) GetRetentionWindow() time.Duration {
	return durationOr(c.RetentionWindow, 2*time.Hour)
}

func (c AnalysisConfig) GetInterval() time.Duration {
	return durationOr(c.Interval, 5*time.Minute)
}

// GetResampleInterval returns zero when resampling is disabled ("0s").
func (c AnalysisConfig) GetResampleInterval() time.Duration {
	return durationOr(c.ResampleInterval, 0)
}

func (c WarmupConfig) GetResampleInterval() time.Duration {
	return durationOr(c.ResampleInterval, 0)
}

// klineUnits maps exchange kline interval suffixes to durations. A month
// counts as 30 days.
var klineUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
	'M': 30 * 24 * time.Hour,
}

// parseKlineInterval converts an exchange kline interval such as "15m",
// "1d" or "1M" to a duration.
func parseKlineInterval(interval string) (time.Duration, error) {
	if len(interval) < 2 {
		return 0, fmt.Errorf("invalid kline interval %q", interval)
	}
	unit, ok := klineUnits[interval[len(interval)-1]]
	if !ok {
		return 0, fmt.Errorf("invalid kline interval %q", interval)
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid kline interval %q", interval)
	}
	return time.Duration(n) * unit, nil
}

// HistorySpan is the time covered by one warm start fetch: limit klines of
// the configured interval.
func (c WarmupConfig) HistorySpan() (time.Duration, error) {
	step, err := parseKlineInterval(c.Interval)
	if err != nil {
		return 0, err
	}
	return step * time.Duration(c.Limit), nil
}

func (c WarmupConfig) GetRequestDelay() time.Duration {
	return durationOr(c.RequestDelay, 100*time.Millisecond)
}

func (c RedisConfig) GetTTL() time.Duration {
	return durationOr(c.TTL, time.Hour)
}

func (c ExchangeConfig) GetTimeout() time.Duration {
	if c.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}
