package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/celebrum-correlation/internal/series"
	"github.com/irfndi/celebrum-correlation/pkg/binance"
)

type MockTickerSource struct {
	mock.Mock
	calls atomic.Int64
}

func (m *MockTickerSource) GetTickers24h(ctx context.Context) ([]binance.Ticker24h, error) {
	m.calls.Add(1)
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]binance.Ticker24h), args.Error(1)
}

func TestRestPoller_PollOnce(t *testing.T) {
	source := new(MockTickerSource)
	source.On("GetTickers24h", mock.Anything).Return([]binance.Ticker24h{
		{Symbol: "BTCUSDT", LastPrice: "43000", Volume: "10", PriceChangePercent: "1.1"},
		{Symbol: "ETHUSDT", LastPrice: "0", Volume: "10"},
		{Symbol: "ETHBTC", LastPrice: "0.05", Volume: "10"},
		{Symbol: "SOLUSDT", LastPrice: "100", Volume: "3"},
	}, nil)

	buffer := series.NewBuffer()
	poller := NewRestPoller(source, buffer, time.Minute, quietLogger())
	poller.symbols = map[string]struct{}{"BTCUSDT": {}, "ETHUSDT": {}, "SOLUSDT": {}}

	appended := poller.PollOnce(context.Background())

	assert.Equal(t, 2, appended)
	assert.Equal(t, 1, buffer.Len("BTCUSDT"))
	assert.Equal(t, 0, buffer.Len("ETHUSDT"))
	assert.Equal(t, 0, buffer.Len("ETHBTC"))
	btc := buffer.Snapshot("BTCUSDT")[0]
	sol := buffer.Snapshot("SOLUSDT")[0]
	assert.Equal(t, btc.Timestamp, sol.Timestamp)

	stats := poller.Stats()
	assert.Equal(t, int64(2), stats.Accepted)
	assert.Equal(t, int64(1), stats.Rejected)
	source.AssertExpectations(t)
}

func TestRestPoller_FailureIsCounted(t *testing.T) {
	source := new(MockTickerSource)
	source.On("GetTickers24h", mock.Anything).Return(nil, errors.New("timeout"))

	poller := NewRestPoller(source, series.NewBuffer(), time.Minute, quietLogger())
	assert.Equal(t, 0, poller.PollOnce(context.Background()))
	assert.Equal(t, int64(1), poller.Stats().DialFailures)
}

func TestRestPoller_StartStop(t *testing.T) {
	source := new(MockTickerSource)
	source.On("GetTickers24h", mock.Anything).Return([]binance.Ticker24h{
		{Symbol: "BTCUSDT", LastPrice: "43000", Volume: "10"},
	}, nil)

	buffer := series.NewBuffer()
	poller := NewRestPoller(source, buffer, 10*time.Millisecond, quietLogger())

	require.NoError(t, poller.Start(context.Background(), []string{"BTCUSDT"}))
	assert.ErrorIs(t, poller.Start(context.Background(), nil), ErrAlreadyRunning)
	require.Eventually(t, func() bool { return buffer.Len("BTCUSDT") >= 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, poller.Stop())
	assert.False(t, poller.IsRunning())

	calls := source.calls.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, calls, source.calls.Load())
}
