package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcandle/candlestream/internal/model"
	"github.com/flowcandle/candlestream/internal/timewindow"
)

func mustTrade(t *testing.T, symbol string, price float64, ts time.Time) model.Trade {
	t.Helper()
	return model.Trade{
		TradeID:     "t",
		Symbol:      symbol,
		Price:       price,
		Quantity:    1,
		Volume:      price,
		TimestampMs: ts.UnixMilli(),
	}
}

func TestAddTradeSameWindowNoClose(t *testing.T) {
	tf, err := timewindow.New(1, timewindow.Minute)
	require.NoError(t, err)
	agg := New([]timewindow.TimeWindow{tf}, false)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	closed, err := agg.AddTrade(mustTrade(t, "BTC", 100, base))
	require.NoError(t, err)
	assert.Empty(t, closed, "first trade in a window should not close anything")

	closed, err = agg.AddTrade(mustTrade(t, "BTC", 105, base.Add(10*time.Second)))
	require.NoError(t, err)
	assert.Empty(t, closed, "second trade in the same window should not close it")

	state := agg.CurrentState("BTC")[tf]
	assert.Equal(t, 100.0, state.Open)
	assert.Equal(t, 105.0, state.High)
	assert.Equal(t, 100.0, state.Low)
	assert.Equal(t, 105.0, state.Close)
}

func TestAddTradeClosesWindowOnBoundaryCross(t *testing.T) {
	tf, err := timewindow.New(1, timewindow.Minute)
	require.NoError(t, err)
	agg := New([]timewindow.TimeWindow{tf}, false)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = agg.AddTrade(mustTrade(t, "BTC", 100, base))
	require.NoError(t, err)
	_, err = agg.AddTrade(mustTrade(t, "BTC", 110, base.Add(30*time.Second)))
	require.NoError(t, err)

	closed, err := agg.AddTrade(mustTrade(t, "BTC", 120, base.Add(90*time.Second)))
	require.NoError(t, err)
	require.Len(t, closed, 1)
	candle := closed[0]
	assert.Equal(t, tf, candle.Timeframe)
	assert.Equal(t, base.Unix(), candle.OHLC.Time)
	assert.Equal(t, 100.0, candle.OHLC.Open)
	assert.Equal(t, 110.0, candle.OHLC.High)
	assert.Equal(t, 100.0, candle.OHLC.Low)
	assert.Equal(t, 110.0, candle.OHLC.Close)

	state := agg.CurrentState("BTC")[tf]
	assert.Equal(t, 120.0, state.Open, "new window opens at the trade price without smoothing")
}

func TestAddTradeGapSmoothingInheritsPreviousClose(t *testing.T) {
	tf, err := timewindow.New(1, timewindow.Minute)
	require.NoError(t, err)
	agg := New([]timewindow.TimeWindow{tf}, true)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = agg.AddTrade(mustTrade(t, "BTC", 100, base))
	require.NoError(t, err)
	_, err = agg.AddTrade(mustTrade(t, "BTC", 110, base.Add(30*time.Second)))
	require.NoError(t, err)

	// Skip several empty windows ahead.
	closed, err := agg.AddTrade(mustTrade(t, "BTC", 200, base.Add(5*time.Minute)))
	require.NoError(t, err)
	require.Len(t, closed, 1)

	state := agg.CurrentState("BTC")[tf]
	assert.Equal(t, 110.0, state.Open, "gap-smoothed window opens at the previous window's close")
	assert.Equal(t, 200.0, state.High, "smoothing must not widen the high beyond the trade price")
	assert.Equal(t, 200.0, state.Low, "smoothing must not widen the low down to the inherited open")
}

func TestAddTradeMonthWindowUsesCalendarArithmetic(t *testing.T) {
	tf, err := timewindow.New(2, timewindow.Month)
	require.NoError(t, err)
	agg := New([]timewindow.TimeWindow{tf}, false)

	ts := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	_, err = agg.AddTrade(mustTrade(t, "BTC", 100, ts))
	require.NoError(t, err)

	state := agg.CurrentState("BTC")[tf]
	expectedStart := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, expectedStart.Unix(), state.Time)

	end, err := tf.WindowEnd(expectedStart)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestCleanupOldWindowsDropsStaleState(t *testing.T) {
	tf, err := timewindow.New(1, timewindow.Minute)
	require.NoError(t, err)
	agg := New([]timewindow.TimeWindow{tf}, false)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = agg.AddTrade(mustTrade(t, "BTC", 100, base))
	require.NoError(t, err)

	agg.CleanupOldWindows(base.Add(2*time.Hour), time.Hour)
	assert.Empty(t, agg.CurrentState("BTC"), "window older than max age should be dropped")
}
