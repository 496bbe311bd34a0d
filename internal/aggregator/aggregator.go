// Package aggregator turns a trade stream into per-symbol, per-timeframe
// OHLC candles, closed-left/open-right on the window boundary and driven
// entirely by trade timestamps rather than wall-clock ticks.
package aggregator

import (
	"sync"
	"time"

	"github.com/flowcandle/candlestream/internal/model"
	"github.com/flowcandle/candlestream/internal/timewindow"
)

// Candle pairs a finalized OHLC with the timeframe it closed under.
type Candle struct {
	Timeframe timewindow.TimeWindow
	OHLC      model.OHLC
}

type windowState struct {
	start time.Time
	open  float64
	high  float64
	low   float64
	close float64
	hasTrade bool // at least one trade has landed in this window
}

type symbolState struct {
	windows    map[timewindow.TimeWindow]*windowState
	lastCloses map[timewindow.TimeWindow]float64
}

func newSymbolState() *symbolState {
	return &symbolState{
		windows:    make(map[timewindow.TimeWindow]*windowState),
		lastCloses: make(map[timewindow.TimeWindow]float64),
	}
}

// Aggregator maintains in-flight OHLC windows for a fixed set of timeframes,
// applied to every symbol it sees. One Aggregator instance is shared by the
// worker goroutines that feed it trades; AddTrade is safe for concurrent use.
type Aggregator struct {
	timeframes []timewindow.TimeWindow
	smoothGaps bool

	mu      sync.Mutex
	symbols map[string]*symbolState
}

// New builds an Aggregator that maintains a window per timeframe for every
// symbol it observes. smoothGaps controls whether each new window's open
// inherits the close of the last finalized window for that timeframe.
func New(timeframes []timewindow.TimeWindow, smoothGaps bool) *Aggregator {
	return &Aggregator{
		timeframes: timeframes,
		smoothGaps: smoothGaps,
		symbols:    make(map[string]*symbolState),
	}
}

// AddTrade folds trade into every configured timeframe's current window for
// its symbol, returning the candles that closed as a result: at most one per
// configured timeframe. Empty windows a trade skips past emit no candle.
func (a *Aggregator) AddTrade(trade model.Trade) ([]Candle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ts := trade.Timestamp()
	sym, ok := a.symbols[trade.Symbol]
	if !ok {
		sym = newSymbolState()
		a.symbols[trade.Symbol] = sym
	}

	var closed []Candle
	for _, tf := range a.timeframes {
		windowStart, err := tf.WindowStart(ts)
		if err != nil {
			return nil, err
		}

		state, ok := sym.windows[tf]
		if !ok {
			state = &windowState{}
			sym.windows[tf] = state
		}

		if state.hasTrade && state.start.Equal(windowStart) {
			if trade.Price > state.high {
				state.high = trade.Price
			}
			if trade.Price < state.low {
				state.low = trade.Price
			}
			state.close = trade.Price
			continue
		}

		if state.hasTrade {
			complete, err := tf.IsComplete(state.start, ts)
			if err != nil {
				return nil, err
			}
			if complete {
				closed = append(closed, Candle{
					Timeframe: tf,
					OHLC: model.OHLC{
						Time:  state.start.Unix(),
						Open:  state.open,
						High:  state.high,
						Low:   state.low,
						Close: state.close,
					},
				})
				sym.lastCloses[tf] = state.close
			}
		}

		state.start = windowStart
		if a.smoothGaps {
			if prevClose, ok := sym.lastCloses[tf]; ok {
				state.open = prevClose
			} else {
				state.open = trade.Price
			}
		} else {
			state.open = trade.Price
		}
		state.high = trade.Price
		state.low = trade.Price
		state.close = trade.Price
		state.hasTrade = true
	}

	return closed, nil
}

// CurrentState returns the in-flight (not-yet-closed) candle for every
// timeframe that has seen at least one trade for symbol.
func (a *Aggregator) CurrentState(symbol string) map[timewindow.TimeWindow]model.OHLC {
	a.mu.Lock()
	defer a.mu.Unlock()

	result := make(map[timewindow.TimeWindow]model.OHLC)
	sym, ok := a.symbols[symbol]
	if !ok {
		return result
	}
	for tf, state := range sym.windows {
		if !state.hasTrade {
			continue
		}
		result[tf] = model.OHLC{
			Time:  state.start.Unix(),
			Open:  state.open,
			High:  state.high,
			Low:   state.low,
			Close: state.close,
		}
	}
	return result
}

// CleanupOldWindows drops in-flight window state whose window start is
// before now minus maxAge, bounding memory for symbols that stop trading.
func (a *Aggregator) CleanupOldWindows(now time.Time, maxAge time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := now.Add(-maxAge)
	for _, sym := range a.symbols {
		for tf, state := range sym.windows {
			if state.hasTrade && state.start.Before(cutoff) {
				// lastCloses is kept so gap-smoothing still has a value to
				// inherit from when trading on this symbol resumes.
				delete(sym.windows, tf)
			}
		}
	}
}
