package model

import (
	"fmt"

	"github.com/flowcandle/candlestream/internal/timewindow"
)

// OHLC is a finalized candle for one (symbol, timeframe, window).
type OHLC struct {
	// Time is the unix-second window start, the wire format used on the
	// ohlc-trades topic and in the column store.
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Validate checks low <= min(open,close) <= max(open,close) <= high, the
// invariant every emitted candle must satisfy.
func (o OHLC) Validate() error {
	lo := o.Open
	if o.Close < lo {
		lo = o.Close
	}
	hi := o.Open
	if o.Close > hi {
		hi = o.Close
	}
	if o.Low > lo || hi > o.High || o.Low > o.High {
		return fmt.Errorf("ohlc: invariant violated low=%v open=%v close=%v high=%v", o.Low, o.Open, o.Close, o.High)
	}
	return nil
}

// TimeframePayload is the wire-format {size, unit} pair embedded in
// outbound OHLC messages and inbound subscription requests.
type TimeframePayload struct {
	Size int    `json:"size"`
	Unit string `json:"unit"`
}

// OHLCMessage is the JSON shape published to the ohlc-trades topic and
// forwarded verbatim to WebSocket clients (see spec §6).
type OHLCMessage struct {
	Symbol    string           `json:"symbol"`
	Timeframe TimeframePayload `json:"timeframe"`
	OHLC      OHLC             `json:"ohlc"`
}

// NewOHLCMessage builds the wire message for a finalized candle.
func NewOHLCMessage(symbol string, tf timewindow.TimeWindow, ohlc OHLC) OHLCMessage {
	return OHLCMessage{
		Symbol: symbol,
		Timeframe: TimeframePayload{
			Size: tf.Size,
			Unit: string(tf.Unit),
		},
		OHLC: ohlc,
	}
}
