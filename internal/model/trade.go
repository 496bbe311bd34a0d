// Package model holds the wire-level value types (Trade, OHLC, Subscription)
// and their ingress validation.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Trade is an immutable, ingress-validated trade event.
type Trade struct {
	TradeID  string    `json:"trade_id"`
	TraderID uuid.UUID `json:"trader_id"`
	Symbol   string    `json:"symbol"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
	Volume   float64   `json:"volume"`
	// TimestampMs is the wire format: UTC milliseconds since the epoch.
	TimestampMs int64  `json:"timestamp"`
	Side        string `json:"side"`
}

// BadInputError reports a malformed Trade or Subscription payload.
type BadInputError struct {
	Reason string
}

func (e *BadInputError) Error() string {
	return fmt.Sprintf("bad input: %s", e.Reason)
}

// Validate checks the ingress invariants: all numeric fields strictly
// positive, symbol non-empty, timestamp present. A rejected trade must
// never reach the aggregator.
func (t Trade) Validate() error {
	if t.Symbol == "" {
		return &BadInputError{Reason: "symbol must not be empty"}
	}
	if t.Price <= 0 {
		return &BadInputError{Reason: "price must be > 0"}
	}
	if t.Quantity <= 0 {
		return &BadInputError{Reason: "quantity must be > 0"}
	}
	if t.Volume <= 0 {
		return &BadInputError{Reason: "volume must be > 0"}
	}
	if t.TimestampMs == 0 {
		return &BadInputError{Reason: "timestamp must be present"}
	}
	return nil
}

// Timestamp converts the wire millisecond epoch into a UTC instant.
func (t Trade) Timestamp() time.Time {
	return time.UnixMilli(t.TimestampMs).UTC()
}
