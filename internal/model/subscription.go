package model

import (
	"encoding/json"
	"fmt"
)

// Timeframe is the hashable (size, unit) pair used as half of a Subscription
// key. Unlike timewindow.TimeWindow (which must name a supported unit to do
// arithmetic), Timeframe only needs to compare equal — the unit string is
// opaque to the registry.
type Timeframe struct {
	Size int
	Unit string
}

// OneSecond is the implicit shadow timeframe every coarser subscription
// pairs with.
var OneSecond = Timeframe{Size: 1, Unit: "second"}

// Subscription is a (symbol, timeframe) key a client can register interest
// in. It is a plain comparable value so it can key a map directly.
type Subscription struct {
	Symbol    string
	Timeframe Timeframe
}

// subscriptionWire is the inbound JSON shape:
// {"symbol": "...", "timeframe": {"size": N, "unit": "..."}}.
type subscriptionWire struct {
	Symbol    string         `json:"symbol"`
	Timeframe *timeframeWire `json:"timeframe"`
}

type timeframeWire struct {
	Size *int    `json:"size"`
	Unit *string `json:"unit"`
}

// ParseSubscription validates and decodes a raw subscription payload.
// The documented check requires timeframe to itself be an object carrying
// size and unit; a payload whose timeframe is missing, not an object, or
// whose size/unit have the wrong type is BadInput.
func ParseSubscription(data []byte) (Subscription, error) {
	var wire subscriptionWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return Subscription{}, &BadInputError{Reason: fmt.Sprintf("invalid subscription payload: %v", err)}
	}
	return subscriptionFromWire(wire)
}

func subscriptionFromWire(wire subscriptionWire) (Subscription, error) {
	if wire.Symbol == "" {
		return Subscription{}, &BadInputError{Reason: "subscription symbol must be a non-empty string"}
	}
	if wire.Timeframe == nil {
		return Subscription{}, &BadInputError{Reason: "subscription timeframe must be an object with size and unit"}
	}
	if wire.Timeframe.Size == nil {
		return Subscription{}, &BadInputError{Reason: "subscription timeframe.size must be an integer"}
	}
	if wire.Timeframe.Unit == nil {
		return Subscription{}, &BadInputError{Reason: "subscription timeframe.unit must be a string"}
	}
	return Subscription{
		Symbol: wire.Symbol,
		Timeframe: Timeframe{
			Size: *wire.Timeframe.Size,
			Unit: *wire.Timeframe.Unit,
		},
	}, nil
}

// SubscriptionFromMessage extracts the (symbol, timeframe) key a broadcast
// message routes to, from a decoded ohlc-trades payload.
func SubscriptionFromMessage(msg OHLCMessage) Subscription {
	return Subscription{
		Symbol: msg.Symbol,
		Timeframe: Timeframe{
			Size: msg.Timeframe.Size,
			Unit: msg.Timeframe.Unit,
		},
	}
}

// RequiresOneSecondShadow reports whether this subscription implies an
// additional (1, second) subscription for the same symbol.
func (s Subscription) RequiresOneSecondShadow() bool {
	return s.Timeframe != OneSecond
}

// AsOneSecond returns the shadow (symbol, (1,second)) subscription.
func (s Subscription) AsOneSecond() Subscription {
	return Subscription{Symbol: s.Symbol, Timeframe: OneSecond}
}
