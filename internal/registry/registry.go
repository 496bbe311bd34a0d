// Package registry tracks which WebSocket connections are listening to
// which (symbol, timeframe) subscriptions and fans finalized candles out to
// them, grounded on the connection-manager design of the original service.
package registry

import (
	"encoding/json"
	"sync"

	"github.com/flowcandle/candlestream/internal/model"
	"github.com/flowcandle/candlestream/pkg/logger"
)

// Conn is the minimum a connection needs to support to receive broadcasts.
// wsapi's session wraps a *websocket.Conn behind this so the registry stays
// independent of the transport.
type Conn interface {
	Send(data []byte) error
	RemoteAddr() string
}

// Registry is the shared, concurrency-safe table of active connections and
// their subscriptions. One Registry is shared by every session goroutine in
// a fan-out process.
type Registry struct {
	mu            sync.RWMutex
	connections   map[Conn]struct{}
	subscriptions map[model.Subscription]map[Conn]struct{}
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		connections:   make(map[Conn]struct{}),
		subscriptions: make(map[model.Subscription]map[Conn]struct{}),
	}
}

// Connect registers a newly accepted connection.
func (r *Registry) Connect(conn Conn) {
	r.mu.Lock()
	r.connections[conn] = struct{}{}
	r.mu.Unlock()

	logger.Log.Info().Str("remote", conn.RemoteAddr()).Msg("connection registered")
}

// Disconnect removes conn from the active set and every subscription it was
// part of.
func (r *Registry) Disconnect(conn Conn) {
	r.mu.Lock()
	delete(r.connections, conn)
	for sub, conns := range r.subscriptions {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(r.subscriptions, sub)
		}
	}
	r.mu.Unlock()

	logger.Log.Info().Str("remote", conn.RemoteAddr()).Msg("connection removed")
}

// Subscribe adds conn to sub, and implicitly to sub's (1,second) shadow
// subscription whenever sub's own timeframe is coarser than one second.
func (r *Registry) Subscribe(conn Conn, sub model.Subscription) {
	r.mu.Lock()
	r.addLocked(sub, conn)
	if sub.RequiresOneSecondShadow() {
		r.addLocked(sub.AsOneSecond(), conn)
	}
	r.mu.Unlock()

	logger.Log.Info().Str("remote", conn.RemoteAddr()).Str("symbol", sub.Symbol).
		Int("size", sub.Timeframe.Size).Str("unit", sub.Timeframe.Unit).Msg("subscribed")
}

// Unsubscribe removes conn from sub. If next is non-nil and itself requires
// the (1,second) shadow, the shadow subscription is left in place — it is
// still needed by the subscription the client is switching to. Pass a nil
// next when the client is dropping the subscription outright (or switching
// to the (1,second) timeframe itself).
func (r *Registry) Unsubscribe(conn Conn, sub model.Subscription, next *model.Subscription) {
	r.mu.Lock()
	r.removeLocked(sub, conn)

	if next == nil || !next.RequiresOneSecondShadow() {
		r.removeLocked(sub.AsOneSecond(), conn)
	}
	r.mu.Unlock()

	logger.Log.Info().Str("remote", conn.RemoteAddr()).Str("symbol", sub.Symbol).
		Int("size", sub.Timeframe.Size).Str("unit", sub.Timeframe.Unit).Msg("unsubscribed")
}

func (r *Registry) addLocked(sub model.Subscription, conn Conn) {
	conns, ok := r.subscriptions[sub]
	if !ok {
		conns = make(map[Conn]struct{})
		r.subscriptions[sub] = conns
	}
	conns[conn] = struct{}{}
}

func (r *Registry) removeLocked(sub model.Subscription, conn Conn) {
	conns, ok := r.subscriptions[sub]
	if !ok {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(r.subscriptions, sub)
	}
}

// Broadcast sends a finalized-candle message to every connection subscribed
// to its (symbol, timeframe) key. Recipients are snapshotted under the lock
// and sent to after the lock is released, so a slow client write never
// blocks subscribe/unsubscribe/connect traffic on other connections.
func (r *Registry) Broadcast(msg model.OHLCMessage) error {
	sub := model.SubscriptionFromMessage(msg)

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	r.mu.RLock()
	conns := r.subscriptions[sub]
	recipients := make([]Conn, 0, len(conns))
	for conn := range conns {
		recipients = append(recipients, conn)
	}
	r.mu.RUnlock()

	for _, conn := range recipients {
		if err := conn.Send(data); err != nil {
			logger.Log.Warn().Err(err).Str("remote", conn.RemoteAddr()).Msg("failed to deliver broadcast")
		}
	}

	logger.Log.Debug().Str("symbol", sub.Symbol).Int("recipients", len(recipients)).Msg("broadcast delivered")
	return nil
}
