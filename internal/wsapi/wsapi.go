// Package wsapi upgrades inbound HTTP requests to WebSocket connections and
// runs the per-connection subscribe/broadcast session loop, grounded on the
// original websocket_handler's connect/recv/subscribe/unsubscribe/disconnect
// cycle.
package wsapi

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/flowcandle/candlestream/internal/model"
	"github.com/flowcandle/candlestream/internal/registry"
	"github.com/flowcandle/candlestream/pkg/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// conn adapts a *websocket.Conn to registry.Conn. Writes are serialized
// with sendMu since gorilla/websocket forbids concurrent writers.
type conn struct {
	ws     *websocket.Conn
	sendMu sync.Mutex
}

func (c *conn) Send(data []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// Handler upgrades a request to WebSocket and runs the session loop,
// registering and unregistering the connection against reg.
func Handler(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		runSession(ws, reg)
	}
}

// runSession drives one connection's Initial -> Loop -> Terminal state
// machine. A connection holds at most one active subscription; the server
// never writes a protocol-level response back to the client, only
// broadcasts.
func runSession(ws *websocket.Conn, reg *registry.Registry) {
	c := &conn{ws: ws}
	reg.Connect(c)

	var current *model.Subscription

	defer func() {
		if current != nil {
			reg.Unsubscribe(c, *current, nil)
		}
		reg.Disconnect(c)
		_ = ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			logger.Log.Info().Str("remote", c.RemoteAddr()).Err(err).Msg("connection closed")
			return
		}

		next, err := model.ParseSubscription(data)
		if err != nil {
			// ClientProtocol error: never answered, but terminal for the
			// session — the deferred unsubscribe/disconnect tears it down.
			logger.Log.Warn().Str("remote", c.RemoteAddr()).Err(err).Msg("closing session on malformed subscription request")
			return
		}

		if current != nil && *current == next {
			continue
		}

		if current != nil {
			reg.Unsubscribe(c, *current, &next)
		}
		reg.Subscribe(c, next)
		current = &next
	}
}
