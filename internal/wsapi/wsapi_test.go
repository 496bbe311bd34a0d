package wsapi

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcandle/candlestream/internal/model"
	"github.com/flowcandle/candlestream/internal/registry"
)

func newTestServer(t *testing.T, reg *registry.Registry) (*httptest.Server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", Handler(reg))
	srv := httptest.NewServer(r)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return srv, wsURL
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return c
}

// settleTime gives the session goroutine time to process a frame written
// over the socket before the test asserts on registry state.
const settleTime = 50 * time.Millisecond

func TestSessionSubscribesAndReceivesBroadcast(t *testing.T) {
	reg := registry.New()
	srv, wsURL := newTestServer(t, reg)
	defer srv.Close()

	client := dial(t, wsURL)
	defer client.Close()

	require.NoError(t, client.WriteJSON(map[string]interface{}{
		"symbol":    "BTC",
		"timeframe": map[string]interface{}{"size": 1, "unit": "minute"},
	}))
	time.Sleep(settleTime)

	require.NoError(t, reg.Broadcast(model.OHLCMessage{
		Symbol:    "BTC",
		Timeframe: model.TimeframePayload{Size: 1, Unit: "minute"},
		OHLC:      model.OHLC{Time: 1, Open: 1, High: 1, Low: 1, Close: 1},
	}))

	client.SetReadDeadline(time.Now().Add(time.Second))
	var got model.OHLCMessage
	require.NoError(t, client.ReadJSON(&got))
	assert.Equal(t, "BTC", got.Symbol)
}

func TestSessionSwitchingSubscriptionDropsOldOne(t *testing.T) {
	reg := registry.New()
	srv, wsURL := newTestServer(t, reg)
	defer srv.Close()

	client := dial(t, wsURL)
	defer client.Close()

	require.NoError(t, client.WriteJSON(map[string]interface{}{
		"symbol":    "BTC",
		"timeframe": map[string]interface{}{"size": 1, "unit": "minute"},
	}))
	time.Sleep(settleTime)

	require.NoError(t, client.WriteJSON(map[string]interface{}{
		"symbol":    "ETH",
		"timeframe": map[string]interface{}{"size": 1, "unit": "minute"},
	}))
	time.Sleep(settleTime)

	require.NoError(t, reg.Broadcast(model.OHLCMessage{
		Symbol:    "BTC",
		Timeframe: model.TimeframePayload{Size: 1, Unit: "minute"},
		OHLC:      model.OHLC{Time: 1, Open: 1, High: 1, Low: 1, Close: 1},
	}))

	client.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := client.ReadMessage()
	assert.Error(t, err, "switching subscriptions must drop the old one")
}

func TestSessionClosesOnMalformedRequest(t *testing.T) {
	reg := registry.New()
	srv, wsURL := newTestServer(t, reg)
	defer srv.Close()

	client := dial(t, wsURL)
	defer client.Close()

	require.NoError(t, client.WriteJSON(map[string]interface{}{
		"symbol":    "BTC",
		"timeframe": map[string]interface{}{"size": 1, "unit": "minute"},
	}))
	time.Sleep(settleTime)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("not json")))
	time.Sleep(settleTime)

	client.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := client.ReadMessage()
	assert.Error(t, err, "a malformed request must close the session, per ClientProtocol handling")

	assert.NoError(t, reg.Broadcast(model.OHLCMessage{
		Symbol:    "BTC",
		Timeframe: model.TimeframePayload{Size: 1, Unit: "minute"},
		OHLC:      model.OHLC{Time: 1, Open: 1, High: 1, Low: 1, Close: 1},
	}), "broadcasting on the closed session's key must not error")
}

func TestSessionUnsubscribesOnDisconnect(t *testing.T) {
	reg := registry.New()
	srv, wsURL := newTestServer(t, reg)
	defer srv.Close()

	client := dial(t, wsURL)
	require.NoError(t, client.WriteJSON(map[string]interface{}{
		"symbol":    "BTC",
		"timeframe": map[string]interface{}{"size": 1, "unit": "minute"},
	}))
	time.Sleep(settleTime)
	require.NoError(t, client.Close())
	time.Sleep(settleTime)

	// Broadcasting after the only subscriber disconnected must not error,
	// and there is nobody left to receive it.
	assert.NoError(t, reg.Broadcast(model.OHLCMessage{
		Symbol:    "BTC",
		Timeframe: model.TimeframePayload{Size: 1, Unit: "minute"},
		OHLC:      model.OHLC{Time: 1, Open: 1, High: 1, Low: 1, Close: 1},
	}))
}
