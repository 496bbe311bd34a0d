package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcandle/candlestream/internal/model"
)

type fakeConn struct {
	id      string
	mu      sync.Mutex
	sent    [][]byte
	sendErr error
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeConn) RemoteAddr() string { return c.id }

func (c *fakeConn) messageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func oneMinuteSub(symbol string) model.Subscription {
	return model.Subscription{Symbol: symbol, Timeframe: model.Timeframe{Size: 1, Unit: "minute"}}
}

func candleMsg(symbol string, size int, unit string) model.OHLCMessage {
	return model.OHLCMessage{
		Symbol:    symbol,
		Timeframe: model.TimeframePayload{Size: size, Unit: unit},
		OHLC:      model.OHLC{Time: 0, Open: 1, High: 1, Low: 1, Close: 1},
	}
}

func TestSubscribeCreatesShadowOneSecondSubscription(t *testing.T) {
	reg := New()
	conn := &fakeConn{id: "a"}
	reg.Connect(conn)

	sub := oneMinuteSub("BTC")
	reg.Subscribe(conn, sub)

	require.NoError(t, reg.Broadcast(candleMsg("BTC", 1, "minute")))
	require.NoError(t, reg.Broadcast(candleMsg("BTC", 1, "second")))

	assert.Equal(t, 2, conn.messageCount(), "subscribing to a coarser timeframe should also deliver the implicit 1s shadow feed")
}

func TestUnsubscribeOutrightDropsShadow(t *testing.T) {
	reg := New()
	conn := &fakeConn{id: "a"}
	reg.Connect(conn)

	sub := oneMinuteSub("BTC")
	reg.Subscribe(conn, sub)
	reg.Unsubscribe(conn, sub, nil)

	require.NoError(t, reg.Broadcast(candleMsg("BTC", 1, "minute")))
	require.NoError(t, reg.Broadcast(candleMsg("BTC", 1, "second")))
	assert.Equal(t, 0, conn.messageCount(), "unsubscribing outright should tear down the shadow too")
}

func TestUnsubscribeKeepsShadowWhenSwitchingToAnotherCoarseTimeframe(t *testing.T) {
	reg := New()
	conn := &fakeConn{id: "a"}
	reg.Connect(conn)

	oldSub := oneMinuteSub("BTC")
	newSub := model.Subscription{Symbol: "BTC", Timeframe: model.Timeframe{Size: 5, Unit: "minute"}}

	reg.Subscribe(conn, oldSub)
	reg.Unsubscribe(conn, oldSub, &newSub)
	reg.Subscribe(conn, newSub)

	require.NoError(t, reg.Broadcast(candleMsg("BTC", 1, "second")))
	assert.Equal(t, 1, conn.messageCount(), "switching between two coarse timeframes must not tear down the still-needed shadow")
}

func TestDisconnectRemovesAllSubscriptions(t *testing.T) {
	reg := New()
	conn := &fakeConn{id: "a"}
	reg.Connect(conn)
	reg.Subscribe(conn, oneMinuteSub("BTC"))

	reg.Disconnect(conn)

	require.NoError(t, reg.Broadcast(candleMsg("BTC", 1, "minute")))
	assert.Equal(t, 0, conn.messageCount())
}

func TestBroadcastOnlyReachesMatchingSubscribers(t *testing.T) {
	reg := New()
	subscribed := &fakeConn{id: "sub"}
	unrelated := &fakeConn{id: "other"}
	reg.Connect(subscribed)
	reg.Connect(unrelated)

	reg.Subscribe(subscribed, oneMinuteSub("BTC"))
	reg.Subscribe(unrelated, oneMinuteSub("ETH"))

	require.NoError(t, reg.Broadcast(candleMsg("BTC", 1, "minute")))

	assert.Equal(t, 1, subscribed.messageCount())
	assert.Equal(t, 0, unrelated.messageCount())
}

func TestConcurrentSubscribeAndBroadcast(t *testing.T) {
	reg := New()
	const numConns = 50
	conns := make([]*fakeConn, numConns)

	var wg sync.WaitGroup
	for i := 0; i < numConns; i++ {
		conns[i] = &fakeConn{id: string(rune('a' + i))}
		reg.Connect(conns[i])
		wg.Add(1)
		go func(c *fakeConn) {
			defer wg.Done()
			reg.Subscribe(c, oneMinuteSub("BTC"))
		}(conns[i])
	}
	wg.Wait()

	require.NoError(t, reg.Broadcast(candleMsg("BTC", 1, "minute")))

	for _, c := range conns {
		assert.Equal(t, 1, c.messageCount())
	}
}
