package publisher

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/flowcandle/candlestream/internal/model"
)

// BusPublisher publishes finalized candles onto a NATS JetStream subject so
// that any number of downstream consumers (the fan-out service among them)
// can read the same stream independently.
type BusPublisher struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	subjectFor func(msg model.OHLCMessage) string
}

// DefaultSubject renders the ohlc-trades subject for a candle as
// "ohlc.<symbol>.<size><unit>", e.g. "ohlc.BTCUSD.1minute".
func DefaultSubject(msg model.OHLCMessage) string {
	return fmt.Sprintf("ohlc.%s.%d%s", msg.Symbol, msg.Timeframe.Size, msg.Timeframe.Unit)
}

// NewBusPublisher connects to NATS at url and opens a JetStream context.
// subjectFor may be nil to use DefaultSubject.
func NewBusPublisher(url string, subjectFor func(model.OHLCMessage) string) (*BusPublisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, &TransientSinkError{Sink: "nats", Err: err}
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, &TransientSinkError{Sink: "nats", Err: err}
	}

	if subjectFor == nil {
		subjectFor = DefaultSubject
	}

	return &BusPublisher{conn: conn, js: js, subjectFor: subjectFor}, nil
}

// Publish encodes msg as JSON and publishes it to the subject derived from
// its symbol and timeframe.
func (p *BusPublisher) Publish(ctx context.Context, msg model.OHLCMessage) error {
	data, err := marshal(msg)
	if err != nil {
		return err
	}

	subject := p.subjectFor(msg)
	if _, err := p.js.Publish(subject, data); err != nil {
		return &TransientSinkError{Sink: "nats:" + subject, Err: err}
	}
	return nil
}

// Close closes the underlying NATS connection without draining it.
func (p *BusPublisher) Close() error {
	p.conn.Close()
	return nil
}

var _ Publisher = (*BusPublisher)(nil)
