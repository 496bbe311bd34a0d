// Package worker runs the consume-dispatch-acknowledge loop that turns raw
// trade messages on the ingest subject into finalized candles on the
// publish side, grounded on the original service's receive/process/ack
// cycle and adapted to NATS JetStream's pull-consumer ack/nak semantics.
package worker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/flowcandle/candlestream/internal/aggregator"
	"github.com/flowcandle/candlestream/internal/model"
	"github.com/flowcandle/candlestream/internal/publisher"
	"github.com/flowcandle/candlestream/pkg/logger"
)

// defaultFetchWait bounds how long a single Fetch call blocks waiting for
// at least one message before the loop rechecks ctx/stopCh.
const defaultFetchWait = 2 * time.Second

// Dispatcher is the thing a Worker drives per consumed trade. Aggregator
// satisfies it directly.
type Dispatcher interface {
	AddTrade(trade model.Trade) ([]aggregator.Candle, error)
}

// Worker consumes trades from a JetStream pull subscription, folds each one
// into the aggregator, and publishes any candles it closes. A message is
// only acknowledged once every resulting candle has been durably published;
// a transient publish failure is nak'd so JetStream redelivers it, giving
// at-least-once delivery across the ingest-to-sink path.
type Worker struct {
	sub   *nats.Subscription
	agg   Dispatcher
	pub   publisher.Publisher
	batch int

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New builds a Worker over an existing pull subscription. batch controls
// how many messages are pulled per Fetch call.
func New(sub *nats.Subscription, agg Dispatcher, pub publisher.Publisher, batch int) *Worker {
	if batch <= 0 {
		batch = 1
	}
	return &Worker{
		sub:    sub,
		agg:    agg,
		pub:    pub,
		batch:  batch,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start runs the consume loop until ctx is canceled or Stop is called.
// It blocks; call it from its own goroutine.
func (w *Worker) Start(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		msgs, err := w.sub.Fetch(w.batch, nats.MaxWait(defaultFetchWait))
		if err != nil {
			if err == nats.ErrTimeout || err == context.DeadlineExceeded {
				continue
			}
			logger.Log.Error().Err(err).Msg("fetch failed, retrying")
			continue
		}

		for _, msg := range msgs {
			w.handle(ctx, msg)
		}
	}
}

// Stop signals the consume loop to exit and waits for it to return.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	<-w.doneCh
}

// outcome tells the caller whether the delivered message should be
// acknowledged or redelivered.
type outcome int

const (
	ack outcome = iota
	nak
)

func (w *Worker) handle(ctx context.Context, msg *nats.Msg) {
	switch w.process(ctx, msg.Data) {
	case ack:
		if err := msg.Ack(); err != nil {
			logger.Log.Warn().Err(err).Msg("ack failed")
		}
	case nak:
		_ = msg.Nak()
	}
}

// process decodes and folds one trade payload into the aggregator, and
// publishes every candle it closes. It is separated from handle so the
// decision logic can be exercised without a live JetStream message.
func (w *Worker) process(ctx context.Context, data []byte) outcome {
	trade, err := decodeTrade(data)
	if err != nil {
		// A malformed trade can never succeed on redelivery: drop it rather
		// than let JetStream retry it forever.
		logger.Log.Warn().Err(err).Msg("dropping malformed trade")
		return ack
	}

	candles, err := w.agg.AddTrade(trade)
	if err != nil {
		logger.Log.Error().Err(err).Str("symbol", trade.Symbol).Msg("aggregation failed")
		return nak
	}

	for _, candle := range candles {
		out := model.NewOHLCMessage(trade.Symbol, candle.Timeframe, candle.OHLC)
		if err := w.pub.Publish(ctx, out); err != nil {
			logger.Log.Error().Err(err).Str("symbol", trade.Symbol).Msg("publish failed, message will be redelivered")
			return nak
		}
	}

	return ack
}

func decodeTrade(data []byte) (model.Trade, error) {
	var trade model.Trade
	if err := json.Unmarshal(data, &trade); err != nil {
		return model.Trade{}, &model.BadInputError{Reason: err.Error()}
	}
	if err := trade.Validate(); err != nil {
		return model.Trade{}, err
	}
	return trade, nil
}
