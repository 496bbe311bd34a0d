// Package publisher fans a finalized candle out to every configured sink in
// parallel: the NATS JetStream bus subscribers read from, and the
// analytical column store queries against.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/flowcandle/candlestream/internal/model"
)

// Publisher delivers one finalized OHLC message to a sink. Implementations
// must be safe for concurrent use: FanOut calls every publisher for the
// same candle at once.
type Publisher interface {
	Publish(ctx context.Context, msg model.OHLCMessage) error
	Close() error
}

// TransientSinkError reports a publish failure that a caller may choose to
// retry; it wraps the sink-specific error without losing which sink failed.
type TransientSinkError struct {
	Sink string
	Err  error
}

func (e *TransientSinkError) Error() string {
	return fmt.Sprintf("transient sink error (%s): %v", e.Sink, e.Err)
}

func (e *TransientSinkError) Unwrap() error {
	return e.Err
}

// FanOut dispatches every candle to a fixed set of publishers concurrently.
// A candle is only considered delivered once every sink has accepted it;
// the first sink failure is returned, but all sinks are always attempted.
type FanOut struct {
	publishers []Publisher
}

// NewFanOut builds a FanOut over the given publishers, in the order they
// should be listed for logging purposes. The order does not affect dispatch,
// since every publisher is called concurrently.
func NewFanOut(publishers ...Publisher) *FanOut {
	return &FanOut{publishers: publishers}
}

// Publish sends msg to every sink concurrently and waits for all of them.
// If more than one sink fails, only the first error encountered (in
// publisher order) is returned.
func (f *FanOut) Publish(ctx context.Context, msg model.OHLCMessage) error {
	errs := make([]error, len(f.publishers))

	var wg sync.WaitGroup
	for i, p := range f.publishers {
		wg.Add(1)
		go func(i int, p Publisher) {
			defer wg.Done()
			errs[i] = p.Publish(ctx, msg)
		}(i, p)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink, returning the first error encountered.
func (f *FanOut) Close() error {
	var first error
	for _, p := range f.publishers {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var _ Publisher = (*FanOut)(nil)

func marshal(msg model.OHLCMessage) ([]byte, error) {
	return json.Marshal(msg)
}
