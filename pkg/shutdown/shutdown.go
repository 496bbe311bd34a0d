package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Shutdown coordinates graceful process teardown: it listens for OS signals
// (or a manual trigger), then runs every registered callback concurrently,
// bounding each one by its own optional timeout.
type Shutdown struct {
	logger    zerolog.Logger
	rootCtx   context.Context
	cancel    func()
	mutex     sync.Mutex
	callbacks []callback
	sigCh     chan os.Signal
}

type callback struct {
	name    string
	f       func()
	timeout time.Duration
}

// NewShutdown creates a shutdown coordinator bound to logger.
func NewShutdown(logger zerolog.Logger) *Shutdown {
	ctx, cancel := context.WithCancel(context.Background())
	return &Shutdown{
		logger:    logger,
		rootCtx:   ctx,
		cancel:    cancel,
		callbacks: make([]callback, 0),
		sigCh:     make(chan os.Signal, 1),
	}
}

// HookShutdownCallback registers a callback function to be executed during shutdown.
// The timeout parameter specifies how long to wait for the callback to complete.
// If timeout is 0, the callback runs without a timeout.
func (s *Shutdown) HookShutdownCallback(name string, f func(), timeout time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.callbacks = append(s.callbacks, callback{
		name:    name,
		f:       f,
		timeout: timeout,
	})
}

// Context returns the root context, cancelled the moment shutdown begins.
// Long-running loops should select on Context().Done() to stop accepting new work.
func (s *Shutdown) Context() context.Context {
	return s.rootCtx
}

// SysDown returns a channel closed the moment shutdown begins.
func (s *Shutdown) SysDown() <-chan struct{} {
	return s.rootCtx.Done()
}

// WaitForShutdown blocks until one of sigs is received, then runs every
// registered callback and returns once they have all finished or timed out.
func (s *Shutdown) WaitForShutdown(sigs ...os.Signal) {
	signal.Notify(s.sigCh, sigs...)
	<-s.sigCh
	s.cancel()
	s.logger.Info().Msg("shutdown signal received, draining in-flight work")
	s.shutdown()
	s.logger.Info().Msg("shutdown completed")
}

// ShutdownNow manually triggers the shutdown process without waiting for a signal.
func (s *Shutdown) ShutdownNow() {
	s.cancel()
	s.logger.Info().Msg("manual shutdown triggered")
	s.shutdown()
	s.logger.Info().Msg("shutdown completed")
}

func (s *Shutdown) shutdown() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	wg := sync.WaitGroup{}
	for _, f := range s.callbacks {
		wg.Add(1)
		go func(f callback) {
			defer wg.Done()

			var ctx context.Context
			var cancel context.CancelFunc
			if f.timeout > 0 {
				ctx, cancel = context.WithTimeout(context.Background(), f.timeout)
				defer cancel()
			} else {
				ctx = context.Background()
			}

			done := make(chan struct{})
			go func() {
				defer close(done)
				f.f()
			}()

			select {
			case <-done:
				s.logger.Debug().Str("callback", f.name).Msg("shutdown callback done")
			case <-ctx.Done():
				if f.timeout > 0 {
					s.logger.Error().Str("callback", f.name).Dur("timeout", f.timeout).Msg("shutdown callback timed out")
				}
			}
		}(f)
	}
	wg.Wait()
}
