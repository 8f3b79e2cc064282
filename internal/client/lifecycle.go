package client

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrShutdownTimeout is returned when the draining goroutine does not exit
// in time.
var ErrShutdownTimeout = errors.New("shutdown timeout exceeded")

// drainer runs the consumer side of a client on its own goroutine. The
// goroutine sees two signals: its context is cancelled so a consumer stuck
// in Consume can give up, and stop is closed so the loop performs one last
// drain before it exits.
type drainer struct {
	client string
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	stop   chan struct{}
	exited chan struct{}

	stopping atomic.Bool
}

func newDrainer(ctx context.Context, client string, logger *zap.Logger) *drainer {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)

	return &drainer{
		client: client,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// run starts loop on the draining goroutine.
func (d *drainer) run(loop func(ctx context.Context, stop <-chan struct{})) {
	go func() {
		defer close(d.exited)
		if d.logger != nil {
			d.logger.Debug("Draining started", zap.String("client", d.client))
		}
		loop(d.ctx, d.stop)
	}()
}

// shutdown asks the loop for its final drain and waits for it at most
// timeout. Later calls return immediately.
func (d *drainer) shutdown(timeout time.Duration) error {
	if !d.stopping.CompareAndSwap(false, true) {
		return nil
	}
	close(d.stop)
	defer d.cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-d.exited:
		if d.logger != nil {
			d.logger.Debug("Draining stopped", zap.String("client", d.client))
		}
		return nil
	case <-timer.C:
		if d.logger != nil {
			d.logger.Warn("Consumer still busy after shutdown timeout",
				zap.String("client", d.client),
				zap.Duration("timeout", timeout))
		}
		return ErrShutdownTimeout
	}
}
