// Package client runs the process wide tracer on a hosted platform. It owns
// the trace buffer, hands every filled registry to a Consumer on a
// dedicated goroutine through a bounded queue, and returns the registry to
// the tracer once the consumer is done with it.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tmykhalevych/event-tracer/internal/config"
	"github.com/tmykhalevych/event-tracer/internal/telemetry"
	"github.com/tmykhalevych/event-tracer/pkg/callback"
	"github.com/tmykhalevych/event-tracer/pkg/critical"
	"github.com/tmykhalevych/event-tracer/pkg/domain"
	"github.com/tmykhalevych/event-tracer/pkg/kernel"
	"github.com/tmykhalevych/event-tracer/pkg/registry"
	"github.com/tmykhalevych/event-tracer/pkg/slab"
	"github.com/tmykhalevych/event-tracer/pkg/span"
	"github.com/tmykhalevych/event-tracer/pkg/tracer"
)

// ErrTracerRunning is returned by New while another tracer is initialized.
var ErrTracerRunning = errors.New("a tracer is already running in this process")

// Batch is a filled registry as seen by a consumer. Events and the messages
// they reference are only valid until Consume returns.
type Batch struct {
	Events   []domain.Event
	Messages *slab.Allocator
}

// Consumer reads delivered batches on the draining goroutine.
type Consumer interface {
	Consume(ctx context.Context, batch Batch) error
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(ctx context.Context, batch Batch) error

func (f ConsumerFunc) Consume(ctx context.Context, batch Batch) error {
	return f(ctx, batch)
}

// Config configures a Client
type Config struct {
	// Name labels logs and metrics (default: "evtrace")
	Name string

	// Tracer sizes the buffer and the queue (default: config.DefaultTracerConfig())
	Tracer *config.TracerConfig

	Kernel   kernel.Kernel
	Consumer Consumer

	// Port provides the critical sections (default: critical.NewMutexPort())
	Port critical.Port

	// Clock returns the current timestamp (default: microseconds since New)
	Clock callback.Getter[uint64]

	// Reporter receives tracer errors (default: a reporter logging to Logger)
	Reporter *telemetry.Reporter

	Logger *zap.Logger
}

// Client connects the process wide tracer to a consumer.
type Client struct {
	name     string
	cfg      *config.TracerConfig
	logger   *zap.Logger
	consumer Consumer
	reporter *telemetry.Reporter

	port   critical.Port
	lock   *critical.Interrupts
	stater kernel.SystemStater
	tracer *tracer.Tracer
	queue  *batchQueue

	dumpMu      sync.Mutex
	systemState []kernel.TaskInfo

	drainer *drainer
	started atomic.Bool
	stopped atomic.Bool
}

// New allocates the trace buffer and initializes the process wide tracer.
// Call Start to begin draining and Stop to release the tracer.
func New(cfg Config) (*Client, error) {
	if cfg.Kernel == nil {
		return nil, errors.New("kernel is required")
	}
	if cfg.Consumer == nil {
		return nil, errors.New("consumer is required")
	}
	if cfg.Name == "" {
		cfg.Name = "evtrace"
	}
	if cfg.Tracer == nil {
		cfg.Tracer = config.DefaultTracerConfig()
	}
	tc := *cfg.Tracer
	tc.SetDefaults()
	if err := tc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracer config: %w", err)
	}
	if cfg.Port == nil {
		cfg.Port = critical.NewMutexPort()
	}
	if !cfg.Clock.Valid() {
		epoch := time.Now()
		cfg.Clock = callback.NewGetter(func() uint64 {
			return uint64(time.Since(epoch).Microseconds())
		})
	}
	if cfg.Reporter == nil {
		cfg.Reporter = telemetry.NewReporter(telemetry.Config{
			Name:           cfg.Name,
			Logger:         cfg.Logger,
			MetricsEnabled: tc.MetricsEnabled,
			ReportInterval: tc.ReportInterval,
		})
	}
	if tracer.Instance() != nil {
		return nil, ErrTracerRunning
	}

	c := &Client{
		name:        cfg.Name,
		cfg:         &tc,
		logger:      cfg.Logger,
		consumer:    cfg.Consumer,
		reporter:    cfg.Reporter,
		port:        cfg.Port,
		lock:        critical.NewInterrupts(cfg.Port),
		queue:       newBatchQueue(tc.QueueSize),
		systemState: make([]kernel.TaskInfo, tc.MaxTasks),
	}
	c.stater, _ = cfg.Kernel.(kernel.SystemStater)

	// Backed by events so the registries start suitably aligned.
	storage := make([]domain.Event, (tc.BufferSize+eventSize-1)/eventSize)

	c.tracer = tracer.Init(tracer.Settings{
		Buffer:        span.Transform[byte](span.New(storage)),
		MessageSlabs:  tc.MessageSlabs(),
		MaxMessageLen: tc.MaxMessageLen,
		Kernel:        cfg.Kernel,
		Clock:         cfg.Clock,
		DataReady:     callback.New2(c.produce),
		ErrorHook:     c.reporter.Hook(),
	})
	c.reporter.AttachTracer(c.tracer)

	if c.logger != nil {
		c.logger.Info("Tracer initialized",
			zap.String("client", c.name),
			zap.Int("registry_capacity", c.tracer.RegistryCapacity()),
			zap.Int("message_slabs", tc.MessageSlabs()),
			zap.Int("queue_size", tc.QueueSize))
	}
	return c, nil
}

const eventSize = 16

// Start launches the draining goroutine.
func (c *Client) Start(ctx context.Context) error {
	if c.stopped.Load() {
		return errors.New("client already stopped")
	}
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("client already started")
	}

	c.drainer = newDrainer(ctx, c.name, c.logger)
	c.drainer.run(c.drain)
	return nil
}

// Stop flushes the tracer, waits for the consumer to drain what is left and
// releases the process wide tracer.
func (c *Client) Stop(timeout time.Duration) error {
	if !c.stopped.CompareAndSwap(false, true) {
		return nil
	}
	deadline := time.Now().Add(timeout)

	c.flushWhenIdle(deadline)

	var err error
	if c.started.Load() {
		err = c.drainer.shutdown(time.Until(deadline))
	} else {
		c.drainQueue(context.Background())
	}
	c.queue.close()

	if c.logger != nil {
		stats := c.tracer.Stats()
		c.logger.Info("Tracer stopped",
			zap.String("client", c.name),
			zap.Uint64("recorded", stats.Recorded),
			zap.Uint64("batches", stats.Batches),
			zap.Uint64("dropped_batches", stats.DroppedBatches),
			zap.Int64("send_failures", c.queue.failed.Load()))
	}
	return err
}

// Emit records a user event for the running task. DUMP_SYSTEM_STATE records
// one event per task instead, and START_CAPTURING is followed by a dump so
// the capture starts with fresh task names.
func (c *Client) Emit(id domain.UserEventID, msg string) error {
	if id == domain.UserDumpSystemState {
		return c.DumpSystemState()
	}

	c.registerUserEvent(id, msg)

	if id == domain.UserStartCapturing {
		return c.DumpSystemState()
	}
	return nil
}

// DumpSystemState records a DUMP_SYSTEM_STATE event carrying the name of
// every task known to the kernel.
func (c *Client) DumpSystemState() error {
	c.dumpMu.Lock()
	defer c.dumpMu.Unlock()

	if c.stater == nil {
		return c.fail(fmt.Errorf("%w: kernel cannot list tasks", domain.ErrSystemStateUnavailable))
	}
	if n := c.stater.TaskCount(); n > len(c.systemState) {
		return c.fail(fmt.Errorf("%w: %d tasks, room for %d", domain.ErrSystemStateUnavailable, n, len(c.systemState)))
	}

	n, err := c.stater.SystemState(c.systemState)
	if err != nil {
		return c.fail(fmt.Errorf("%w: %w", domain.ErrSystemStateUnavailable, err))
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	for i := range c.systemState[:n] {
		if status := &c.systemState[i]; status.Name != "" {
			c.tracer.RegisterUserEvent(domain.UserDumpSystemState, status.Name, status)
		}
	}
	return nil
}

// Port returns the critical section port shared with the trace hooks.
func (c *Client) Port() critical.Port { return c.port }

// Tracer returns the tracer owned by the client.
func (c *Client) Tracer() *tracer.Tracer { return c.tracer }

// Reporter returns the reporter receiving tracer errors.
func (c *Client) Reporter() *telemetry.Reporter { return c.reporter }

// QueueUtilization returns the share of the queue in use, in percent.
func (c *Client) QueueUtilization() float64 { return c.queue.utilization() }

// produce runs inside the tracer, in the critical section of whoever filled
// the registry. It must not block.
func (c *Client) produce(r *registry.Registry, done callback.Thunk) {
	if c.queue.trySend(delivery{registry: r, done: done}) {
		return
	}
	c.reporter.ReportError(domain.ErrSendFailed)
	done.Call()
}

func (c *Client) drain(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		c.drainQueue(ctx)

		select {
		case <-stop:
			c.drainQueue(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
		}
	}
}

func (c *Client) drainQueue(ctx context.Context) {
	for {
		d, ok := c.queue.tryReceive()
		if !ok {
			return
		}
		c.deliver(ctx, d)
	}
}

func (c *Client) deliver(ctx context.Context, d delivery) {
	events := d.registry.Events()
	n := len(events)

	if err := c.consumer.Consume(ctx, Batch{Events: events, Messages: c.tracer.Messages()}); err != nil {
		c.reporter.ReportError(err)
		if c.logger != nil {
			c.logger.Warn("Consumer failed",
				zap.String("client", c.name),
				zap.Int("events", n),
				zap.Error(err))
		}
	}

	c.release(d)
	c.reporter.RecordBatch(ctx, n)
}

func (c *Client) registerUserEvent(id domain.UserEventID, msg string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.tracer.RegisterUserEvent(id, msg, nil)
}

func (c *Client) release(d delivery) {
	c.lock.Lock()
	defer c.lock.Unlock()
	d.done.Call()
}

// flushWhenIdle waits for the consumer to return the pending registry so
// the final flush is not dropped, then resets the process wide tracer.
func (c *Client) flushWhenIdle(deadline time.Time) {
	for c.started.Load() && time.Now().Before(deadline) && !c.idle() {
		time.Sleep(c.cfg.PollingInterval / 4)
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if tracer.Instance() == c.tracer {
		tracer.Reset()
	} else {
		c.tracer.Close()
	}
}

func (c *Client) idle() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.tracer.Pending().Empty() && c.queue.len() == 0
}

func (c *Client) fail(err error) error {
	c.reporter.ReportError(err)
	return err
}
