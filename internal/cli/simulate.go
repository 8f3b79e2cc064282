package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tmykhalevych/event-tracer/internal/client"
	"github.com/tmykhalevych/event-tracer/internal/config"
	"github.com/tmykhalevych/event-tracer/internal/output"
	"github.com/tmykhalevych/event-tracer/internal/sim"
	"github.com/tmykhalevych/event-tracer/internal/telemetry"
	"github.com/tmykhalevych/event-tracer/pkg/hooks"
)

const shutdownTimeout = 5 * time.Second

type simulateOptions struct {
	ticks        int
	sliceTicks   int
	messageEvery int
	allocEvery   int
	tickInterval time.Duration
	traceTicks   bool
	output       string
	metricsAddr  string
}

// tracerFlags maps simulate flags onto viper keys of the tracer section.
var tracerFlags = map[string]string{
	"buffer-size":      "tracer.buffer_size",
	"max-message-len":  "tracer.max_message_len",
	"queue-size":       "tracer.queue_size",
	"polling-interval": "tracer.polling_interval",
	"max-tasks":        "tracer.max_tasks",
}

func newSimulateCommand(opts *options) *cobra.Command {
	so := &simulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Trace a simulated round-robin kernel",
		Long: `Run the tracer against a simulated kernel with three tasks scheduled
round-robin. Traces are printed as they are delivered by the consumer,
either human readable or as JSON lines understood by texec.`,
		Example: `  # Print traces as JSON lines and analyze them
  evtrace simulate --ticks 200 --output json | evtrace texec

  # Simulate in real time and expose tracer metrics
  evtrace simulate --ticks 5000 --tick-interval 10ms --metrics-addr :9464`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, opts, so)
		},
	}

	f := cmd.Flags()
	f.IntVar(&so.ticks, "ticks", 100, "number of scheduler ticks to simulate")
	f.IntVar(&so.sliceTicks, "slice-ticks", 1, "ticks per round-robin time slice")
	f.IntVar(&so.messageEvery, "message-every", 10, "emit a user message every N ticks (0 disables)")
	f.IntVar(&so.allocEvery, "alloc-every", 5, "record a malloc/free pair every N ticks (0 disables)")
	f.DurationVar(&so.tickInterval, "tick-interval", 0, "wall time per tick (0 runs as fast as possible)")
	f.BoolVar(&so.traceTicks, "trace-ticks", false, "record TICK_COUNT_INCREASE events")
	f.StringVarP(&so.output, "output", "o", "human", "trace format (human, json)")
	f.StringVar(&so.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while simulating")

	d := config.DefaultTracerConfig()
	f.Int("buffer-size", d.BufferSize, "trace buffer size in bytes")
	f.Int("max-message-len", d.MaxMessageLen, "message slab size in bytes")
	f.Int("queue-size", d.QueueSize, "depth of the queue between tracer and consumer")
	f.Duration("polling-interval", d.PollingInterval, "consumer polling interval")
	f.Int("max-tasks", d.MaxTasks, "largest task list a system state dump can hold")
	for flag, key := range tracerFlags {
		_ = opts.v.BindPFlag(key, f.Lookup(flag))
	}

	return cmd
}

func runSimulate(cmd *cobra.Command, opts *options, so *simulateOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := opts.logger
	cfg, err := config.FromViper(opts.v)
	if err != nil {
		return err
	}

	consumer, err := output.NewFormatter(so.output, cmd.OutOrStdout(), output.Options{
		MaxMessageLen: cfg.MaxMessageLen,
		NoColor:       opts.noColor,
	})
	if err != nil {
		return err
	}

	simulator, err := sim.New(sim.Config{
		Ticks:        so.ticks,
		SliceTicks:   so.sliceTicks,
		MessageEvery: so.messageEvery,
		AllocEvery:   so.allocEvery,
		TickInterval: so.tickInterval,
		TraceTicks:   so.traceTicks,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	reporter := telemetry.NewReporter(telemetry.Config{
		Name:           "evtrace",
		Logger:         logger,
		MetricsEnabled: cfg.MetricsEnabled,
		ReportInterval: cfg.ReportInterval,
	})

	c, err := client.New(client.Config{
		Name:     "evtrace",
		Tracer:   cfg,
		Kernel:   simulator.Kernel(),
		Clock:    simulator.Clock(),
		Consumer: consumer,
		Reporter: reporter,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create tracer client: %w", err)
	}
	defer c.Stop(shutdownTimeout)

	if so.metricsAddr != "" {
		srv, addr, err := serveMetrics(so.metricsAddr, reporter, logger)
		if err != nil {
			return err
		}
		logger.Info("Serving metrics", zap.String("addr", addr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := c.Start(ctx); err != nil {
		return err
	}

	result, runErr := simulator.Run(ctx, hooks.New(c.Port()), c)
	stopErr := c.Stop(shutdownTimeout)

	stats := c.Tracer().Stats()
	health := reporter.Health()
	logger.Info("Simulation traced",
		zap.String("run_id", simulator.RunID()),
		zap.Int("switches", result.Switches),
		zap.Uint64("recorded", stats.Recorded),
		zap.Uint64("batches", stats.Batches),
		zap.Uint64("dropped_batches", stats.DroppedBatches),
		zap.Uint64("lost_messages", stats.LostMessages),
		zap.String("health", string(health.State)))

	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	return errors.Join(runErr, stopErr)
}

// serveMetrics starts a Prometheus endpoint for reporter and returns the
// address it listens on.
func serveMetrics(addr string, reporter *telemetry.Reporter, logger *zap.Logger) (*http.Server, string, error) {
	handler, _, err := telemetry.Handler(reporter)
	if err != nil {
		return nil, "", fmt.Errorf("failed to register metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return srv, ln.Addr().String(), nil
}
