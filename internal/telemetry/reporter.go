// Package telemetry turns the tracer error hook and consumer activity into
// counters, throttled logs, OpenTelemetry instruments and a Prometheus
// collector.
package telemetry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tmykhalevych/event-tracer/pkg/callback"
	"github.com/tmykhalevych/event-tracer/pkg/domain"
	"github.com/tmykhalevych/event-tracer/pkg/tracer"
)

const meterName = "github.com/tmykhalevych/event-tracer"

// Reason classifies a recoverable tracer error.
type Reason int

const (
	ReasonOther Reason = iota
	ReasonBufferFull
	ReasonConsumerTooSlow
	ReasonMessageLost
	ReasonSendFailed
	ReasonBufferInsufficient
	ReasonSystemStateUnavailable

	reasonCount
)

var reasonNames = [reasonCount]string{
	ReasonOther:                  "other",
	ReasonBufferFull:             "buffer_full",
	ReasonConsumerTooSlow:        "consumer_too_slow",
	ReasonMessageLost:            "message_lost",
	ReasonSendFailed:             "send_failed",
	ReasonBufferInsufficient:     "buffer_insufficient",
	ReasonSystemStateUnavailable: "system_state_unavailable",
}

func (r Reason) String() string {
	if r < 0 || r >= reasonCount {
		return reasonNames[ReasonOther]
	}
	return reasonNames[r]
}

// Classify maps err onto a Reason.
func Classify(err error) Reason {
	switch {
	case errors.Is(err, domain.ErrConsumerTooSlow):
		return ReasonConsumerTooSlow
	case errors.Is(err, domain.ErrMessageLost):
		return ReasonMessageLost
	case errors.Is(err, domain.ErrSendFailed):
		return ReasonSendFailed
	case errors.Is(err, domain.ErrBufferFull):
		return ReasonBufferFull
	case errors.Is(err, domain.ErrBufferInsufficient):
		return ReasonBufferInsufficient
	case errors.Is(err, domain.ErrSystemStateUnavailable):
		return ReasonSystemStateUnavailable
	default:
		return ReasonOther
	}
}

// StatsSource is implemented by *tracer.Tracer.
type StatsSource interface {
	Stats() tracer.Stats
}

// Config configures a Reporter
type Config struct {
	// Name labels logs and Prometheus metrics (default: "evtrace")
	Name   string
	Logger *zap.Logger
	// Meter defaults to the global meter provider
	Meter metric.Meter
	// MetricsEnabled turns OpenTelemetry instruments on
	MetricsEnabled bool
	// ReportInterval is the minimum spacing of repeated error logs. Zero
	// logs every error.
	ReportInterval time.Duration
	// DropRateThreshold is the share of dropped batches above which the
	// tracer is reported as degraded (default: 0.1)
	DropRateThreshold float64
	// Tracer is read for Statistics and Health. Optional.
	Tracer StatsSource
}

// Reporter counts tracer errors and consumed batches.
type Reporter struct {
	name   string
	logger *zap.Logger
	source StatsSource

	errorCount      atomic.Int64
	byReason        [reasonCount]atomic.Int64
	lastErrMu       sync.Mutex
	lastErr         error
	eventsConsumed  atomic.Int64
	batchesConsumed atomic.Int64
	lastBatchTime   atomic.Value
	startTime       time.Time

	dropRateThreshold float64
	throttle          [reasonCount]rate.Sometimes

	errorCounter   metric.Int64Counter
	eventsCounter  metric.Int64Counter
	batchesCounter metric.Int64Counter
	batchSize      metric.Int64Histogram
	healthStatus   metric.Int64Gauge
	reasonAttrs    [reasonCount]metric.AddOption
}

// NewReporter creates a reporter. Instrument creation failures are logged
// and leave the instrument disabled.
func NewReporter(cfg Config) *Reporter {
	if cfg.Name == "" {
		cfg.Name = "evtrace"
	}
	if cfg.DropRateThreshold == 0 {
		cfg.DropRateThreshold = 0.1
	}

	r := &Reporter{
		name:              cfg.Name,
		logger:            cfg.Logger,
		source:            cfg.Tracer,
		startTime:         time.Now(),
		dropRateThreshold: cfg.DropRateThreshold,
	}
	for i := range r.throttle {
		r.throttle[i] = rate.Sometimes{Every: 1}
		if cfg.ReportInterval > 0 {
			r.throttle[i] = rate.Sometimes{First: 1, Interval: cfg.ReportInterval}
		}
		r.reasonAttrs[i] = metric.WithAttributeSet(attribute.NewSet(attribute.String("reason", Reason(i).String())))
	}

	if cfg.MetricsEnabled {
		meter := cfg.Meter
		if meter == nil {
			meter = otel.Meter(meterName)
		}
		r.initializeMetrics(meter)
	}
	return r
}

func (r *Reporter) initializeMetrics(meter metric.Meter) {
	var err error

	r.errorCounter, err = meter.Int64Counter(
		"evtrace_errors_total",
		metric.WithDescription("Recoverable tracer errors by reason"),
		metric.WithUnit("1"),
	)
	if err != nil {
		r.debug("Failed to create error counter", err)
		r.errorCounter = nil
	}

	r.eventsCounter, err = meter.Int64Counter(
		"evtrace_events_consumed_total",
		metric.WithDescription("Events handed to the consumer"),
		metric.WithUnit("1"),
	)
	if err != nil {
		r.debug("Failed to create events counter", err)
		r.eventsCounter = nil
	}

	r.batchesCounter, err = meter.Int64Counter(
		"evtrace_batches_consumed_total",
		metric.WithDescription("Registries drained by the consumer"),
		metric.WithUnit("1"),
	)
	if err != nil {
		r.debug("Failed to create batches counter", err)
		r.batchesCounter = nil
	}

	r.batchSize, err = meter.Int64Histogram(
		"evtrace_batch_size_events",
		metric.WithDescription("Events per drained registry"),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(1, 8, 32, 128, 512, 2048),
	)
	if err != nil {
		r.debug("Failed to create batch size histogram", err)
		r.batchSize = nil
	}

	// 0=unhealthy, 1=degraded, 2=healthy
	r.healthStatus, err = meter.Int64Gauge(
		"evtrace_health_status",
		metric.WithDescription("Health status (0=unhealthy, 1=degraded, 2=healthy)"),
		metric.WithUnit("1"),
	)
	if err != nil {
		r.debug("Failed to create health status gauge", err)
		r.healthStatus = nil
	}
}

// Hook returns the callback to install as tracer.Settings.ErrorHook.
func (r *Reporter) Hook() callback.Func[error] {
	return callback.Bind(r, (*Reporter).ReportError)
}

// ReportError records a recoverable error. Logs are throttled per reason.
func (r *Reporter) ReportError(err error) {
	if err == nil {
		return
	}
	reason := Classify(err)

	r.errorCount.Add(1)
	r.byReason[reason].Add(1)
	// Copying the interface keeps the hook free of allocations.
	r.lastErrMu.Lock()
	r.lastErr = err
	r.lastErrMu.Unlock()

	if r.errorCounter != nil {
		r.errorCounter.Add(context.Background(), 1, r.reasonAttrs[reason])
	}

	if r.logger != nil {
		r.throttle[reason].Do(func() {
			r.logger.Warn("Tracing data lost",
				zap.String("tracer", r.name),
				zap.Stringer("reason", reason),
				zap.Int64("occurrences", r.byReason[reason].Load()),
				zap.Error(err))
		})
	}
}

// RecordBatch records a registry drained by the consumer.
func (r *Reporter) RecordBatch(ctx context.Context, events int) {
	r.batchesConsumed.Add(1)
	r.eventsConsumed.Add(int64(events))
	r.lastBatchTime.Store(time.Now())

	if r.batchesCounter != nil {
		r.batchesCounter.Add(ctx, 1)
	}
	if r.eventsCounter != nil {
		r.eventsCounter.Add(ctx, int64(events))
	}
	if r.batchSize != nil {
		r.batchSize.Record(ctx, int64(events))
	}
}

// Errors returns how many errors of the given reason were reported.
func (r *Reporter) Errors(reason Reason) int64 {
	if reason < 0 || reason >= reasonCount {
		return 0
	}
	return r.byReason[reason].Load()
}

func (r *Reporter) lastError() error {
	r.lastErrMu.Lock()
	defer r.lastErrMu.Unlock()
	return r.lastErr
}

// AttachTracer sets the source read by Statistics and Health. It must be
// called before the reporter is shared with other goroutines.
func (r *Reporter) AttachTracer(src StatsSource) {
	r.source = src
}

// Name returns the reporter name.
func (r *Reporter) Name() string {
	return r.name
}

func (r *Reporter) debug(msg string, err error) {
	if r.logger != nil {
		r.logger.Debug(msg, zap.String("tracer", r.name), zap.Error(err))
	}
}
