package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tmykhalevych/event-tracer/pkg/tracer"
)

// HealthState of the tracing pipeline
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// HealthStatus is returned by Reporter.Health
type HealthStatus struct {
	State   HealthState `json:"state" yaml:"state"`
	Message string      `json:"message" yaml:"message"`
	Error   string      `json:"error,omitempty" yaml:"error,omitempty"`
}

// Statistics is a snapshot of the reporter and tracer counters
type Statistics struct {
	EventsConsumed  int64            `json:"events_consumed" yaml:"events_consumed"`
	BatchesConsumed int64            `json:"batches_consumed" yaml:"batches_consumed"`
	ErrorCount      int64            `json:"error_count" yaml:"error_count"`
	Errors          map[string]int64 `json:"errors" yaml:"errors"`
	LastBatchTime   time.Time        `json:"last_batch_time" yaml:"last_batch_time"`
	Uptime          time.Duration    `json:"uptime" yaml:"uptime"`
	Tracer          *tracer.Stats    `json:"tracer,omitempty" yaml:"tracer,omitempty"`
}

// Statistics returns reporter statistics
func (r *Reporter) Statistics() *Statistics {
	lastBatchTime := time.Time{}
	if t, ok := r.lastBatchTime.Load().(time.Time); ok {
		lastBatchTime = t
	}

	errs := make(map[string]int64)
	for i := range r.byReason {
		if n := r.byReason[i].Load(); n > 0 {
			errs[Reason(i).String()] = n
		}
	}

	stats := &Statistics{
		EventsConsumed:  r.eventsConsumed.Load(),
		BatchesConsumed: r.batchesConsumed.Load(),
		ErrorCount:      r.errorCount.Load(),
		Errors:          errs,
		LastBatchTime:   lastBatchTime,
		Uptime:          time.Since(r.startTime),
	}
	if r.source != nil {
		ts := r.source.Stats()
		stats.Tracer = &ts
	}
	return stats
}

// Health derives the pipeline health from the drop counters
func (r *Reporter) Health() *HealthStatus {
	var lastErr string
	if e := r.lastError(); e != nil {
		lastErr = e.Error()
	}

	if n := r.byReason[ReasonSendFailed].Load(); n > 0 && r.batchesConsumed.Load() == 0 {
		r.recordHealth(0, "consumer_unreachable")
		return &HealthStatus{
			State:   HealthUnhealthy,
			Message: fmt.Sprintf("%s consumer never drained a batch, %d sends failed", r.name, n),
			Error:   lastErr,
		}
	}

	dropped := r.byReason[ReasonConsumerTooSlow].Load() + r.byReason[ReasonSendFailed].Load()
	delivered := r.batchesConsumed.Load()
	if r.source != nil {
		ts := r.source.Stats()
		dropped = int64(ts.DroppedBatches) + r.byReason[ReasonSendFailed].Load()
		delivered = int64(ts.Batches)
	}

	if total := dropped + delivered; total > 0 {
		dropRate := float64(dropped) / float64(total)
		if dropRate > r.dropRateThreshold {
			r.recordHealth(1, "high_drop_rate")
			return &HealthStatus{
				State: HealthDegraded,
				Message: fmt.Sprintf("High drop rate: %.1f%% (threshold: %.1f%%)",
					dropRate*100, r.dropRateThreshold*100),
				Error: lastErr,
			}
		}
	}

	if n := r.byReason[ReasonMessageLost].Load(); n > 0 {
		r.recordHealth(1, "message_lost")
		return &HealthStatus{
			State:   HealthDegraded,
			Message: fmt.Sprintf("%d event messages lost, message pool too small", n),
			Error:   lastErr,
		}
	}

	r.recordHealth(2, "")
	return &HealthStatus{
		State:   HealthHealthy,
		Message: fmt.Sprintf("%s tracer operating normally", r.name),
	}
}

func (r *Reporter) recordHealth(value int64, reason string) {
	if r.healthStatus == nil {
		return
	}
	if reason == "" {
		r.healthStatus.Record(context.Background(), value)
		return
	}
	r.healthStatus.Record(context.Background(), value,
		metric.WithAttributes(attribute.String("reason", reason)))
}
