package telemetry

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tmykhalevych/event-tracer/pkg/domain"
	"github.com/tmykhalevych/event-tracer/pkg/tracer"
)

type fakeSource struct {
	stats tracer.Stats
}

func (f *fakeSource) Stats() tracer.Stats { return f.stats }

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Reason
	}{
		{domain.ErrConsumerTooSlow, ReasonConsumerTooSlow},
		{fmt.Errorf("%w: %w", domain.ErrMessageLost, domain.ErrPoolExhausted), ReasonMessageLost},
		{fmt.Errorf("queue full: %w", domain.ErrSendFailed), ReasonSendFailed},
		{domain.ErrBufferFull, ReasonBufferFull},
		{domain.ErrBufferInsufficient, ReasonBufferInsufficient},
		{domain.ErrSystemStateUnavailable, ReasonSystemStateUnavailable},
		{fmt.Errorf("boom"), ReasonOther},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
	assert.Equal(t, "other", Reason(42).String())
}

func TestReporterCountsErrors(t *testing.T) {
	r := NewReporter(Config{Logger: zaptest.NewLogger(t)})
	hook := r.Hook()

	hook.Call(domain.ErrConsumerTooSlow)
	hook.Call(domain.ErrConsumerTooSlow)
	hook.Call(fmt.Errorf("%w: no pool", domain.ErrMessageLost))
	r.ReportError(nil)

	assert.Equal(t, int64(2), r.Errors(ReasonConsumerTooSlow))
	assert.Equal(t, int64(1), r.Errors(ReasonMessageLost))

	stats := r.Statistics()
	assert.Equal(t, int64(3), stats.ErrorCount)
	assert.Equal(t, map[string]int64{"consumer_too_slow": 2, "message_lost": 1}, stats.Errors)
	assert.Nil(t, stats.Tracer)
}

func TestReporterThrottlesLogs(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := NewReporter(Config{Logger: zap.New(core), ReportInterval: time.Hour})

	for i := 0; i < 50; i++ {
		r.ReportError(domain.ErrConsumerTooSlow)
	}
	r.ReportError(domain.ErrSendFailed)

	assert.Equal(t, 2, logs.Len(), "one log per reason within the interval")
	assert.Equal(t, int64(50), r.Errors(ReasonConsumerTooSlow))
}

func TestReporterLogsEveryErrorWithoutInterval(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := NewReporter(Config{Logger: zap.New(core)})

	for i := 0; i < 5; i++ {
		r.ReportError(domain.ErrConsumerTooSlow)
	}
	assert.Equal(t, 5, logs.Len())
}

func TestReportErrorDoesNotAllocate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"bare", Config{}},
		{"throttled logger", Config{Logger: zap.NewNop(), ReportInterval: time.Hour}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReporter(tt.cfg)
			hook := r.Hook()
			hook.Call(domain.ErrConsumerTooSlow)

			allocs := testing.AllocsPerRun(100, func() {
				hook.Call(domain.ErrConsumerTooSlow)
			})
			assert.Zero(t, allocs)
			assert.Equal(t, int64(102), r.Errors(ReasonConsumerTooSlow))
			assert.Equal(t, domain.ErrConsumerTooSlow.Error(), r.Health().Error)
		})
	}
}

func TestReporterOTelMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	r := NewReporter(Config{
		MetricsEnabled: true,
		Meter:          provider.Meter("test"),
		Logger:         zaptest.NewLogger(t),
	})
	r.ReportError(domain.ErrConsumerTooSlow)
	r.ReportError(domain.ErrConsumerTooSlow)
	r.RecordBatch(context.Background(), 32)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					sums[m.Name] += dp.Value
					if m.Name == "evtrace_errors_total" {
						reason, ok := dp.Attributes.Value("reason")
						require.True(t, ok)
						assert.Equal(t, "consumer_too_slow", reason.AsString())
					}
				}
			}
		}
	}

	assert.Equal(t, int64(2), sums["evtrace_errors_total"])
	assert.Equal(t, int64(1), sums["evtrace_batches_consumed_total"])
	assert.Equal(t, int64(32), sums["evtrace_events_consumed_total"])
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		r := NewReporter(Config{})
		r.RecordBatch(context.Background(), 10)
		assert.Equal(t, HealthHealthy, r.Health().State)
	})

	t.Run("consumer unreachable", func(t *testing.T) {
		r := NewReporter(Config{})
		r.ReportError(domain.ErrSendFailed)
		h := r.Health()
		assert.Equal(t, HealthUnhealthy, h.State)
		assert.Equal(t, domain.ErrSendFailed.Error(), h.Error)
	})

	t.Run("high drop rate", func(t *testing.T) {
		src := &fakeSource{stats: tracer.Stats{Batches: 6, DroppedBatches: 4}}
		r := NewReporter(Config{Tracer: src, DropRateThreshold: 0.2})
		r.RecordBatch(context.Background(), 10)
		h := r.Health()
		assert.Equal(t, HealthDegraded, h.State)
		assert.Contains(t, h.Message, "40.0%")
	})

	t.Run("messages lost", func(t *testing.T) {
		r := NewReporter(Config{})
		r.RecordBatch(context.Background(), 10)
		r.ReportError(domain.ErrMessageLost)
		assert.Equal(t, HealthDegraded, r.Health().State)
	})
}

func TestPrometheusCollector(t *testing.T) {
	src := &fakeSource{stats: tracer.Stats{Recorded: 100, DroppedBatches: 1, DroppedEvents: 20, Batches: 9}}
	r := NewReporter(Config{Name: "unit", Tracer: src})
	r.RecordBatch(context.Background(), 64)
	r.ReportError(domain.ErrConsumerTooSlow)

	c := NewCollector(r)
	assert.Equal(t, int(reasonCount)+8, testutil.CollectAndCount(c))

	expected := `
# HELP evtrace_events_dropped_total Events discarded with dropped registries
# TYPE evtrace_events_dropped_total counter
evtrace_events_dropped_total{tracer="unit"} 20
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "evtrace_events_dropped_total"))

	handler, _, err := Handler(r)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `evtrace_errors_total{reason="consumer_too_slow",tracer="unit"} 1`)
	assert.Contains(t, rec.Body.String(), `evtrace_healthy{tracer="unit"} 1`)
}
