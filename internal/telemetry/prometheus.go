package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes reporter and tracer counters to Prometheus.
type Collector struct {
	reporter *Reporter

	eventsConsumed  *prometheus.Desc
	batchesConsumed *prometheus.Desc
	errors          *prometheus.Desc
	recorded        *prometheus.Desc
	rejected        *prometheus.Desc
	droppedBatches  *prometheus.Desc
	droppedEvents   *prometheus.Desc
	lostMessages    *prometheus.Desc
	healthy         *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector reading r on every scrape.
func NewCollector(r *Reporter) *Collector {
	labels := prometheus.Labels{"tracer": r.Name()}
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("evtrace", "", name), help, variable, labels)
	}

	return &Collector{
		reporter:        r,
		eventsConsumed:  desc("events_consumed_total", "Events handed to the consumer"),
		batchesConsumed: desc("batches_consumed_total", "Registries drained by the consumer"),
		errors:          desc("errors_total", "Recoverable tracer errors", "reason"),
		recorded:        desc("events_recorded_total", "Events stored into a registry"),
		rejected:        desc("events_rejected_total", "Events older than the registry epoch"),
		droppedBatches:  desc("batches_dropped_total", "Registries discarded because the consumer was too slow"),
		droppedEvents:   desc("events_dropped_total", "Events discarded with dropped registries"),
		lostMessages:    desc("messages_lost_total", "Event messages replaced by the lost marker"),
		healthy:         desc("healthy", "1 when the tracing pipeline is healthy"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.eventsConsumed
	ch <- c.batchesConsumed
	ch <- c.errors
	ch <- c.recorded
	ch <- c.rejected
	ch <- c.droppedBatches
	ch <- c.droppedEvents
	ch <- c.lostMessages
	ch <- c.healthy
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	r := c.reporter
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}

	counter(c.eventsConsumed, float64(r.eventsConsumed.Load()))
	counter(c.batchesConsumed, float64(r.batchesConsumed.Load()))
	for i := range r.byReason {
		counter(c.errors, float64(r.byReason[i].Load()), Reason(i).String())
	}

	if r.source != nil {
		ts := r.source.Stats()
		counter(c.recorded, float64(ts.Recorded))
		counter(c.rejected, float64(ts.Rejected))
		counter(c.droppedBatches, float64(ts.DroppedBatches))
		counter(c.droppedEvents, float64(ts.DroppedEvents))
		counter(c.lostMessages, float64(ts.LostMessages))
	}

	healthy := 0.0
	if r.Health().State == HealthHealthy {
		healthy = 1
	}
	ch <- prometheus.MustNewConstMetric(c.healthy, prometheus.GaugeValue, healthy)
}

// Handler registers a collector for r in a fresh registry and returns the
// HTTP handler serving it.
func Handler(r *Reporter) (http.Handler, *prometheus.Registry, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(NewCollector(r)); err != nil {
		return nil, nil, err
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), registry, nil
}
