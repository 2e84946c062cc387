// Package metrics exposes Prometheus collectors for calendar syncs and reminder delivery.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "calbot"

// Metrics groups the service's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	syncs            *prometheus.CounterVec
	syncDuration     prometheus.Histogram
	instancesWritten prometheus.Counter
	remindersPorted  prometheus.Counter
	queueLength      prometheus.Gauge
	dispatches       *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the collectors on reg and serves them from gatherer.
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,
		syncs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calendar_syncs_total",
			Help:      "Calendar sync attempts by result.",
		}, []string{"result"}),
		syncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "calendar_sync_duration_seconds",
			Help:      "Duration of calendar sync passes.",
			Buckets:   prometheus.DefBuckets,
		}),
		instancesWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_instances_written_total",
			Help:      "Event occurrences written by sync passes.",
		}),
		remindersPorted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_ported_total",
			Help:      "Reminders cloned onto replacement events.",
		}),
		queueLength: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reminder_queue_length",
			Help:      "Reminders waiting in the in-memory queue.",
		}),
		dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminder_dispatches_total",
			Help:      "Reminder deliveries by result.",
		}, []string{"result"}),
	}
}

// ObserveSync records one calendar sync attempt.
func (m *Metrics) ObserveSync(err error, took time.Duration, instances, ported int) {
	if m == nil {
		return
	}
	m.syncDuration.Observe(took.Seconds())
	if err != nil {
		m.syncs.WithLabelValues("error").Inc()
		return
	}
	m.syncs.WithLabelValues("success").Inc()
	m.instancesWritten.Add(float64(instances))
	m.remindersPorted.Add(float64(ported))
}

// SetQueueLength records the current queue size.
func (m *Metrics) SetQueueLength(n int) {
	if m == nil {
		return
	}
	m.queueLength.Set(float64(n))
}

// ObserveDispatch records one reminder delivery attempt.
func (m *Metrics) ObserveDispatch(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.dispatches.WithLabelValues("error").Inc()
		return
	}
	m.dispatches.WithLabelValues("success").Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
