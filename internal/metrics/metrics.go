// Package metrics exposes engine counters to Prometheus on a private
// registry, so nothing leaks in from the default global one.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"foldguard/internal/guard"
)

const namespace = "foldguard"

// Prometheus implements guard.Metrics.
type Prometheus struct {
	registry *prometheus.Registry

	operations *prometheus.CounterVec
	backups    *prometheus.HistogramVec
	queueDepth prometheus.Gauge
	dropped    prometheus.Counter
	evicted    prometheus.Counter
}

var _ guard.Metrics = (*Prometheus)(nil)

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Resolved operations by kind and resolution",
		}, []string{"kind", "resolution"}),
		backups: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backup_duration_seconds",
			Help:      "Time to snapshot the files of one operation",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"status"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Operations waiting for a worker",
		}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Advisory events dropped because the queue was full",
		}),
		evicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_evicted_total",
			Help:      "Snapshots removed by retention",
		}),
	}
}

func (p *Prometheus) ObserveResolution(kind guard.OperationKind, r guard.Resolution) {
	p.operations.WithLabelValues(string(kind), string(r)).Inc()
}

func (p *Prometheus) ObserveBackup(d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.backups.WithLabelValues(status).Observe(d.Seconds())
}

func (p *Prometheus) SetQueueDepth(n int) { p.queueDepth.Set(float64(n)) }
func (p *Prometheus) IncDropped()         { p.dropped.Inc() }
func (p *Prometheus) AddEvicted(n int)    { p.evicted.Add(float64(n)) }

// Registry returns the private registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
