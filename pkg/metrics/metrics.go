package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shardfs/pkg/fserrors"
)

// Collector captures operation counters, latencies and session gauges.
type Collector interface {
	// ObserveOp records one finished operation. component is "router" or
	// "node", node the storage node that served it.
	ObserveOp(component, op, node string, err error, d time.Duration)
	AddBytes(direction string, n int)
	SessionOpened()
	SessionClosed()
	// SourceFailed counts listing sources that contributed nothing
	// because of an error.
	SourceFailed(node string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) ObserveOp(string, string, string, error, time.Duration) {}
func (Nop) AddBytes(string, int)                                   {}
func (Nop) SessionOpened()                                         {}
func (Nop) SessionClosed()                                         {}
func (Nop) SourceFailed(string)                                    {}

// Prometheus is a Collector backed by its own registry.
type Prometheus struct {
	reg *prometheus.Registry

	opsTotal       *prometheus.CounterVec
	opDuration     *prometheus.HistogramVec
	bytesTotal     *prometheus.CounterVec
	sessionsActive prometheus.Gauge
	sourceFailures *prometheus.CounterVec
}

func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Prometheus{
		reg: reg,
		opsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shardfs_operations_total",
				Help: "Total number of file operations",
			},
			[]string{"component", "op", "node", "result"},
		),
		opDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shardfs_operation_duration_seconds",
				Help:    "File operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"component", "op", "node"},
		),
		bytesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shardfs_content_bytes_total",
				Help: "File content bytes moved, by direction",
			},
			[]string{"direction"},
		),
		sessionsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "shardfs_sessions_active",
				Help: "Number of open client sessions",
			},
		),
		sourceFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shardfs_listing_source_failures_total",
				Help: "Listing sources that failed and contributed no entries",
			},
			[]string{"node"},
		),
	}
}

func (p *Prometheus) ObserveOp(component, op, node string, err error, d time.Duration) {
	p.opsTotal.WithLabelValues(component, op, node, result(err)).Inc()
	p.opDuration.WithLabelValues(component, op, node).Observe(d.Seconds())
}

func (p *Prometheus) AddBytes(direction string, n int) {
	p.bytesTotal.WithLabelValues(direction).Add(float64(n))
}

func (p *Prometheus) SessionOpened() { p.sessionsActive.Inc() }
func (p *Prometheus) SessionClosed() { p.sessionsActive.Dec() }

func (p *Prometheus) SourceFailed(node string) {
	p.sourceFailures.WithLabelValues(node).Inc()
}

// Registry exposes the underlying registry, mostly for tests.
func (p *Prometheus) Registry() *prometheus.Registry { return p.reg }

// Handler returns the Prometheus metrics HTTP handler.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{Registry: p.reg})
}

// result labels an outcome by failure kind ("ok", "NotFound", ...).
func result(err error) string {
	if err == nil {
		return "ok"
	}
	return fserrors.KindOf(err).String()
}
