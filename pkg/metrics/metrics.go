// Package metrics exposes resolution statistics as prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openconfig/aft-resolver/pkg/rib"
)

const namespace = "aft_resolver"

// Resolver records every resolution pass of the RIB. It implements
// rib.ResolveObserver.
type Resolver struct {
	registry *prometheus.Registry

	passes       prometheus.Counter
	resolved     prometheus.Counter
	unresolved   prometheus.Counter
	cycles       prometheus.Counter
	passDuration prometheus.Histogram
	routes       *prometheus.GaugeVec
}

var _ rib.ResolveObserver = (*Resolver)(nil)

// NewResolver creates the resolver metrics on a fresh registry that also
// carries the Go runtime and process collectors.
func NewResolver() *Resolver {
	r := &Resolver{
		registry: prometheus.NewRegistry(),
		passes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_passes_total",
			Help:      "Number of resolution passes run.",
		}),
		resolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routes_resolved_total",
			Help:      "Routes that ended a pass resolved.",
		}),
		unresolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routes_unresolved_total",
			Help:      "Routes that ended a pass unresolved.",
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_cycles_total",
			Help:      "Recursive lookups cut short by a resolution cycle.",
		}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_pass_duration_seconds",
			Help:      "Duration of a resolution pass.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		routes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "routes",
			Help:      "Routes in the RIB per address family.",
		}, []string{"family"}),
	}
	r.registry.MustRegister(
		r.passes,
		r.resolved,
		r.unresolved,
		r.cycles,
		r.passDuration,
		r.routes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObservePass implements rib.ResolveObserver.
func (r *Resolver) ObservePass(stats rib.ResolveStats) {
	r.passes.Inc()
	r.resolved.Add(float64(stats.Resolved))
	r.unresolved.Add(float64(stats.Unresolved))
	r.cycles.Add(float64(stats.Cycles))
	r.passDuration.Observe(stats.Duration.Seconds())
}

// ObserveRoutes implements rib.ResolveObserver.
func (r *Resolver) ObserveRoutes(family string, count int) {
	r.routes.WithLabelValues(family).Set(float64(count))
}

// Handler serves the registry in the prometheus exposition format.
func (r *Resolver) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
