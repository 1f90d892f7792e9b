// Package metrics exposes pass statistics of reactor instances to
// Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/reactor/internal/reactor"
)

// DefaultDepthBuckets returns the default buckets of the pass depth
// histogram.
func DefaultDepthBuckets() []float64 {
	return []float64{1, 2, 3, 4, 5, 8, 13, 21, 34, 55, 100}
}

// Config configures the observer.
type Config struct {
	// Prefix is added to all metric names (default: "reactor").
	Prefix string

	// Buckets for the depth histogram. Default: DefaultDepthBuckets.
	Buckets []float64

	// Registry receives the collectors. Default: a private registry.
	Registry *prometheus.Registry
}

// Observer counts passes, updates, dispatches, service launches and soft
// errors per instance. It implements reactor.Observer and
// reactor.SoftErrorObserver.
type Observer struct {
	registry *prometheus.Registry

	passes     *prometheus.CounterVec
	loops      *prometheus.CounterVec
	updates    *prometheus.CounterVec
	skipped    *prometheus.CounterVec
	dispatched *prometheus.CounterVec
	services   *prometheus.CounterVec
	hacks      *prometheus.CounterVec
	softErrors *prometheus.CounterVec
	depth      *prometheus.HistogramVec
}

// New creates an observer and registers its collectors.
func New(cfg Config) *Observer {
	if cfg.Prefix == "" {
		cfg.Prefix = "reactor"
	}
	if cfg.Buckets == nil {
		cfg.Buckets = DefaultDepthBuckets()
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: cfg.Prefix + "_" + name,
			Help: help,
		}, labels)
	}

	o := &Observer{
		registry:   cfg.Registry,
		passes:     counter("passes_total", "Total number of passes run", "instance"),
		loops:      counter("loops_total", "Total number of top-level batches started", "instance", "emitter"),
		updates:    counter("updates_total", "Total number of accepted property writes", "instance", "property"),
		skipped:    counter("skipped_updates_total", "Total number of property writes found to be no-ops", "instance", "property"),
		dispatched: counter("events_dispatched_total", "Total number of events dispatched by passes", "instance", "event"),
		services:   counter("service_calls_total", "Total number of service calls launched", "instance", "service"),
		hacks:      counter("hacks_total", "Total number of hack executions", "instance"),
		softErrors: counter("soft_errors_total", "Total number of soft errors", "instance", "code"),
		depth: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    cfg.Prefix + "_pass_depth",
			Help:    "Depth of each pass within its loop",
			Buckets: cfg.Buckets,
		}, []string{"instance"}),
	}

	cfg.Registry.MustRegister(
		o.passes,
		o.loops,
		o.updates,
		o.skipped,
		o.dispatched,
		o.services,
		o.hacks,
		o.softErrors,
		o.depth,
	)
	return o
}

// PassCompleted implements reactor.Observer.
func (o *Observer) PassCompleted(rec reactor.PassRecord) {
	inst := rec.Instance
	o.passes.WithLabelValues(inst).Inc()
	o.depth.WithLabelValues(inst).Observe(float64(rec.Depth))
	if rec.Depth == 1 {
		o.loops.WithLabelValues(inst, emitterKind(rec.Emitter)).Inc()
	}
	for _, u := range rec.Updates {
		o.updates.WithLabelValues(inst, u.ID).Inc()
	}
	for _, id := range rec.Skipped {
		o.skipped.WithLabelValues(inst, id).Inc()
	}
	for _, ev := range rec.Dispatched {
		o.dispatched.WithLabelValues(inst, ev).Inc()
	}
	for _, svc := range rec.Services {
		o.services.WithLabelValues(inst, svc).Inc()
	}
	if rec.Hacks > 0 {
		o.hacks.WithLabelValues(inst).Add(float64(rec.Hacks))
	}
}

// SoftError implements reactor.SoftErrorObserver.
func (o *Observer) SoftError(instance string, err *reactor.RuntimeError) {
	o.softErrors.WithLabelValues(instance, string(err.Code)).Inc()
}

// Registry returns the registry holding the collectors.
func (o *Observer) Registry() *prometheus.Registry {
	return o.registry
}

// Handler returns an HTTP handler serving the registry.
func (o *Observer) Handler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})
}

// emitterKind keeps label cardinality bounded: "module:view" becomes
// "module".
func emitterKind(emitter string) string {
	for i := 0; i < len(emitter); i++ {
		if emitter[i] == ':' {
			return emitter[:i]
		}
	}
	return emitter
}

var (
	_ reactor.Observer          = (*Observer)(nil)
	_ reactor.SoftErrorObserver = (*Observer)(nil)
)
