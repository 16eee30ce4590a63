/*
metrics.go - Prometheus instrumentation for the engine

PURPOSE:
  One collector on a private registry. It satisfies the observer hooks the
  domain packages expose, so payaudit, travel and generic never import
  prometheus directly.

OBSERVER HOOKS:
  generic.LookupObserver    ObserveLookup(category, outcome)
  payaudit.AuditObserver    ObserveAudit(level, flagsBySeverity)
  travel.EstimateObserver   ObserveEstimate(level, total)
  events.DropObserver       EventDropped(name)

NIL SAFETY:
  All observe methods accept a nil *Collector so callers can leave
  metrics unconfigured.

SEE ALSO:
  - api/server.go: mounts Handler at /metrics
*/
package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garrison-ledger/entitlement-engine/generic"
)

const namespace = "entitlement_engine"

type Collector struct {
	registry *prometheus.Registry

	lookups        *prometheus.CounterVec
	audits         *prometheus.CounterVec
	flags          *prometheus.CounterVec
	estimates      *prometheus.CounterVec
	estimateTotals prometheus.Histogram
	eventsDropped  *prometheus.CounterVec

	logger *slog.Logger
}

func New(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_lookups_total",
			Help:      "Rate lookups by category and outcome (exact, approximate, missing, error)",
		}, []string{"category", "outcome"}),
		audits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audits_total",
			Help:      "Pay-statement audits computed, by confidence level",
		}, []string{"confidence"}),
		flags: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_flags_total",
			Help:      "Discrepancy flags raised, by severity",
		}, []string{"severity"}),
		estimates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "travel_estimates_total",
			Help:      "Travel entitlement estimates computed, by confidence level",
		}, []string{"confidence"}),
		estimateTotals: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "travel_estimate_total_cents",
			Help:      "Distribution of estimated travel entitlement totals in cents",
			Buckets:   []float64{10000, 50000, 100000, 250000, 500000, 1000000, 2500000},
		}),
		eventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Analytics events dropped because the dispatch buffer was full",
		}, []string{"event"}),
		logger: logger,
	}
}

func (c *Collector) ObserveLookup(category generic.Category, outcome string) {
	if c == nil {
		return
	}
	c.lookups.WithLabelValues(string(category), outcome).Inc()
}

func (c *Collector) ObserveAudit(level generic.Level, flagsBySeverity map[string]int) {
	if c == nil {
		return
	}
	c.audits.WithLabelValues(string(level)).Inc()
	for severity, n := range flagsBySeverity {
		c.flags.WithLabelValues(severity).Add(float64(n))
	}
}

func (c *Collector) ObserveEstimate(level generic.Level, total generic.Money) {
	if c == nil {
		return
	}
	c.estimates.WithLabelValues(string(level)).Inc()
	c.estimateTotals.Observe(float64(total))
}

func (c *Collector) EventDropped(name string) {
	if c == nil {
		return
	}
	c.eventsDropped.WithLabelValues(name).Inc()
	c.logger.Debug("analytics event dropped", slog.String("event", name))
}

// Registry exposes the private registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
