// Package telemetry exports engine lifecycle events as Prometheus metrics.
// Collector implements the engine's Listener interface; register it with
// the orchestrator and mount Handler on an HTTP mux.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"arbiter/internal/circuit"
	"arbiter/internal/engine"
)

// Collector counts engine events. Callbacks run on the notifier's dispatch
// goroutine; Prometheus counters are safe there.
type Collector struct {
	registry *prometheus.Registry

	rulesRegistered    prometheus.Counter
	txCommitted        prometheus.Counter
	txRolledBack       prometheus.Counter
	deadlocks          prometheus.Counter
	circuitTransitions *prometheus.CounterVec
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
}

var _ engine.Listener = (*Collector)(nil)

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		rulesRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_rules_registered_total",
			Help: "Rules registered in the catalog.",
		}),
		txCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_transactions_committed_total",
			Help: "Transactions committed.",
		}),
		txRolledBack: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_transactions_rolled_back_total",
			Help: "Transactions rolled back, forced rollbacks included.",
		}),
		deadlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_deadlocks_resolved_total",
			Help: "Deadlock cycles detected and broken.",
		}),
		circuitTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_circuit_transitions_total",
			Help: "Circuit breaker state transitions.",
		}, []string{"breaker", "to"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_validation_cache_hits_total",
			Help: "Validation outcomes served from cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_validation_cache_misses_total",
			Help: "Validation outcomes recomputed.",
		}),
	}

	c.registry.MustRegister(
		c.rulesRegistered,
		c.txCommitted,
		c.txRolledBack,
		c.deadlocks,
		c.circuitTransitions,
		c.cacheHits,
		c.cacheMisses,
	)
	return c
}

// Registry exposes the underlying registry for additional collectors.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler returns the scrape endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RuleRegistered implements engine.Listener.
func (c *Collector) RuleRegistered(string) { c.rulesRegistered.Inc() }

// TransactionCommitted implements engine.Listener.
func (c *Collector) TransactionCommitted(string) { c.txCommitted.Inc() }

// TransactionRolledBack implements engine.Listener.
func (c *Collector) TransactionRolledBack(string) { c.txRolledBack.Inc() }

// DeadlockDetected implements engine.Listener.
func (c *Collector) DeadlockDetected([]string, string) { c.deadlocks.Inc() }

// CircuitStateChanged implements engine.Listener.
func (c *Collector) CircuitStateChanged(name string, _, to circuit.State) {
	c.circuitTransitions.WithLabelValues(name, string(to)).Inc()
}

// CacheHit implements engine.Listener.
func (c *Collector) CacheHit(engine.CacheKey) { c.cacheHits.Inc() }

// CacheMiss implements engine.Listener.
func (c *Collector) CacheMiss(engine.CacheKey) { c.cacheMisses.Inc() }
