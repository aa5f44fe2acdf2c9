// Package metrics provides optional Prometheus instrumentation for the
// credential core.
//
// Metrics are off by default. Call InitRegistry once at startup to enable
// them; the embedding application exposes the returned registry however it
// likes. When disabled every observe call is a nil check and nothing else.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.Mutex
	registry *prometheus.Registry

	fetchTotal    *prometheus.CounterVec
	cacheTotal    *prometheus.CounterVec
	callbackTotal *prometheus.CounterVec
)

// InitRegistry enables metrics collection. Safe to call more than once;
// later calls return the same registry.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	if registry != nil {
		return registry
	}
	registry = prometheus.NewRegistry()

	fetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nimbus_credential_fetches_total",
		Help: "Credential fetches by provider and outcome.",
	}, []string{"provider", "outcome"})

	cacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nimbus_credential_cache_lookups_total",
		Help: "Credential cache lookups by result.",
	}, []string{"result"})

	callbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nimbus_callback_results_total",
		Help: "Browser callback outcomes.",
	}, []string{"outcome"})

	registry.MustRegister(fetchTotal, cacheTotal, callbackTotal)
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return registry != nil
}

// ObserveFetch records a credential fetch outcome ("ok" or "error").
func ObserveFetch(provider, outcome string) {
	if c := fetchCounter(); c != nil {
		c.WithLabelValues(provider, outcome).Inc()
	}
}

// ObserveCacheLookup records a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	mu.Lock()
	c := cacheTotal
	mu.Unlock()
	if c == nil {
		return
	}
	if hit {
		c.WithLabelValues("hit").Inc()
	} else {
		c.WithLabelValues("miss").Inc()
	}
}

// ObserveCallback records a callback outcome ("ok", "rejected", "timeout").
func ObserveCallback(outcome string) {
	mu.Lock()
	c := callbackTotal
	mu.Unlock()
	if c != nil {
		c.WithLabelValues(outcome).Inc()
	}
}

func fetchCounter() *prometheus.CounterVec {
	mu.Lock()
	defer mu.Unlock()
	return fetchTotal
}
