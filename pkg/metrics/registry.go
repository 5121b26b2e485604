// Package metrics owns the Prometheus registry and the /metrics endpoint.
//
// Collection is opt-in: call InitRegistry once at startup to enable it.
// Constructors return nil when the registry was never initialized, and every
// collector method is nil-safe, so disabled metrics cost nothing at the call
// sites.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Namespace prefixes every metric this process exports.
const Namespace = "arcadia"

var (
	mu       sync.Mutex
	registry *prometheus.Registry
)

// InitRegistry creates the process-wide registry with the standard Go and
// process collectors. Idempotent; returns the same registry on every call.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return registry
}

// GetRegistry returns the registry, nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return registry != nil
}
