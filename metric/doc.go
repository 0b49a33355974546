// Package metric provides the Prometheus registry and core metrics for GeoGate.
//
// NewMetricsRegistry creates a private prometheus.Registry with the gateway
// metrics (connections, dispatch, upstream, sweeper, events) and the Go
// runtime collectors. Components receive the *Metrics from CoreMetrics and
// call its Record methods; a nil *Metrics turns every call into a no-op, so
// tests and tools can run components without a registry.
//
// Component-owned collectors (the worker pool, for example) go through
// Register/Unregister, keyed by owner and name.
//
// The registry is exposed over HTTP by mounting Handler, which the
// stateless server does at /metrics:
//
//	reg := metric.NewMetricsRegistry()
//	router.Handle("/metrics", reg.Handler())
package metric
