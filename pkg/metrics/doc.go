/*
Package metrics exposes Prometheus instrumentation for hutch: event counters
by name class, the live channel gauge, heartbeat failures, and per-method
call counters and latency histograms.

Metrics register on the default registry at import time; serve them with:

	http.Handle("/metrics", metrics.Handler())
*/
package metrics
