// Package prometheus exposes trustcore engine counters as a client_golang
// Collector.
//
// [Exporter] reads a fresh snapshot on every scrape. Counters are named
// trustcore_*_total and the single histogram is
// trustcore_validate_latency_seconds. Nothing is registered globally;
// callers register the collector or mount [Exporter.Handler].
package prometheus
