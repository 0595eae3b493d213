// Package otel publishes trustcore engine counters through OpenTelemetry
// observable instruments.
//
// Instruments are created on the supplied meter and observed in a single
// callback, so no background goroutine is started. Histogram buckets are
// exposed as cumulative gauges named <histogram>_bucket_le_<bound>.
package otel
